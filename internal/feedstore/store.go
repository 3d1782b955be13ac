// Package feedstore downloads, caches and selects static schedule feeds.
//
// Cached archives are content-addressed by their sanitized feed version (or a
// short payload hash when the feed declares none) and carry a small JSON
// metadata sidecar next to each zip. Selecting "today's" feed walks a strict
// fallback ladder; see Store.GetActiveFeed.
package feedstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BrunoAFK/ZagrebTransit/internal/gtfszip"
	"github.com/BrunoAFK/ZagrebTransit/internal/logging"
)

// Feed provenance tags.
const (
	SourceLatest          = "latest"
	SourceForced          = "forced"
	SourceVersionPrevious = "version_previous"
	SourceListingPrevious = "listing_previous"
	SourceFallbackLocal   = "fallback_local"
	SourceNone            = "none"
)

// Selection status tags.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

const (
	staticFetchTimeout  = 60 * time.Second
	listingFetchTimeout = 30 * time.Second
)

// Options configures a Store. Zero limits fall back to the defaults the
// original deployment uses.
type Options struct {
	BaseDir                 string
	StaticFeedURL           string
	ListingURLs             []string
	FeedPathSegment         string // listing path segment recognized as a feed, e.g. "gtfs-scheduled"
	MaxCachedFeeds          int
	MaxListingCandidates    int
	MaxPreviousVersionTries int
}

func (o *Options) applyDefaults() {
	if o.FeedPathSegment == "" {
		o.FeedPathSegment = "gtfs-scheduled"
	}
	if o.MaxCachedFeeds <= 0 {
		o.MaxCachedFeeds = 8
	}
	if o.MaxListingCandidates <= 0 {
		o.MaxListingCandidates = 5
	}
	if o.MaxPreviousVersionTries <= 0 {
		o.MaxPreviousVersionTries = 5
	}
}

// SelectionDebug records what the last selection run tried and chose.
type SelectionDebug struct {
	Today             string   `json:"today"`
	LatestVersion     string   `json:"latest_version"`
	LatestValidRange  string   `json:"latest_valid_range"`
	ListingCandidates []string `json:"listing_candidates"`
	TriedListingURLs  []string `json:"tried_listing_urls"`
	TriedVersionURLs  []string `json:"tried_version_urls"`
	SelectedStrategy  string   `json:"selected_strategy"`
	ListingAttempts   int      `json:"listing_attempts"`
	VersionAttempts   int      `json:"version_attempts"`
}

type selectionState struct {
	ActiveVersion string `json:"active_version"`
	Status        string `json:"status"`
}

// Store manages static feed download, caching and active feed selection.
// Callers must serialize refreshes (one periodic driver); the selection debug
// record and directory bootstrap are locked internally so SelectionSnapshot
// stays safe to call while a refresh runs.
type Store struct {
	opts      Options
	client    *http.Client
	logger    *slog.Logger
	feedsDir  string
	statePath string

	mu        sync.Mutex
	dirsReady bool
	debug     SelectionDebug
}

// SelectionSnapshot returns a copy of the last selection run's debug record.
func (s *Store) SelectionSnapshot() SelectionDebug {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.debug
	out.ListingCandidates = slices.Clone(s.debug.ListingCandidates)
	out.TriedListingURLs = slices.Clone(s.debug.TriedListingURLs)
	out.TriedVersionURLs = slices.Clone(s.debug.TriedVersionURLs)
	return out
}

// New builds a Store rooted at opts.BaseDir. A nil client uses
// http.DefaultClient; timeouts are applied per request.
func New(opts Options, client *http.Client, logger *slog.Logger) *Store {
	opts.applyDefaults()
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		opts:      opts,
		client:    client,
		logger:    logger.With(slog.String("component", "feedstore")),
		feedsDir:  filepath.Join(opts.BaseDir, "feeds"),
		statePath: filepath.Join(opts.BaseDir, "state.json"),
	}
}

// RefreshLatest downloads the current feed and caches it locally.
func (s *Store) RefreshLatest(ctx context.Context) (*FeedMeta, error) {
	return s.RefreshFromURL(ctx, s.opts.StaticFeedURL, SourceLatest)
}

// RefreshFromURL downloads a feed from an arbitrary URL and caches it. When
// the content-addressed target files already exist the cached metadata is
// returned without rewriting anything.
func (s *Store) RefreshFromURL(ctx context.Context, feedURL, source string) (*FeedMeta, error) {
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}

	s.logger.Debug("downloading static feed", slog.String("url", feedURL))
	payload, err := s.fetch(ctx, feedURL, staticFetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("downloading feed %s: %w", feedURL, err)
	}

	digest := sha256.Sum256(payload)
	feedInfo, err := gtfszip.FeedInfo(payload)
	if err != nil {
		return nil, fmt.Errorf("reading feed info from %s: %w", feedURL, err)
	}

	versionRaw := feedInfo["feed_version"]
	if versionRaw == "" {
		versionRaw = "hash_" + hex.EncodeToString(digest[:])[:12]
	}
	version := safeVersion(versionRaw)

	zipPath := filepath.Join(s.feedsDir, version+".zip")
	metaPath := filepath.Join(s.feedsDir, version+".json")
	if cached := s.loadCachedMetaIfPresent(zipPath, metaPath); cached != nil {
		return cached, nil
	}

	if err := os.WriteFile(zipPath, payload, 0o644); err != nil {
		return nil, fmt.Errorf("writing feed archive: %w", err)
	}

	meta := &FeedMeta{
		Version:      version,
		StartDate:    parseFeedDate(feedInfo["feed_start_date"]),
		EndDate:      parseFeedDate(feedInfo["feed_end_date"]),
		FilePath:     zipPath,
		Source:       source,
		DownloadedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeJSON(metaPath, meta); err != nil {
		return nil, fmt.Errorf("writing feed metadata: %w", err)
	}

	if err := s.PruneOldFeeds(s.opts.MaxCachedFeeds); err != nil {
		s.logger.Warn("pruning cached feeds failed", slog.String("error", err.Error()))
	}
	return meta, nil
}

// RefreshPreviousFromVersion derives sibling URLs by decrementing a purely
// numeric latest version and returns the first candidate valid for today.
func (s *Store) RefreshPreviousFromVersion(ctx context.Context, latestVersion string, today time.Time) *FeedMeta {
	if err := s.ensureDirs(); err != nil {
		return nil
	}
	if !isDigits(latestVersion) {
		return nil
	}

	width := len(latestVersion)
	current, err := strconv.Atoi(latestVersion)
	if err != nil {
		return nil
	}
	base := s.opts.StaticFeedURL
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[:idx]
	}

	attempts := 0
	for offset := 1; offset <= s.opts.MaxPreviousVersionTries; offset++ {
		candidate := current - offset
		if candidate <= 0 {
			break
		}
		attempts++
		candidateURL := fmt.Sprintf("%s/%0*d", base, width, candidate)
		s.mu.Lock()
		s.debug.TriedVersionURLs = append(s.debug.TriedVersionURLs, candidateURL)
		s.mu.Unlock()

		meta, err := s.RefreshFromURL(ctx, candidateURL, SourceVersionPrevious)
		if err != nil {
			s.logger.Debug("previous version candidate failed",
				slog.String("url", candidateURL), slog.String("error", err.Error()))
			continue
		}

		if meta.IsValidFor(today) {
			s.logger.Info("using previous version candidate",
				slog.String("version", meta.Version),
				slog.String("today", today.Format(dateLayout)))
			s.mu.Lock()
			s.debug.SelectedStrategy = SourceVersionPrevious
			s.debug.VersionAttempts = attempts
			s.mu.Unlock()
			return meta
		}
		s.logger.Warn("previous version candidate not valid for today",
			slog.String("version", meta.Version),
			slog.String("range", meta.ValidRange()))
	}

	s.mu.Lock()
	s.debug.VersionAttempts = attempts
	s.mu.Unlock()
	return nil
}

// RefreshPreviousFromListing scrapes the listing pages for archived feed
// links and downloads the best candidate valid for today. Requires at least
// two unique candidates since the first is equivalent to "latest".
func (s *Store) RefreshPreviousFromListing(ctx context.Context, today time.Time) *FeedMeta {
	if err := s.ensureDirs(); err != nil {
		return nil
	}

	var allCandidates []string
	seen := map[string]struct{}{}
	for _, pageURL := range s.opts.ListingURLs {
		html, err := s.fetch(ctx, pageURL, listingFetchTimeout)
		if err != nil {
			s.logger.Warn("failed to load feed listing page",
				slog.String("url", pageURL), slog.String("error", err.Error()))
			continue
		}
		for _, candidate := range s.extractListingCandidates(string(html), pageURL) {
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			allCandidates = append(allCandidates, candidate)
		}
	}

	s.mu.Lock()
	s.debug.ListingCandidates = allCandidates
	s.mu.Unlock()
	if len(allCandidates) < 2 {
		s.logger.Warn("feed listing fallback found less than 2 candidates",
			slog.Int("count", len(allCandidates)))
		return nil
	}

	var validMetas []*FeedMeta
	attempts := 0
	for _, fallbackURL := range allCandidates[1:] {
		if attempts >= s.opts.MaxListingCandidates {
			break
		}
		attempts++
		s.mu.Lock()
		s.debug.TriedListingURLs = append(s.debug.TriedListingURLs, fallbackURL)
		s.mu.Unlock()
		s.logger.Info("trying listing fallback feed", slog.String("url", fallbackURL))

		meta, err := s.RefreshFromURL(ctx, fallbackURL, SourceListingPrevious)
		if err != nil {
			s.logger.Warn("failed downloading listing fallback feed",
				slog.String("url", fallbackURL), slog.String("error", err.Error()))
			continue
		}
		if meta.IsValidFor(today) {
			validMetas = append(validMetas, meta)
			continue
		}
		s.logger.Warn("listing fallback candidate not valid for today",
			slog.String("version", meta.Version),
			slog.String("range", meta.ValidRange()))
	}

	s.mu.Lock()
	s.debug.ListingAttempts = attempts
	s.mu.Unlock()
	if len(validMetas) == 0 {
		return nil
	}

	best := validMetas[0]
	for _, meta := range validMetas[1:] {
		if rankLess(rankOf(best), rankOf(meta)) {
			best = meta
		}
	}
	s.mu.Lock()
	s.debug.SelectedStrategy = SourceListingPrevious
	s.mu.Unlock()
	return best
}

// ListCachedFeeds returns cached feed metadata sorted newest first.
func (s *Store) ListCachedFeeds() ([]*FeedMeta, error) {
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}
	metaFiles, err := filepath.Glob(filepath.Join(s.feedsDir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(metaFiles)

	var feeds []*FeedMeta
	for _, metaFile := range metaFiles {
		raw, err := os.ReadFile(metaFile)
		if err != nil {
			s.logger.Warn("failed loading feed meta",
				slog.String("path", metaFile), slog.String("error", err.Error()))
			continue
		}
		var meta FeedMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			s.logger.Warn("failed parsing feed meta",
				slog.String("path", metaFile), slog.String("error", err.Error()))
			continue
		}
		feeds = append(feeds, &meta)
	}

	sort.SliceStable(feeds, func(i, j int) bool {
		return rankLess(rankOf(feeds[j]), rankOf(feeds[i]))
	})
	return feeds, nil
}

// GetActiveFeed selects the feed authoritative for today, walking the
// fallback ladder: latest, derived previous version, listing scrape, valid
// local cache, then last-activated degraded state. Returns the selected
// metadata (nil if none), the provenance tag and the status tag.
func (s *Store) GetActiveFeed(ctx context.Context, today time.Time, latestMeta *FeedMeta) (*FeedMeta, string, string) {
	s.mu.Lock()
	s.debug = SelectionDebug{
		Today:            today.Format(dateLayout),
		SelectedStrategy: SourceNone,
	}
	if latestMeta != nil {
		s.debug.LatestVersion = latestMeta.Version
		s.debug.LatestValidRange = latestMeta.ValidRange()
	}
	s.mu.Unlock()

	if latestMeta != nil && latestMeta.IsValidFor(today) {
		s.setSelectedStrategy(SourceLatest)
		s.saveState(selectionState{ActiveVersion: latestMeta.Version, Status: StatusOK})
		return latestMeta, SourceLatest, StatusOK
	}

	if latestMeta != nil {
		s.logger.Warn("latest feed is not valid for today",
			slog.String("today", today.Format(dateLayout)),
			slog.String("latest", latestMeta.Version),
			slog.String("range", latestMeta.ValidRange()))

		if meta := s.RefreshPreviousFromVersion(ctx, latestMeta.Version, today); meta != nil {
			s.saveState(selectionState{ActiveVersion: meta.Version, Status: SourceVersionPrevious})
			return meta, SourceVersionPrevious, StatusOK
		}
	} else {
		s.logger.Warn("latest feed unavailable, trying listing fallback")
	}

	if meta := s.RefreshPreviousFromListing(ctx, today); meta != nil {
		s.saveState(selectionState{ActiveVersion: meta.Version, Status: SourceListingPrevious})
		return meta, SourceListingPrevious, StatusOK
	}

	cached, err := s.ListCachedFeeds()
	if err != nil {
		s.logger.Warn("listing cached feeds failed", slog.String("error", err.Error()))
	}
	for _, meta := range cached {
		if meta.IsValidFor(today) {
			s.setSelectedStrategy(SourceFallbackLocal)
			s.saveState(selectionState{ActiveVersion: meta.Version, Status: SourceFallbackLocal})
			return meta, SourceFallbackLocal, StatusOK
		}
	}

	// Degraded: reuse whatever was last active even if not date-valid.
	state := s.loadState()
	if state.ActiveVersion != "" {
		for _, meta := range cached {
			if meta.Version == state.ActiveVersion {
				s.setSelectedStrategy(SourceFallbackLocal + "_degraded")
				return meta, SourceFallbackLocal, StatusDegraded
			}
		}
	}

	s.setSelectedStrategy(SourceNone)
	return nil, SourceNone, StatusDegraded
}

func (s *Store) setSelectedStrategy(strategy string) {
	s.mu.Lock()
	s.debug.SelectedStrategy = strategy
	s.mu.Unlock()
}

// ForceSelect marks a locally cached version as active.
func (s *Store) ForceSelect(version string) (*FeedMeta, error) {
	cached, err := s.ListCachedFeeds()
	if err != nil {
		return nil, err
	}
	for _, meta := range cached {
		if meta.Version == version {
			s.saveState(selectionState{ActiveVersion: meta.Version, Status: SourceForced})
			return meta, nil
		}
	}
	return nil, nil
}

// LoadFeedBytes reads the cached zip for a selected feed.
func (s *Store) LoadFeedBytes(meta *FeedMeta) ([]byte, error) {
	return os.ReadFile(meta.FilePath)
}

// PruneOldFeeds deletes cached feeds beyond the retention count, ranked
// newest first, always keeping at least one.
func (s *Store) PruneOldFeeds(keep int) error {
	cached, err := s.ListCachedFeeds()
	if err != nil {
		return err
	}
	if keep < 1 {
		keep = 1
	}
	if len(cached) <= keep {
		return nil
	}
	for _, meta := range cached[keep:] {
		zipPath := meta.FilePath
		metaPath := strings.TrimSuffix(zipPath, filepath.Ext(zipPath)) + ".json"
		for _, path := range []string{zipPath, metaPath} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed pruning cached feed",
					slog.String("path", path), slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

func (s *Store) fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(resp.Body, s.logger, "http_response_body")

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(resp.Body)
}

var hrefPattern = regexp.MustCompile(`(?i)href=["']([^"']+)["']`)

// extractListingCandidates pulls feed-looking hrefs out of a listing page,
// preserving order and deduplicating.
func (s *Store) extractListingCandidates(html, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var out []string
	seen := map[string]struct{}{}
	for _, match := range hrefPattern.FindAllStringSubmatch(html, -1) {
		ref, err := url.Parse(match[1])
		if err != nil {
			continue
		}
		full := base.ResolveReference(ref).String()
		if !s.isFeedCandidate(full) {
			continue
		}
		if _, ok := seen[full]; ok {
			continue
		}
		seen[full] = struct{}{}
		out = append(out, full)
	}
	return out
}

// isFeedCandidate reports whether a URL looks like a downloadable feed: the
// latest alias, a .zip file, or a versioned path under the feed segment.
func (s *Store) isFeedCandidate(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(parsed.Path)
	segment := "/" + s.opts.FeedPathSegment + "/"

	if strings.Contains(path, segment+"latest") {
		return true
	}
	if strings.HasSuffix(path, ".zip") {
		return true
	}
	// Feeds are often exposed as /<segment>/<version> without a .zip suffix.
	if idx := strings.Index(path, segment); idx >= 0 {
		tail := strings.Trim(path[idx+len(segment):], "/")
		if tail != "" && tail != "latest" {
			return true
		}
	}
	return false
}

func (s *Store) loadCachedMetaIfPresent(zipPath, metaPath string) *FeedMeta {
	if _, err := os.Stat(zipPath); err != nil {
		return nil
	}
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil
	}
	var meta FeedMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		s.logger.Warn("failed loading cached feed meta",
			slog.String("path", metaPath), slog.String("error", err.Error()))
		return nil
	}
	if meta.FilePath == "" {
		meta.FilePath = zipPath
	}
	return &meta
}

func (s *Store) loadState() selectionState {
	var state selectionState
	raw, err := os.ReadFile(s.statePath)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return selectionState{}
	}
	return state
}

func (s *Store) saveState(state selectionState) {
	if err := s.ensureDirs(); err != nil {
		return
	}
	if err := writeJSON(s.statePath, state); err != nil {
		s.logger.Warn("failed saving selection state", slog.String("error", err.Error()))
	}
}

func (s *Store) ensureDirs() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirsReady {
		return nil
	}
	if err := os.MkdirAll(s.feedsDir, 0o755); err != nil {
		return fmt.Errorf("creating feed cache directories: %w", err)
	}
	s.dirsReady = true
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
