package transit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BrunoAFK/ZagrebTransit/internal/feedstore"
	"github.com/BrunoAFK/ZagrebTransit/internal/logging"
	"github.com/BrunoAFK/ZagrebTransit/internal/realtime"
)

// Integration statuses reported by the manager.
const (
	IntegrationOK       = "ok"
	IntegrationDegraded = "degraded"
)

const maxRealtimeBackoffMultiplier = 8

// ManagerConfig wires a Manager to its collaborators and refresh cadence.
type ManagerConfig struct {
	Store                   *feedstore.Store
	Realtime                *realtime.Client
	StaticRefreshInterval   time.Duration
	RealtimeRefreshInterval time.Duration
	Logger                  *slog.Logger
}

// Status is the observable snapshot callers poll instead of crashing on a
// failed refresh: a degraded manager keeps serving the last-known-good index.
type Status struct {
	Status                    string                   `json:"status"`
	Error                     string                   `json:"error,omitempty"`
	FeedVersion               string                   `json:"feed_version"`
	FeedValidFrom             string                   `json:"feed_valid_from,omitempty"`
	FeedValidTo               string                   `json:"feed_valid_to,omitempty"`
	FeedSource                string                   `json:"feed_source"`
	RealtimeStatus            string                   `json:"realtime_status"`
	RealtimeLastTimestamp     *time.Time               `json:"realtime_last_timestamp"`
	RealtimeBackoffMultiplier int                      `json:"realtime_backoff_multiplier"`
	LastRealtimeRecoveryAt    string                   `json:"last_realtime_recovery_at,omitempty"`
	Routes                    int                      `json:"routes"`
	Stops                     int                      `json:"stops"`
	Trips                     int                      `json:"trips"`
	Selection                 feedstore.SelectionDebug `json:"selection_debug"`
}

// Manager drives the refresh lifecycle and owns the current index
// generation. Refresh methods are idempotent no-ops inside their configured
// interval unless forced, and are serialized internally, so they stay safe
// to call directly while the background tickers run.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	// refreshMu serializes the refresh entry points; mu guards the fields
	// the refreshes publish for readers.
	refreshMu sync.Mutex

	mu         sync.RWMutex
	index      *Index
	activeFeed *feedstore.FeedMeta
	feedSource string
	status     string
	errMsg     string

	lastStaticRefresh    time.Time
	lastRealtimeRefresh  time.Time
	realtimeBackoff      int
	lastRealtimeRecovery time.Time

	shutdownChan chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewManager builds a Manager; call RefreshStatic to load the first feed.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:             cfg,
		logger:          cfg.Logger.With(slog.String("component", "transit_manager")),
		feedSource:      feedstore.SourceNone,
		status:          IntegrationDegraded,
		realtimeBackoff: 1,
		shutdownChan:    make(chan struct{}),
	}
}

// RefreshStatic selects today's authoritative feed and rebuilds the index.
// Inside the refresh interval it is a no-op unless forced.
func (m *Manager) RefreshStatic(ctx context.Context, force bool) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	return m.refreshStatic(ctx, force)
}

func (m *Manager) refreshStatic(ctx context.Context, force bool) error {
	now := time.Now()
	if !force && !m.lastStaticRefresh.IsZero() &&
		now.Sub(m.lastStaticRefresh) < m.cfg.StaticRefreshInterval {
		return nil
	}

	latestMeta, err := m.cfg.Store.RefreshLatest(ctx)
	if err != nil {
		m.logger.Warn("static feed refresh failed, trying cached feed fallback",
			slog.String("error", err.Error()))
	}

	selected, source, status := m.cfg.Store.GetActiveFeed(ctx, now, latestMeta)

	m.mu.Lock()
	m.feedSource = source
	m.status = status
	if selected == nil {
		m.activeFeed = nil
		m.index = nil
		m.errMsg = "No valid GTFS feed available"
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	payload, err := m.cfg.Store.LoadFeedBytes(selected)
	if err != nil {
		logging.LogError(m.logger, "loading cached feed bytes failed", err,
			slog.String("version", selected.Version))
		return err
	}
	index, err := NewIndex(payload)
	if err != nil {
		logging.LogError(m.logger, "building transit index failed", err,
			slog.String("version", selected.Version))
		return err
	}

	m.mu.Lock()
	m.activeFeed = selected
	m.index = index
	m.errMsg = ""
	m.lastStaticRefresh = now
	m.mu.Unlock()

	m.syncIntegrationStatus(now)

	routes, stops, trips := index.Counts()
	logging.LogOperation(m.logger, "static_feed_refreshed",
		slog.String("version", selected.Version),
		slog.String("source", source),
		slog.Int("routes", routes),
		slog.Int("stops", stops),
		slog.Int("trips", trips))
	return nil
}

// RefreshRealtime refreshes the delay map. Failed refreshes widen the
// effective interval (x2 up to x8) until the next success.
func (m *Manager) RefreshRealtime(ctx context.Context, force bool) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	now := time.Now()
	m.mu.RLock()
	effective := m.cfg.RealtimeRefreshInterval * time.Duration(m.realtimeBackoff)
	last := m.lastRealtimeRefresh
	m.mu.RUnlock()

	if !force && !last.IsZero() && now.Sub(last) < effective {
		return
	}

	result := m.cfg.Realtime.Refresh(ctx)

	m.mu.Lock()
	if result.Status == realtime.StatusOK {
		m.realtimeBackoff = 1
		if m.activeFeed != nil && m.activeFeed.IsValidFor(now) {
			m.status = IntegrationOK
			m.lastRealtimeRecovery = now
		}
		m.lastRealtimeRefresh = now
		m.mu.Unlock()
		return
	}
	m.realtimeBackoff = min(m.realtimeBackoff*2, maxRealtimeBackoffMultiplier)
	m.lastRealtimeRefresh = now
	m.mu.Unlock()

	m.syncIntegrationStatus(now)
}

// RebuildIndexes rebuilds the in-memory index from the active feed without
// hitting the network; with no active feed it falls back to a forced static
// refresh.
func (m *Manager) RebuildIndexes(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.RLock()
	active := m.activeFeed
	m.mu.RUnlock()

	if active == nil {
		return m.refreshStatic(ctx, true)
	}

	payload, err := m.cfg.Store.LoadFeedBytes(active)
	if err != nil {
		return err
	}
	index, err := NewIndex(payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.index = index
	m.mu.Unlock()
	return nil
}

// ForceSelectFeed activates a locally cached feed version, bypassing date
// validity. Returns false when the version is not cached.
func (m *Manager) ForceSelectFeed(ctx context.Context, version string) (bool, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	meta, err := m.cfg.Store.ForceSelect(version)
	if err != nil || meta == nil {
		return false, err
	}

	payload, err := m.cfg.Store.LoadFeedBytes(meta)
	if err != nil {
		return false, err
	}
	index, err := NewIndex(payload)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.activeFeed = meta
	m.feedSource = feedstore.SourceForced
	m.index = index
	m.mu.Unlock()
	return true, nil
}

// ValidateActiveFeed re-evaluates the integration status against now.
func (m *Manager) ValidateActiveFeed(now time.Time) {
	m.syncIntegrationStatus(now)
}

func (m *Manager) syncIntegrationStatus(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	const noFeed = "No active feed"
	const outsideRange = "Active feed is outside valid date range"

	switch {
	case m.activeFeed == nil:
		m.status = IntegrationDegraded
		m.errMsg = noFeed
	case !m.activeFeed.IsValidFor(now):
		m.status = IntegrationDegraded
		m.errMsg = outsideRange
	default:
		m.status = IntegrationOK
		if m.errMsg == noFeed || m.errMsg == outsideRange {
			m.errMsg = ""
		}
	}
}

// Index returns the current index generation, nil before the first
// successful static refresh.
func (m *Manager) Index() *Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index
}

// ActiveFeed returns the currently selected feed metadata.
func (m *Manager) ActiveFeed() *feedstore.FeedMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeFeed
}

// Delays returns the current trip delay overlay.
func (m *Manager) Delays() map[string]int {
	return m.cfg.Realtime.Last().TripDelays
}

// Snapshot assembles the observable status for callers.
func (m *Manager) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rt := m.cfg.Realtime.Last()
	out := Status{
		Status:                    m.status,
		Error:                     m.errMsg,
		FeedVersion:               "none",
		FeedSource:                m.feedSource,
		RealtimeStatus:            rt.Status,
		RealtimeLastTimestamp:     rt.LastTimestamp,
		RealtimeBackoffMultiplier: m.realtimeBackoff,
		Selection:                 m.cfg.Store.SelectionSnapshot(),
	}
	if !m.lastRealtimeRecovery.IsZero() {
		out.LastRealtimeRecoveryAt = m.lastRealtimeRecovery.Format(time.RFC3339)
	}
	if m.activeFeed != nil {
		out.FeedVersion = m.activeFeed.Version
		if m.activeFeed.StartDate != nil {
			out.FeedValidFrom = m.activeFeed.StartDate.Format("2006-01-02")
		}
		if m.activeFeed.EndDate != nil {
			out.FeedValidTo = m.activeFeed.EndDate.Format("2006-01-02")
		}
	}
	if m.index != nil {
		out.Routes, out.Stops, out.Trips = m.index.Counts()
	}
	return out
}

// Start launches the background refresh tickers.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.refreshStaticPeriodically()

	m.wg.Add(1)
	go m.refreshRealtimePeriodically()
}

// Shutdown stops the background goroutines and waits for them.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownChan)
		m.wg.Wait()
	})
}

func (m *Manager) refreshStaticPeriodically() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.StaticRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.RefreshStatic(context.Background(), false); err != nil {
				logging.LogError(m.logger, "periodic static refresh failed", err)
			}
		case <-m.shutdownChan:
			logging.LogOperation(m.logger, "shutting_down_static_updates")
			return
		}
	}
}

func (m *Manager) refreshRealtimePeriodically() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.RealtimeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.RefreshRealtime(context.Background(), false)
		case <-m.shutdownChan:
			logging.LogOperation(m.logger, "shutting_down_realtime_updates")
			return
		}
	}
}
