// Package realtime fetches the GTFS-RT trip update feed and reduces it to a
// per-trip delay map overlaid on scheduled times by the query engine.
package realtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/BrunoAFK/ZagrebTransit/internal/logging"
)

// Refresh outcome statuses. StatusStale only describes the initial state
// before any fetch attempt has completed.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusStale = "stale"
)

const (
	fetchTimeout = 30 * time.Second

	// DefaultMaxStale is how long a previously fetched delay map survives
	// fetch failures before being cleared.
	DefaultMaxStale = 300 * time.Second
)

// Result is the normalized outcome of the most recent refresh.
type Result struct {
	Status        string         `json:"status"`
	LastTimestamp *time.Time     `json:"last_timestamp"`
	TripDelays    map[string]int `json:"trip_delays"`
	Err           string         `json:"error,omitempty"`
}

// Client fetches and decodes the realtime feed. Refresh replaces the delay
// map wholesale; no partial merges.
type Client struct {
	url        string
	maxStale   time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	lastSuccess time.Time
	last        Result
}

// New builds a Client for the given feed URL. A nil httpClient uses
// http.DefaultClient; maxStale <= 0 uses DefaultMaxStale.
func New(url string, maxStale time.Duration, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if maxStale <= 0 {
		maxStale = DefaultMaxStale
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:        url,
		maxStale:   maxStale,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "realtime")),
		last: Result{
			Status:     StatusStale,
			TripDelays: map[string]int{},
		},
	}
}

// Last returns the most recent refresh result.
func (c *Client) Last() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Refresh fetches and decodes the feed. On failure the previous delay map is
// kept while the last success is within the staleness threshold, otherwise it
// is cleared and delays are implicitly zero.
func (c *Client) Refresh(ctx context.Context) Result {
	delays, lastTS, err := c.fetchDelays(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.logger.Warn("realtime refresh failed", slog.String("error", err.Error()))
		keep := c.last.TripDelays
		if c.lastSuccess.IsZero() || time.Since(c.lastSuccess) > c.maxStale {
			keep = map[string]int{}
		}
		c.last = Result{
			Status:        StatusError,
			LastTimestamp: c.last.LastTimestamp,
			TripDelays:    keep,
			Err:           err.Error(),
		}
		return c.last
	}

	c.last = Result{
		Status:        StatusOK,
		LastTimestamp: lastTS,
		TripDelays:    delays,
	}
	c.lastSuccess = time.Now()
	return c.last
}

func (c *Client) fetchDelays(ctx context.Context) (map[string]int, *time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "http_response_body")

	if resp.StatusCode >= 400 {
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	var message gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(payload, &message); err != nil {
		return nil, nil, fmt.Errorf("decoding realtime feed: %w", err)
	}

	delays := map[string]int{}
	var lastTS *time.Time

	for _, entity := range message.GetEntity() {
		update := entity.GetTripUpdate()
		if update == nil {
			continue
		}
		tripID := update.GetTrip().GetTripId()
		if tripID == "" {
			continue
		}

		// One delay value per trip: the first stop-level departure delay,
		// else the first arrival delay, applied uniformly downstream.
		delay := 0
		for _, stu := range update.GetStopTimeUpdate() {
			if dep := stu.GetDeparture(); dep != nil && dep.Delay != nil {
				delay = int(dep.GetDelay())
				break
			}
			if arr := stu.GetArrival(); arr != nil && arr.Delay != nil {
				delay = int(arr.GetDelay())
				break
			}
		}

		if update.Timestamp != nil {
			ts := time.Unix(int64(update.GetTimestamp()), 0).UTC()
			if lastTS == nil || ts.After(*lastTS) {
				lastTS = &ts
			}
		}

		delays[tripID] = delay
	}

	return delays, lastTS, nil
}
