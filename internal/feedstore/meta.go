package feedstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date serialized as "YYYY-MM-DD" in metadata sidecars.
type Date struct {
	time.Time
}

// NewDate builds a Date from year/month/day in UTC.
func NewDate(year int, month time.Month, day int) *Date {
	return &Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.Format(dateLayout))), nil
}

func (d *Date) UnmarshalJSON(raw []byte) error {
	value, err := strconv.Unquote(string(raw))
	if err != nil {
		return fmt.Errorf("invalid date value %s: %w", raw, err)
	}
	if value == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return fmt.Errorf("invalid date value %q: %w", value, err)
	}
	d.Time = t
	return nil
}

// FeedMeta is the metadata sidecar for one cached static feed.
type FeedMeta struct {
	Version      string `json:"version"`
	StartDate    *Date  `json:"start_date"`
	EndDate      *Date  `json:"end_date"`
	FilePath     string `json:"file_path"`
	Source       string `json:"source"`
	DownloadedAt string `json:"downloaded_at"`
}

// IsValidFor reports whether the feed's validity range covers the given day.
// A missing bound is unbounded on that side.
func (m *FeedMeta) IsValidFor(day time.Time) bool {
	dayKey := day.Format(dateLayout)
	if m.StartDate != nil && dayKey < m.StartDate.Format(dateLayout) {
		return false
	}
	if m.EndDate != nil && dayKey > m.EndDate.Format(dateLayout) {
		return false
	}
	return true
}

// ValidRange renders the validity bounds for log and status output.
func (m *FeedMeta) ValidRange() string {
	start, end := "unknown", "unknown"
	if m.StartDate != nil {
		start = m.StartDate.Format(dateLayout)
	}
	if m.EndDate != nil {
		end = m.EndDate.Format(dateLayout)
	}
	return start + " -> " + end
}

// metaRank orders feeds by recency: numeric version first, then start date.
// Higher is newer.
type metaRank struct {
	version int64
	start   time.Time
}

func rankOf(meta *FeedMeta) metaRank {
	rank := metaRank{version: -1}
	if v, err := strconv.ParseInt(meta.Version, 10, 64); err == nil {
		rank.version = v
	}
	if meta.StartDate != nil {
		rank.start = meta.StartDate.Time
	}
	return rank
}

func rankLess(a, b metaRank) bool {
	if a.version != b.version {
		return a.version < b.version
	}
	return a.start.Before(b.start)
}

var unsafeVersionChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// safeVersion sanitizes a feed version string into a filename-safe form.
func safeVersion(value string) string {
	return unsafeVersionChars.ReplaceAllString(value, "_")
}

// parseFeedDate parses GTFS YYYYMMDD dates from feed_info.txt.
func parseFeedDate(value string) *Date {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	t, err := time.Parse("20060102", value)
	if err != nil {
		return nil
	}
	return &Date{t}
}
