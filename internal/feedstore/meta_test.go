package feedstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateJSONRoundtrip(t *testing.T) {
	raw, err := json.Marshal(NewDate(2025, time.June, 2))
	require.NoError(t, err)
	assert.Equal(t, `"2025-06-02"`, string(raw))

	var parsed Date
	require.NoError(t, json.Unmarshal([]byte(`"2025-06-02"`), &parsed))
	assert.Equal(t, NewDate(2025, time.June, 2).Time, parsed.Time)

	require.NoError(t, json.Unmarshal([]byte(`""`), &parsed))
	assert.True(t, parsed.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"02.06.2025"`), &parsed))
}

func TestFeedMetaIsValidFor(t *testing.T) {
	meta := &FeedMeta{
		Version:   "0042",
		StartDate: NewDate(2025, time.June, 1),
		EndDate:   NewDate(2025, time.June, 30),
	}

	assert.True(t, meta.IsValidFor(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, meta.IsValidFor(time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC)))
	assert.False(t, meta.IsValidFor(time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)))
	assert.False(t, meta.IsValidFor(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))

	unbounded := &FeedMeta{Version: "0042"}
	assert.True(t, unbounded.IsValidFor(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, unbounded.IsValidFor(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFeedMetaValidRange(t *testing.T) {
	meta := &FeedMeta{
		StartDate: NewDate(2025, time.June, 1),
		EndDate:   NewDate(2025, time.June, 30),
	}
	assert.Equal(t, "2025-06-01 -> 2025-06-30", meta.ValidRange())

	assert.Equal(t, "unknown -> unknown", (&FeedMeta{}).ValidRange())
}

func TestRankOrdering(t *testing.T) {
	older := &FeedMeta{Version: "0041", StartDate: NewDate(2025, time.May, 1)}
	newer := &FeedMeta{Version: "0042", StartDate: NewDate(2025, time.April, 1)}
	assert.True(t, rankLess(rankOf(older), rankOf(newer)))
	assert.False(t, rankLess(rankOf(newer), rankOf(older)))

	// Non-numeric versions tie at -1 and fall back to the start date.
	a := &FeedMeta{Version: "spring", StartDate: NewDate(2025, time.May, 1)}
	b := &FeedMeta{Version: "summer", StartDate: NewDate(2025, time.June, 1)}
	assert.True(t, rankLess(rankOf(a), rankOf(b)))
}

func TestSafeVersion(t *testing.T) {
	assert.Equal(t, "0042", safeVersion("0042"))
	assert.Equal(t, "2025-05_v2.1", safeVersion("2025-05 v2.1"))
	assert.Equal(t, "a_b_c", safeVersion("a/b\\c"))
}
