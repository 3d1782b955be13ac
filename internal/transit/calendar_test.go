package transit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calendarFeed(t *testing.T) []byte {
	t.Helper()
	return buildFeed(t, map[string]string{
		"routes.txt":     "route_id,route_short_name,route_long_name,route_type\nR1,1,Loop,0\n",
		"stops.txt":      "stop_id,stop_name\nS1,Trg\n",
		"trips.txt":      "trip_id,route_id,service_id\nT1,R1,WEEKDAY\nT2,R1,SUNDAY\n",
		"stop_times.txt": "trip_id,stop_id,stop_sequence,arrival_time,departure_time\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WEEKDAY,1,1,1,1,1,0,0,20250101,20251231\n" +
			"SUNDAY,0,0,0,0,0,0,1,20250101,20251231\n",
		"calendar_dates.txt": "service_id,date,exception_type\n" +
			"WEEKDAY,20250602,2\n" + // holiday Monday: weekday service removed
			"SUNDAY,20250602,1\n", // and Sunday service added instead
	})
}

func TestActiveServicesForDay(t *testing.T) {
	idx, err := NewIndex(calendarFeed(t))
	require.NoError(t, err)

	monday := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	services := idx.ActiveServicesForDay(monday)
	_, weekday := services["WEEKDAY"]
	_, sunday := services["SUNDAY"]
	assert.True(t, weekday)
	assert.False(t, sunday)

	sundayDay := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)
	services = idx.ActiveServicesForDay(sundayDay)
	_, weekday = services["WEEKDAY"]
	_, sunday = services["SUNDAY"]
	assert.False(t, weekday)
	assert.True(t, sunday)
}

func TestActiveServicesExceptionsOverrideWeekly(t *testing.T) {
	idx, err := NewIndex(calendarFeed(t))
	require.NoError(t, err)

	holidayMonday := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	services := idx.ActiveServicesForDay(holidayMonday)
	_, weekday := services["WEEKDAY"]
	_, sunday := services["SUNDAY"]
	assert.False(t, weekday, "removed by exception_type 2")
	assert.True(t, sunday, "added by exception_type 1")
}

func TestActiveServicesOutsideDateRange(t *testing.T) {
	idx, err := NewIndex(calendarFeed(t))
	require.NoError(t, err)

	before := time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC) // a Monday
	assert.Empty(t, idx.ActiveServicesForDay(before))

	after := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) // a Monday
	assert.Empty(t, idx.ActiveServicesForDay(after))
}

func TestActiveServicesMemoIsStableAndBounded(t *testing.T) {
	idx, err := NewIndex(calendarFeed(t))
	require.NoError(t, err)

	day := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	first := idx.ActiveServicesForDay(day)
	second := idx.ActiveServicesForDay(day)
	assert.Equal(t, first, second)

	for i := 0; i < servicesCacheLimit*2; i++ {
		idx.ActiveServicesForDay(day.AddDate(0, 0, i))
	}
	idx.cacheMu.Lock()
	size := len(idx.servicesCache)
	idx.cacheMu.Unlock()
	assert.LessOrEqual(t, size, servicesCacheLimit)
}

func TestActiveServicesForDayReturnsDetachedCopy(t *testing.T) {
	idx, err := NewIndex(calendarFeed(t))
	require.NoError(t, err)

	monday := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	services := idx.ActiveServicesForDay(monday)
	require.Contains(t, services, "WEEKDAY")
	delete(services, "WEEKDAY")
	services["BOGUS"] = struct{}{}

	fresh := idx.ActiveServicesForDay(monday)
	assert.Contains(t, fresh, "WEEKDAY")
	assert.NotContains(t, fresh, "BOGUS")
}

func TestActiveServicesWindowCoversThreeDays(t *testing.T) {
	idx, err := NewIndex(calendarFeed(t))
	require.NoError(t, err)

	now := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	window := idx.activeServicesWindow(now)
	require.Len(t, window, 3)

	days := map[string]bool{}
	for day := range window {
		days[day.Format(dateKeyLayout)] = true
	}
	for _, want := range []string{"20250608", "20250609", "20250610"} {
		assert.True(t, days[want], fmt.Sprintf("missing day %s", want))
	}
}

func TestParseYYYYMMDD(t *testing.T) {
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), parseYYYYMMDD("20250602"))
	assert.True(t, parseYYYYMMDD("").IsZero())
	assert.True(t, parseYYYYMMDD("2025-06-02").IsZero())
	assert.True(t, parseYYYYMMDD("notadate").IsZero())
}
