package watch

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrunoAFK/ZagrebTransit/internal/transit"
)

// evalNow is a Monday morning inside the fixture feed's validity range.
var evalNow = time.Date(2025, 6, 2, 7, 55, 0, 0, time.UTC)

func buildEvalIndex(t *testing.T) *transit.Index {
	t.Helper()

	files := map[string]string{
		"routes.txt": "route_id,route_short_name,route_long_name,route_type\n" +
			"R1,11,Črnomerec - Dubec,0\n" +
			"R2,109,Črnomerec - Dugave,3\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
			"S1,Trg,45.813,15.977\n" +
			"S2,Utrina,45.778,15.996\n",
		"trips.txt": "trip_id,route_id,service_id,trip_headsign\n" +
			"T1,R1,WK,Dubec\n" +
			"T2,R2,WK,Dugave\n",
		"stop_times.txt": "trip_id,stop_id,stop_sequence,arrival_time,departure_time\n" +
			"T1,S1,1,08:00:00,08:00:00\n" +
			"T1,S2,2,08:10:00,08:10:00\n" +
			"T2,S1,1,08:05:00,08:05:00\n" +
			"T2,S2,2,08:12:00,08:12:00\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,1,1,20250101,20251231\n",
	}

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, content := range files {
		member, err := writer.Create(name)
		require.NoError(t, err)
		_, err = member.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	idx, err := transit.NewIndex(buf.Bytes())
	require.NoError(t, err)
	return idx
}

type stubProvider struct {
	idx    *transit.Index
	delays map[string]int
}

func (p *stubProvider) Index() *transit.Index  { return p.idx }
func (p *stubProvider) Delays() map[string]int { return p.delays }

type stubLocator struct {
	lat, lon float64
	err      error
}

func (l *stubLocator) Locate(name string) (float64, float64, error) {
	return l.lat, l.lon, l.err
}

func newEvalWatch(kind Kind, cfg Config) Watch {
	return Watch{
		ID:      "watch_1",
		Key:     "test_watch",
		Name:    "Test Watch",
		Kind:    kind,
		Enabled: true,
		Config:  cfg,
	}
}

func TestEvaluateDisabledWatch(t *testing.T) {
	eval := NewEvaluator(&stubProvider{}, nil)
	w := newEvalWatch(KindOD, &ODConfig{FromQuery: "trg", ToQuery: "utrina"})
	w.Enabled = false

	result := eval.Evaluate(w, evalNow)
	assert.False(t, result.Enabled)
	assert.Empty(t, result.Error)
	assert.Empty(t, result.Departures)
	assert.Zero(t, result.State)
}

func TestEvaluateWithoutIndex(t *testing.T) {
	eval := NewEvaluator(&stubProvider{}, nil)
	w := newEvalWatch(KindOD, &ODConfig{FromQuery: "trg", ToQuery: "utrina"})

	result := eval.Evaluate(w, evalNow)
	assert.Equal(t, "no schedule data loaded", result.Error)
}

func TestEvaluateOD(t *testing.T) {
	eval := NewEvaluator(&stubProvider{idx: buildEvalIndex(t)}, nil)
	w := newEvalWatch(KindOD, &ODConfig{
		FromQuery:     "trg",
		ToQuery:       "utrina",
		WindowMinutes: 30,
		Limit:         20,
	})

	result := eval.Evaluate(w, evalNow)
	require.Empty(t, result.Error)
	require.Len(t, result.Departures, 2)
	assert.Equal(t, 2, result.State)
	assert.Equal(t, 30, result.WindowMinutes)

	first := result.Departures[0]
	assert.Equal(t, "T1", first.TripID)
	assert.Equal(t, "11", first.Line)
	assert.Equal(t, 5, first.Minutes)
	assert.Equal(t, "Trg [S1]", first.FromStop)
	assert.Equal(t, "Utrina [S2]", first.ToStop)

	second := result.Departures[1]
	assert.Equal(t, "T2", second.TripID)
	assert.Equal(t, "109", second.Line)
	assert.Equal(t, 10, second.Minutes)
}

func TestEvaluateODWithDelay(t *testing.T) {
	provider := &stubProvider{
		idx:    buildEvalIndex(t),
		delays: map[string]int{"T1": 300},
	}
	eval := NewEvaluator(provider, nil)
	w := newEvalWatch(KindOD, &ODConfig{
		FromQuery:     "trg",
		ToQuery:       "utrina",
		WindowMinutes: 30,
		Limit:         20,
	})

	result := eval.Evaluate(w, evalNow)
	require.Len(t, result.Departures, 2)
	var delayed Row
	for _, row := range result.Departures {
		if row.TripID == "T1" {
			delayed = row
		}
	}
	assert.Equal(t, 10, delayed.Minutes)
	assert.Equal(t, 5.0, delayed.DelayMinutes)
}

func TestEvaluateODFilters(t *testing.T) {
	eval := NewEvaluator(&stubProvider{idx: buildEvalIndex(t)}, nil)

	byDirection := newEvalWatch(KindOD, &ODConfig{
		FromQuery: "trg", ToQuery: "utrina", Direction: "Dugave",
		WindowMinutes: 30, Limit: 20,
	})
	result := eval.Evaluate(byDirection, evalNow)
	require.Len(t, result.Departures, 1)
	assert.Equal(t, "T2", result.Departures[0].TripID)

	byRoute := newEvalWatch(KindOD, &ODConfig{
		FromQuery: "trg", ToQuery: "utrina", RouteFilter: "11",
		WindowMinutes: 30, Limit: 20,
	})
	result = eval.Evaluate(byRoute, evalNow)
	require.Len(t, result.Departures, 1)
	assert.Equal(t, "T1", result.Departures[0].TripID)
}

func TestEvaluateODMissingQueries(t *testing.T) {
	eval := NewEvaluator(&stubProvider{idx: buildEvalIndex(t)}, nil)
	w := newEvalWatch(KindOD, &ODConfig{FromQuery: "trg"})
	result := eval.Evaluate(w, evalNow)
	assert.Equal(t, "from_query and to_query are required", result.Error)
}

func TestEvaluateDeparture(t *testing.T) {
	eval := NewEvaluator(&stubProvider{idx: buildEvalIndex(t)}, nil)
	w := newEvalWatch(KindDeparture, &DepartureConfig{
		FromQuery:     "trg",
		VehicleType:   transit.ModeBus,
		WindowMinutes: 30,
		MaxStops:      12,
		Limit:         20,
	})

	result := eval.Evaluate(w, evalNow)
	require.Len(t, result.Departures, 1)
	row := result.Departures[0]
	assert.Equal(t, "T2", row.TripID)
	assert.Equal(t, "Trg [S1]", row.Stop)
	assert.Equal(t, 10, row.Minutes)
	assert.Equal(t, 1, result.State)
}

func TestEvaluateDepartureLimitKeepsSoonest(t *testing.T) {
	eval := NewEvaluator(&stubProvider{idx: buildEvalIndex(t)}, nil)
	w := newEvalWatch(KindDeparture, &DepartureConfig{
		FromQuery:     "trg",
		WindowMinutes: 30,
		MaxStops:      12,
		Limit:         1,
	})

	result := eval.Evaluate(w, evalNow)
	require.Len(t, result.Departures, 1)
	assert.Equal(t, "T1", result.Departures[0].TripID)
}

func TestEvaluateNearbyFixed(t *testing.T) {
	eval := NewEvaluator(&stubProvider{idx: buildEvalIndex(t)}, nil)
	lat, lon := 45.813, 15.977
	w := newEvalWatch(KindNearby, &NearbyConfig{
		LocationSource: LocationFixed,
		FixedLat:       &lat,
		FixedLon:       &lon,
		RadiusMeters:   50,
		WindowMinutes:  30,
		MaxStops:       8,
		LimitPerStop:   6,
	})

	result := eval.Evaluate(w, evalNow)
	require.Empty(t, result.Error)
	assert.Equal(t, LocationFixed, result.LocationSource)
	assert.Equal(t, 50, result.RadiusMeters)
	require.Len(t, result.Stops, 1)
	stop := result.Stops[0]
	assert.Equal(t, "Trg [S1]", stop.Stop)
	assert.NotEmpty(t, stop.MapURL)
	assert.Len(t, stop.Departures, 2)
	assert.Equal(t, 2, result.State)
}

func TestEvaluateNearbyFixedWithoutCoordinates(t *testing.T) {
	eval := NewEvaluator(&stubProvider{idx: buildEvalIndex(t)}, nil)
	w := newEvalWatch(KindNearby, &NearbyConfig{
		LocationSource: LocationFixed,
		RadiusMeters:   50,
		WindowMinutes:  30,
		MaxStops:       8,
		LimitPerStop:   6,
	})

	result := eval.Evaluate(w, evalNow)
	assert.Contains(t, result.Error, "location unavailable")
}

func TestEvaluateNearbyNamed(t *testing.T) {
	idx := buildEvalIndex(t)

	eval := NewEvaluator(&stubProvider{idx: idx}, &stubLocator{lat: 45.813, lon: 15.977})
	w := newEvalWatch(KindNearby, &NearbyConfig{
		LocationSource: LocationNamed,
		SourceName:     "home",
		RadiusMeters:   50,
		WindowMinutes:  30,
		MaxStops:       8,
		LimitPerStop:   6,
	})
	result := eval.Evaluate(w, evalNow)
	require.Empty(t, result.Error)
	assert.Equal(t, "home", result.LocationSource)
	require.Len(t, result.Stops, 1)

	// Without a locator a named source cannot resolve.
	noLocator := NewEvaluator(&stubProvider{idx: idx}, nil)
	result = noLocator.Evaluate(w, evalNow)
	assert.Contains(t, result.Error, "no locator configured")

	failing := NewEvaluator(&stubProvider{idx: idx}, &stubLocator{err: errors.New("gps off")})
	result = failing.Evaluate(w, evalNow)
	assert.Contains(t, result.Error, "gps off")
}

func TestEvaluateStationQuery(t *testing.T) {
	eval := NewEvaluator(&stubProvider{idx: buildEvalIndex(t)}, nil)
	w := newEvalWatch(KindStationQuery, &StationQueryConfig{
		StationQueries: []string{"trg"},
		WindowMinutes:  30,
		MaxStops:       12,
		Limit:          20,
	})

	result := eval.Evaluate(w, evalNow)
	require.Empty(t, result.Error)
	assert.Equal(t, []string{"trg"}, result.StationQueries)
	require.Len(t, result.Stations, 1)
	assert.Equal(t, "Trg [S1]", result.Stations[0].Stop)
	assert.Len(t, result.Stations[0].Departures, 2)

	require.Len(t, result.Grouped, 2)
	assert.Equal(t, "11", result.Grouped[0].Line)
	assert.Equal(t, "Dubec", result.Grouped[0].Direction)
	assert.Equal(t, []int{5}, result.Grouped[0].Minutes)
	assert.Equal(t, []string{"Trg [S1]"}, result.Grouped[0].Stops)
	assert.Equal(t, "109", result.Grouped[1].Line)
	assert.Equal(t, 2, result.State)
}

func TestEvaluateStationQueryWithoutQueries(t *testing.T) {
	eval := NewEvaluator(&stubProvider{idx: buildEvalIndex(t)}, nil)
	w := newEvalWatch(KindStationQuery, &StationQueryConfig{WindowMinutes: 30, MaxStops: 12, Limit: 20})
	result := eval.Evaluate(w, evalNow)
	assert.Equal(t, "station_queries required", result.Error)
}

func TestEvaluateAll(t *testing.T) {
	eval := NewEvaluator(&stubProvider{idx: buildEvalIndex(t)}, nil)
	watches := []Watch{
		newEvalWatch(KindOD, &ODConfig{FromQuery: "trg", ToQuery: "utrina", WindowMinutes: 30, Limit: 20}),
		{ID: "watch_2", Kind: KindDeparture, Enabled: false, Config: &DepartureConfig{}},
	}

	results := eval.EvaluateAll(watches, evalNow)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results["watch_1"].State)
	assert.False(t, results["watch_2"].Enabled)
}

func TestExtractLineCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"11 - Črnomerec - Dubec", "11"},
		{"109 - Črnomerec - Dugave", "109"},
		{"Kaptol - Mirogoj", "Kaptol"},
		{"N1 - Night Line", "N1"},
		{"", "?"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, extractLineCode(tc.in), tc.in)
	}
}

func TestRouteFilterMatch(t *testing.T) {
	label := "11 - Črnomerec - Dubec"
	tests := []struct {
		filter string
		want   bool
	}{
		{"11", true},
		{"  11 ", true},
		{"dubec", true},
		{"11 -", true},
		{"109", false},
		{"1", true}, // substring of the label
		{"", true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, routeFilterMatch(tc.filter, label, "11"), tc.filter)
	}
}

func TestMinutesUntil(t *testing.T) {
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

	minutes, ok := minutesUntil(now, now)
	assert.True(t, ok)
	assert.Equal(t, 0, minutes)

	minutes, ok = minutesUntil(now, now.Add(59*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 0, minutes)

	minutes, ok = minutesUntil(now, now.Add(10*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 10, minutes)

	_, ok = minutesUntil(now, now.Add(-time.Second))
	assert.False(t, ok)
}

func TestLineSortValue(t *testing.T) {
	assert.Equal(t, 11, lineSortValue("11"))
	assert.Equal(t, 109, lineSortValue("109"))
	assert.Equal(t, 9999, lineSortValue("Kaptol"))
	assert.Less(t, lineSortValue("11"), lineSortValue("109"))
}
