package watch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrunoAFK/ZagrebTransit/internal/transit"
)

func TestValidKind(t *testing.T) {
	assert.True(t, ValidKind(KindDeparture))
	assert.True(t, ValidKind(KindOD))
	assert.True(t, ValidKind(KindNearby))
	assert.True(t, ValidKind(KindStationQuery))
	assert.False(t, ValidKind("vehicle"))
	assert.False(t, ValidKind(""))
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Morning Tram 11", "morning_tram_11"},
		{"  Trg  bana  ", "trg_bana"},
		{"A--B", "a_b"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Slugify(tc.in), tc.in)
	}
}

func TestODConfigNormalize(t *testing.T) {
	def := Defaults{WindowMinutes: 30, NearbyRadiusMeters: 50}

	cfg := &ODConfig{
		VehicleType:   "hovercraft",
		RouteFilter:   "  11  ",
		FromQuery:     " trg ",
		ToQuery:       " utrina ",
		WindowMinutes: 999,
		Limit:         -5,
	}
	cfg.normalize(def)
	assert.Equal(t, transit.FilterAll, cfg.VehicleType)
	assert.Equal(t, "11", cfg.RouteFilter)
	assert.Equal(t, transit.FilterAll, cfg.Direction)
	assert.Equal(t, "trg", cfg.FromQuery)
	assert.Equal(t, "utrina", cfg.ToQuery)
	assert.Equal(t, MaxWindowMinutes, cfg.WindowMinutes)
	assert.Equal(t, MinLimit, cfg.Limit)

	zero := &ODConfig{VehicleType: transit.ModeTram}
	zero.normalize(def)
	assert.Equal(t, transit.ModeTram, zero.VehicleType)
	assert.Equal(t, 30, zero.WindowMinutes)
	assert.Equal(t, defaultLimit, zero.Limit)
}

func TestDepartureConfigNormalize(t *testing.T) {
	def := Defaults{WindowMinutes: 30}

	cfg := &DepartureConfig{WindowMinutes: 1, MaxStops: 100, Limit: 100}
	cfg.normalize(def)
	assert.Equal(t, MinWindowMinutes, cfg.WindowMinutes)
	assert.Equal(t, MaxMaxStops, cfg.MaxStops)
	assert.Equal(t, MaxLimit, cfg.Limit)

	zero := &DepartureConfig{}
	zero.normalize(def)
	assert.Equal(t, defaultMaxStops, zero.MaxStops)
	assert.Equal(t, defaultLimit, zero.Limit)
}

func TestNearbyConfigNormalize(t *testing.T) {
	def := Defaults{WindowMinutes: 30, NearbyRadiusMeters: 50}

	cfg := &NearbyConfig{
		LocationSource: "person",
		RadiusMeters:   1000,
		MaxStops:       50,
		LimitPerStop:   -1,
	}
	cfg.normalize(def)
	assert.Equal(t, LocationFixed, cfg.LocationSource)
	assert.Equal(t, MaxNearbyRadiusMeters, cfg.RadiusMeters)
	assert.Equal(t, 20, cfg.MaxStops)
	assert.Equal(t, 1, cfg.LimitPerStop)

	zero := &NearbyConfig{LocationSource: LocationNamed, SourceName: " home "}
	zero.normalize(def)
	assert.Equal(t, LocationNamed, zero.LocationSource)
	assert.Equal(t, "home", zero.SourceName)
	assert.Equal(t, 50, zero.RadiusMeters)
	assert.Equal(t, defaultNearbyStops, zero.MaxStops)
	assert.Equal(t, defaultLimitPerStop, zero.LimitPerStop)

	small := &NearbyConfig{RadiusMeters: 5}
	small.normalize(def)
	assert.Equal(t, MinNearbyRadiusMeters, small.RadiusMeters)
}

func TestStationQueryConfigNormalize(t *testing.T) {
	cfg := &StationQueryConfig{
		StationQueries: []string{" trg ", "", "  ", "utrina"},
	}
	cfg.normalize(Defaults{WindowMinutes: 30})
	assert.Equal(t, []string{"trg", "utrina"}, cfg.StationQueries)
	assert.Equal(t, defaultMaxStops, cfg.MaxStops)
}

func TestNewConfig(t *testing.T) {
	assert.IsType(t, &ODConfig{}, NewConfig(KindOD))
	assert.IsType(t, &DepartureConfig{}, NewConfig(KindDeparture))
	assert.IsType(t, &NearbyConfig{}, NewConfig(KindNearby))
	assert.IsType(t, &StationQueryConfig{}, NewConfig(KindStationQuery))
	assert.Nil(t, NewConfig("vehicle"))
}

func TestWatchJSONRoundtrip(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := Watch{
		ID:      "watch_1",
		Key:     "morning_tram",
		Name:    "Morning Tram",
		Kind:    KindOD,
		Enabled: true,
		Config: &ODConfig{
			FromQuery:     "trg",
			ToQuery:       "utrina",
			WindowMinutes: 45,
			Limit:         10,
		},
		CreatedAt: created,
		UpdatedAt: created.Add(time.Hour),
	}

	raw, err := json.Marshal(w)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"watch_id":"watch_1"`)
	assert.Contains(t, string(raw), `"type":"od"`)

	var decoded Watch
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, w.ID, decoded.ID)
	assert.Equal(t, w.Key, decoded.Key)
	assert.Equal(t, w.Kind, decoded.Kind)
	assert.Equal(t, w.CreatedAt, decoded.CreatedAt)
	require.IsType(t, &ODConfig{}, decoded.Config)
	cfg := decoded.Config.(*ODConfig)
	assert.Equal(t, "trg", cfg.FromQuery)
	assert.Equal(t, 45, cfg.WindowMinutes)
}

func TestWatchUnmarshalRejectsUnknownType(t *testing.T) {
	var w Watch
	err := json.Unmarshal([]byte(`{"watch_id":"watch_1","type":"vehicle"}`), &w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported watch type")
}
