// Package watch holds user-defined departure filters ("watches") and turns
// transit index queries into presentation-ready result sets for them.
package watch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BrunoAFK/ZagrebTransit/internal/transit"
)

// Kind identifies the watch variant.
type Kind string

const (
	KindDeparture    Kind = "departure"
	KindOD           Kind = "od"
	KindNearby       Kind = "nearby"
	KindStationQuery Kind = "station_query"
)

// MaxWatches caps the registry size.
const MaxWatches = 30

// Clamp bounds applied to caller-supplied watch configuration.
const (
	MinWindowMinutes = 5
	MaxWindowMinutes = 180

	MinNearbyRadiusMeters = 20
	MaxNearbyRadiusMeters = 500

	MinMaxStops = 2
	MaxMaxStops = 40

	MinLimit = 1
	MaxLimit = 40

	defaultLimit        = 20
	defaultMaxStops     = 12
	defaultNearbyStops  = 8
	defaultLimitPerStop = 6
)

// Nearby location source types. A "named" source is resolved through the
// evaluator's Locator hook; "fixed" uses coordinates stored on the watch.
const (
	LocationFixed = "fixed"
	LocationNamed = "named"
)

// ValidKind reports whether k is one of the four supported variants.
func ValidKind(k Kind) bool {
	switch k {
	case KindDeparture, KindOD, KindNearby, KindStationQuery:
		return true
	}
	return false
}

// Defaults are the instance-wide fallbacks applied while normalizing watch
// configs.
type Defaults struct {
	WindowMinutes      int
	NearbyRadiusMeters int
}

// Config is the closed set of per-kind watch configurations. Configs are
// normalized on write so stored values are always within bounds.
type Config interface {
	normalize(def Defaults)
	clone() Config
}

// ODConfig filters departures between two stop-name queries.
type ODConfig struct {
	VehicleType   string `json:"vehicle_type"`
	RouteFilter   string `json:"route_filter"`
	Direction     string `json:"direction"`
	FromQuery     string `json:"from_query"`
	ToQuery       string `json:"to_query"`
	WindowMinutes int    `json:"window_minutes"`
	Limit         int    `json:"limit"`
}

func (c *ODConfig) normalize(def Defaults) {
	c.VehicleType = normalizeMode(c.VehicleType)
	c.RouteFilter = strings.TrimSpace(c.RouteFilter)
	c.Direction = normalizeDirection(c.Direction)
	c.FromQuery = strings.TrimSpace(c.FromQuery)
	c.ToQuery = strings.TrimSpace(c.ToQuery)
	c.WindowMinutes = clampInt(c.WindowMinutes, def.WindowMinutes, MinWindowMinutes, MaxWindowMinutes)
	c.Limit = clampInt(c.Limit, defaultLimit, MinLimit, MaxLimit)
}

func (c *ODConfig) clone() Config { out := *c; return &out }

// DepartureConfig filters all departures leaving stops matched by one
// stop-name query.
type DepartureConfig struct {
	VehicleType   string `json:"vehicle_type"`
	RouteFilter   string `json:"route_filter"`
	Direction     string `json:"direction"`
	FromQuery     string `json:"from_query"`
	WindowMinutes int    `json:"window_minutes"`
	MaxStops      int    `json:"max_stops"`
	Limit         int    `json:"limit"`
}

func (c *DepartureConfig) normalize(def Defaults) {
	c.VehicleType = normalizeMode(c.VehicleType)
	c.RouteFilter = strings.TrimSpace(c.RouteFilter)
	c.Direction = normalizeDirection(c.Direction)
	c.FromQuery = strings.TrimSpace(c.FromQuery)
	c.WindowMinutes = clampInt(c.WindowMinutes, def.WindowMinutes, MinWindowMinutes, MaxWindowMinutes)
	c.MaxStops = clampInt(c.MaxStops, defaultMaxStops, MinMaxStops, MaxMaxStops)
	c.Limit = clampInt(c.Limit, defaultLimit, MinLimit, MaxLimit)
}

func (c *DepartureConfig) clone() Config { out := *c; return &out }

// NearbyConfig boards the closest stops around a location.
type NearbyConfig struct {
	LocationSource string   `json:"location_source"`
	SourceName     string   `json:"source_name,omitempty"`
	FixedLat       *float64 `json:"fixed_lat"`
	FixedLon       *float64 `json:"fixed_lon"`
	RadiusMeters   int      `json:"radius_meters"`
	VehicleType    string   `json:"vehicle_type"`
	WindowMinutes  int      `json:"window_minutes"`
	MaxStops       int      `json:"max_stops"`
	LimitPerStop   int      `json:"limit_per_stop"`
}

func (c *NearbyConfig) normalize(def Defaults) {
	c.LocationSource = strings.TrimSpace(c.LocationSource)
	if c.LocationSource != LocationNamed {
		c.LocationSource = LocationFixed
	}
	c.SourceName = strings.TrimSpace(c.SourceName)
	radiusDefault := def.NearbyRadiusMeters
	if radiusDefault == 0 {
		radiusDefault = 50
	}
	c.RadiusMeters = clampInt(c.RadiusMeters, radiusDefault, MinNearbyRadiusMeters, MaxNearbyRadiusMeters)
	c.VehicleType = normalizeMode(c.VehicleType)
	c.WindowMinutes = clampInt(c.WindowMinutes, def.WindowMinutes, MinWindowMinutes, MaxWindowMinutes)
	c.MaxStops = clampInt(c.MaxStops, defaultNearbyStops, 1, 20)
	c.LimitPerStop = clampInt(c.LimitPerStop, defaultLimitPerStop, 1, 30)
}

func (c *NearbyConfig) clone() Config { out := *c; return &out }

// StationQueryConfig boards multiple stops matched by name queries and
// groups the result by line and direction.
type StationQueryConfig struct {
	StationQueries []string `json:"station_queries"`
	VehicleType    string   `json:"vehicle_type"`
	RouteFilter    string   `json:"route_filter"`
	Direction      string   `json:"direction"`
	WindowMinutes  int      `json:"window_minutes"`
	MaxStops       int      `json:"max_stops"`
	Limit          int      `json:"limit"`
}

func (c *StationQueryConfig) normalize(def Defaults) {
	queries := c.StationQueries[:0]
	for _, q := range c.StationQueries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	c.StationQueries = queries
	c.VehicleType = normalizeMode(c.VehicleType)
	c.RouteFilter = strings.TrimSpace(c.RouteFilter)
	c.Direction = normalizeDirection(c.Direction)
	c.WindowMinutes = clampInt(c.WindowMinutes, def.WindowMinutes, MinWindowMinutes, MaxWindowMinutes)
	c.MaxStops = clampInt(c.MaxStops, defaultMaxStops, MinMaxStops, MaxMaxStops)
	c.Limit = clampInt(c.Limit, defaultLimit, MinLimit, MaxLimit)
}

func (c *StationQueryConfig) clone() Config {
	out := *c
	out.StationQueries = append([]string(nil), c.StationQueries...)
	return &out
}

// NewConfig returns the zero config for a kind.
func NewConfig(kind Kind) Config {
	switch kind {
	case KindOD:
		return &ODConfig{}
	case KindDeparture:
		return &DepartureConfig{}
	case KindNearby:
		return &NearbyConfig{}
	case KindStationQuery:
		return &StationQueryConfig{}
	}
	return nil
}

// Watch is one stored filter definition.
type Watch struct {
	ID        string
	Key       string
	Name      string
	Kind      Kind
	Enabled   bool
	Config    Config
	CreatedAt time.Time
	UpdatedAt time.Time
}

type watchJSON struct {
	ID        string          `json:"watch_id"`
	Key       string          `json:"watch_key"`
	Name      string          `json:"name"`
	Kind      Kind            `json:"type"`
	Enabled   bool            `json:"enabled"`
	Config    json.RawMessage `json:"config"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

func (w Watch) MarshalJSON() ([]byte, error) {
	cfg, err := json.Marshal(w.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(watchJSON{
		ID:        w.ID,
		Key:       w.Key,
		Name:      w.Name,
		Kind:      w.Kind,
		Enabled:   w.Enabled,
		Config:    cfg,
		CreatedAt: w.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: w.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (w *Watch) UnmarshalJSON(raw []byte) error {
	var aux watchJSON
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	if !ValidKind(aux.Kind) {
		return fmt.Errorf("unsupported watch type: %q", aux.Kind)
	}

	cfg := NewConfig(aux.Kind)
	if len(aux.Config) > 0 {
		if err := json.Unmarshal(aux.Config, cfg); err != nil {
			return fmt.Errorf("decoding %s watch config: %w", aux.Kind, err)
		}
	}

	w.ID = aux.ID
	w.Key = aux.Key
	w.Name = aux.Name
	w.Kind = aux.Kind
	w.Enabled = aux.Enabled
	w.Config = cfg
	w.CreatedAt, _ = time.Parse(time.RFC3339, aux.CreatedAt)
	w.UpdatedAt, _ = time.Parse(time.RFC3339, aux.UpdatedAt)
	return nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify reduces a display name to a lowercase underscore-separated key.
func Slugify(value string) string {
	slug := slugStrip.ReplaceAllString(strings.ToLower(value), "_")
	return strings.Trim(slug, "_")
}

func normalizeMode(value string) string {
	value = strings.TrimSpace(value)
	switch value {
	case transit.ModeTram, transit.ModeBus, transit.FilterAll:
		return value
	}
	return transit.FilterAll
}

func normalizeDirection(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return transit.FilterAll
	}
	return value
}

// clampInt substitutes the default for an unset (zero) value, then clamps.
func clampInt(value, fallback, minValue, maxValue int) int {
	if value == 0 {
		value = fallback
	}
	return max(minValue, min(maxValue, value))
}
