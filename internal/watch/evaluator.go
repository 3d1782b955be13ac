package watch

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BrunoAFK/ZagrebTransit/internal/transit"
)

// Provider supplies the schedule index and delay overlay a watch evaluation
// runs against. transit.Manager satisfies it.
type Provider interface {
	Index() *transit.Index
	Delays() map[string]int
}

// Locator resolves a named location source to coordinates for nearby
// watches. Optional; without one only fixed coordinates work.
type Locator interface {
	Locate(name string) (lat, lon float64, err error)
}

// Row is one departure in a watch result, with the derived line code and
// minutes-until fields. Board rows carry Planned/RT; origin/destination rows
// carry the full four-timestamp set.
type Row struct {
	TripID           string     `json:"trip_id"`
	Route            string     `json:"route"`
	Line             string     `json:"line"`
	Mode             string     `json:"mode,omitempty"`
	Direction        string     `json:"direction"`
	Stop             string     `json:"stop,omitempty"`
	FromStop         string     `json:"from_stop,omitempty"`
	ToStop           string     `json:"to_stop,omitempty"`
	DeparturePlanned *time.Time `json:"departure_planned,omitempty"`
	DepartureRT      *time.Time `json:"departure_rt,omitempty"`
	ArrivalPlanned   *time.Time `json:"arrival_planned,omitempty"`
	ArrivalRT        *time.Time `json:"arrival_rt,omitempty"`
	Planned          *time.Time `json:"planned,omitempty"`
	RT               *time.Time `json:"rt,omitempty"`
	DelayMinutes     float64    `json:"delay_minutes"`
	Minutes          int        `json:"minutes"`
}

// StopRows pairs one nearby stop with its filtered departures.
type StopRows struct {
	Stop           string  `json:"stop"`
	DistanceMeters float64 `json:"distance_meters"`
	MapURL         string  `json:"map_url,omitempty"`
	Departures     []Row   `json:"departures"`
}

// StationRows pairs one matched station with its filtered departures.
type StationRows struct {
	Stop       string `json:"stop"`
	Departures []Row  `json:"departures"`
}

// Group aggregates station-query departures by line and direction.
type Group struct {
	Line      string   `json:"line"`
	Direction string   `json:"direction"`
	Minutes   []int    `json:"minutes"`
	Stops     []string `json:"stops"`
}

// Result is the evaluated output of one watch.
type Result struct {
	WatchID        string        `json:"watch_id"`
	WatchKey       string        `json:"watch_key"`
	Name           string        `json:"name"`
	Kind           Kind          `json:"type"`
	Enabled        bool          `json:"enabled"`
	State          int           `json:"state"`
	Error          string        `json:"error,omitempty"`
	WindowMinutes  int           `json:"window_minutes,omitempty"`
	RadiusMeters   int           `json:"radius_meters,omitempty"`
	LocationSource string        `json:"location_source,omitempty"`
	StationQueries []string      `json:"station_queries,omitempty"`
	Departures     []Row         `json:"departures"`
	Stops          []StopRows    `json:"stops,omitempty"`
	Stations       []StationRows `json:"stations,omitempty"`
	Grouped        []Group       `json:"grouped,omitempty"`
}

// Evaluator runs watches against the live schedule and delay data.
type Evaluator struct {
	provider Provider
	locator  Locator
}

// NewEvaluator builds an Evaluator; locator may be nil.
func NewEvaluator(provider Provider, locator Locator) *Evaluator {
	return &Evaluator{provider: provider, locator: locator}
}

// Evaluate runs one watch at the given instant.
func (e *Evaluator) Evaluate(w Watch, now time.Time) Result {
	out := Result{
		WatchID:    w.ID,
		WatchKey:   w.Key,
		Name:       w.Name,
		Kind:       w.Kind,
		Enabled:    w.Enabled,
		Departures: []Row{},
	}
	if !w.Enabled {
		return out
	}

	index := e.provider.Index()
	if index == nil {
		out.Error = "no schedule data loaded"
		return out
	}
	delays := e.provider.Delays()

	switch cfg := w.Config.(type) {
	case *ODConfig:
		e.evalOD(&out, cfg, index, delays, now)
	case *DepartureConfig:
		e.evalDeparture(&out, cfg, index, delays, now)
	case *NearbyConfig:
		e.evalNearby(&out, cfg, index, delays, now)
	case *StationQueryConfig:
		e.evalStationQuery(&out, cfg, index, delays, now)
	default:
		out.Error = fmt.Sprintf("unsupported watch type: %s", w.Kind)
	}
	return out
}

// EvaluateAll runs every registered watch, keyed by watch id.
func (e *Evaluator) EvaluateAll(watches []Watch, now time.Time) map[string]Result {
	out := make(map[string]Result, len(watches))
	for _, w := range watches {
		out[w.ID] = e.Evaluate(w, now)
	}
	return out
}

func (e *Evaluator) evalOD(out *Result, cfg *ODConfig, index *transit.Index, delays map[string]int, now time.Time) {
	if cfg.FromQuery == "" || cfg.ToQuery == "" {
		out.Error = "from_query and to_query are required"
		return
	}

	deps := index.UpcomingBetweenStopNames(now, cfg.FromQuery, cfg.ToQuery,
		cfg.WindowMinutes, delays, cfg.VehicleType, cfg.Limit)

	rows := []Row{}
	for _, dep := range deps {
		if !directionAccepted(cfg.Direction, dep.Direction) {
			continue
		}
		line := extractLineCode(dep.Route)
		if cfg.RouteFilter != "" && !routeFilterMatch(cfg.RouteFilter, dep.Route, line) {
			continue
		}
		minutes, ok := minutesUntil(now, dep.DepartureRT)
		if !ok {
			continue
		}
		rows = append(rows, rowFromDeparture(dep, line, minutes))
	}

	out.WindowMinutes = cfg.WindowMinutes
	out.Departures = rows
	out.State = len(rows)
}

func (e *Evaluator) evalDeparture(out *Result, cfg *DepartureConfig, index *transit.Index, delays map[string]int, now time.Time) {
	if cfg.FromQuery == "" {
		out.Error = "from_query is required"
		return
	}

	boards := index.BoardsForStationQueries(now, []string{cfg.FromQuery},
		cfg.WindowMinutes, delays, cfg.MaxStops)

	rows := []Row{}
	for _, board := range boards {
		for _, dep := range board.Departures {
			if !modeAccepted(cfg.VehicleType, dep.Mode) {
				continue
			}
			if !directionAccepted(cfg.Direction, dep.Direction) {
				continue
			}
			line := extractLineCode(dep.Route)
			if cfg.RouteFilter != "" && !routeFilterMatch(cfg.RouteFilter, dep.Route, line) {
				continue
			}
			minutes, ok := minutesUntil(now, dep.RT)
			if !ok {
				continue
			}
			row := rowFromBoardEntry(dep, line, minutes)
			row.Stop = board.Stop
			rows = append(rows, row)
		}
	}

	sortRowsByMinutes(rows)
	if len(rows) > cfg.Limit {
		rows = rows[:cfg.Limit]
	}
	out.WindowMinutes = cfg.WindowMinutes
	out.Departures = rows
	out.State = len(rows)
}

func (e *Evaluator) evalNearby(out *Result, cfg *NearbyConfig, index *transit.Index, delays map[string]int, now time.Time) {
	lat, lon, source, err := e.resolveLocation(cfg)
	if err != nil {
		out.Error = err.Error()
		out.LocationSource = source
		return
	}

	nearby := index.NearbyBoard(now, lat, lon, cfg.RadiusMeters,
		cfg.WindowMinutes, delays, cfg.MaxStops)

	total := 0
	stops := []StopRows{}
	for _, stop := range nearby {
		rows := []Row{}
		for _, dep := range stop.Departures {
			if !modeAccepted(cfg.VehicleType, dep.Mode) {
				continue
			}
			minutes, ok := minutesUntil(now, dep.RT)
			if !ok {
				continue
			}
			rows = append(rows, rowFromBoardEntry(dep, extractLineCode(dep.Route), minutes))
		}
		if len(rows) == 0 {
			continue
		}
		sortRowsByMinutes(rows)
		if len(rows) > cfg.LimitPerStop {
			rows = rows[:cfg.LimitPerStop]
		}
		total += len(rows)
		stops = append(stops, StopRows{
			Stop:           stop.Stop,
			DistanceMeters: stop.DistanceMeters,
			MapURL:         stop.MapURL,
			Departures:     rows,
		})
	}

	out.State = total
	out.WindowMinutes = cfg.WindowMinutes
	out.RadiusMeters = cfg.RadiusMeters
	out.LocationSource = source
	out.Stops = stops
}

func (e *Evaluator) evalStationQuery(out *Result, cfg *StationQueryConfig, index *transit.Index, delays map[string]int, now time.Time) {
	if len(cfg.StationQueries) == 0 {
		out.Error = "station_queries required"
		return
	}

	boards := index.BoardsForStationQueries(now, cfg.StationQueries,
		cfg.WindowMinutes, delays, cfg.MaxStops)

	type groupKey struct {
		line      string
		direction string
	}
	grouped := map[groupKey]*Group{}
	groupStops := map[groupKey]map[string]struct{}{}
	stations := []StationRows{}
	total := 0

	for _, board := range boards {
		rows := []Row{}
		for _, dep := range board.Departures {
			if !modeAccepted(cfg.VehicleType, dep.Mode) {
				continue
			}
			if !directionAccepted(cfg.Direction, dep.Direction) {
				continue
			}
			line := extractLineCode(dep.Route)
			if cfg.RouteFilter != "" && !routeFilterMatch(cfg.RouteFilter, dep.Route, line) {
				continue
			}
			minutes, ok := minutesUntil(now, dep.RT)
			if !ok {
				continue
			}
			rows = append(rows, rowFromBoardEntry(dep, line, minutes))
			total++

			direction := dep.Direction
			if direction == "" {
				direction = transit.UnknownDirection
			}
			key := groupKey{line, direction}
			if grouped[key] == nil {
				grouped[key] = &Group{Line: line, Direction: direction}
				groupStops[key] = map[string]struct{}{}
			}
			grouped[key].Minutes = append(grouped[key].Minutes, minutes)
			groupStops[key][board.Stop] = struct{}{}
		}
		if len(rows) > 0 {
			sortRowsByMinutes(rows)
			if len(rows) > cfg.Limit {
				rows = rows[:cfg.Limit]
			}
			stations = append(stations, StationRows{Stop: board.Stop, Departures: rows})
		}
	}

	groups := make([]Group, 0, len(grouped))
	for key, group := range grouped {
		sort.Ints(group.Minutes)
		for stop := range groupStops[key] {
			group.Stops = append(group.Stops, stop)
		}
		sort.Strings(group.Stops)
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := lineSortValue(groups[i].Line), lineSortValue(groups[j].Line)
		if a != b {
			return a < b
		}
		return groups[i].Direction < groups[j].Direction
	})

	out.State = total
	out.WindowMinutes = cfg.WindowMinutes
	out.StationQueries = cfg.StationQueries
	out.Stations = stations
	out.Grouped = groups
}

func (e *Evaluator) resolveLocation(cfg *NearbyConfig) (lat, lon float64, source string, err error) {
	if cfg.LocationSource == LocationNamed {
		if cfg.SourceName == "" {
			return 0, 0, LocationNamed, fmt.Errorf("location unavailable (named source not set)")
		}
		if e.locator == nil {
			return 0, 0, cfg.SourceName, fmt.Errorf("location unavailable (no locator configured)")
		}
		lat, lon, err = e.locator.Locate(cfg.SourceName)
		if err != nil {
			return 0, 0, cfg.SourceName, fmt.Errorf("location unavailable (%s): %w", cfg.SourceName, err)
		}
		return lat, lon, cfg.SourceName, nil
	}

	if cfg.FixedLat == nil || cfg.FixedLon == nil {
		return 0, 0, LocationFixed, fmt.Errorf("location unavailable (fixed)")
	}
	return *cfg.FixedLat, *cfg.FixedLon, LocationFixed, nil
}

func rowFromDeparture(dep transit.Departure, line string, minutes int) Row {
	depPlanned, depRT := dep.DeparturePlanned, dep.DepartureRT
	arrPlanned, arrRT := dep.ArrivalPlanned, dep.ArrivalRT
	return Row{
		TripID:           dep.TripID,
		Route:            dep.Route,
		Line:             line,
		Mode:             dep.Mode,
		Direction:        dep.Direction,
		FromStop:         dep.FromStop,
		ToStop:           dep.ToStop,
		DeparturePlanned: &depPlanned,
		DepartureRT:      &depRT,
		ArrivalPlanned:   &arrPlanned,
		ArrivalRT:        &arrRT,
		DelayMinutes:     dep.DelayMinutes,
		Minutes:          minutes,
	}
}

func rowFromBoardEntry(dep transit.BoardEntry, line string, minutes int) Row {
	planned, rt := dep.Planned, dep.RT
	return Row{
		TripID:       dep.TripID,
		Route:        dep.Route,
		Line:         line,
		Mode:         dep.Mode,
		Direction:    dep.Direction,
		Planned:      &planned,
		RT:           &rt,
		DelayMinutes: dep.DelayMinutes,
		Minutes:      minutes,
	}
}

func sortRowsByMinutes(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Minutes < rows[j].Minutes })
}

var leadingDigits = regexp.MustCompile(`^(\d+)`)

// extractLineCode derives the short line code from a route label like
// "11 - Črnomerec - Dubec".
func extractLineCode(routeLabel string) string {
	prefix := strings.TrimSpace(strings.SplitN(routeLabel, "-", 2)[0])
	if match := leadingDigits.FindString(prefix); match != "" {
		return match
	}
	if prefix != "" {
		return prefix
	}
	return "?"
}

// minutesUntil floors the whole minutes from now to t; departures already in
// the past are rejected.
func minutesUntil(now, t time.Time) (int, bool) {
	minutes := int(math.Floor(t.Sub(now).Seconds() / 60))
	if minutes < 0 {
		return 0, false
	}
	return minutes, true
}

// routeFilterMatch accepts an exact line code, a "N -" label prefix, or a
// substring of the route label, case-insensitively.
func routeFilterMatch(routeFilter, routeLabel, lineCode string) bool {
	filter := strings.ToLower(strings.TrimSpace(routeFilter))
	if filter == "" {
		return true
	}
	if strings.ToLower(strings.TrimSpace(lineCode)) == filter {
		return true
	}
	label := strings.ToLower(strings.TrimSpace(routeLabel))
	if strings.HasPrefix(label, filter+" -") {
		return true
	}
	return strings.Contains(label, filter)
}

func modeAccepted(filter, mode string) bool {
	return filter == "" || filter == transit.FilterAll || filter == mode
}

func directionAccepted(filter, direction string) bool {
	return filter == "" || filter == transit.FilterAll || filter == direction
}

// lineSortValue orders numeric line codes first, everything else last.
func lineSortValue(line string) int {
	if v, err := strconv.Atoi(line); err == nil {
		return v
	}
	return 9999
}
