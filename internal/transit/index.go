// Package transit holds the in-memory schedule index and its query engine.
//
// An Index is built once per feed generation and never mutated afterwards;
// replacing the feed means building a fresh Index and swapping the pointer.
// All query methods are pure reads over the built structures plus the
// caller-supplied clock and realtime delay map, so they are safe to call
// concurrently.
package transit

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BrunoAFK/ZagrebTransit/internal/gtfszip"
)

type tripInfo struct {
	RouteID   string
	ServiceID string
	Headsign  string
}

type stopDeparture struct {
	TripID        string
	DepartureSecs int
}

type coord struct {
	Lat float64
	Lon float64
}

// Index owns every derived lookup table for one parsed feed generation.
type Index struct {
	routes         map[string]string // route id -> display label
	routeTypes     map[string]int
	routeLabelToID map[string]string

	stops         map[string]string // stop id -> name
	stopCoords    map[string]coord
	stopLabelToID map[string]string

	trips           map[string]tripInfo
	tripsByRoute    map[string][]string
	stopTimesByTrip map[string][]StopTime

	// departuresByStop is sorted ascending by departure seconds, declaration
	// order preserved for ties.
	departuresByStop map[string][]stopDeparture

	calendar      map[string]calendarEntry
	calendarDates map[string][]calendarException

	cacheMu       sync.Mutex
	servicesCache map[string]map[string]struct{}
}

// NewIndex parses the feed archive and builds all lookup structures.
func NewIndex(payload []byte) (*Index, error) {
	idx := &Index{
		routes:           map[string]string{},
		routeTypes:       map[string]int{},
		routeLabelToID:   map[string]string{},
		stops:            map[string]string{},
		stopCoords:       map[string]coord{},
		stopLabelToID:    map[string]string{},
		trips:            map[string]tripInfo{},
		tripsByRoute:     map[string][]string{},
		stopTimesByTrip:  map[string][]StopTime{},
		departuresByStop: map[string][]stopDeparture{},
		calendar:         map[string]calendarEntry{},
		calendarDates:    map[string][]calendarException{},
		servicesCache:    map[string]map[string]struct{}{},
	}
	if err := idx.load(payload); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) load(payload []byte) error {
	routes, err := gtfszip.ReadTable(payload, "routes.txt")
	if err != nil {
		return fmt.Errorf("loading routes: %w", err)
	}
	for _, row := range routes {
		routeID := row["route_id"]
		if routeID == "" {
			continue
		}
		short := strings.TrimSpace(row["route_short_name"])
		long := strings.TrimSpace(row["route_long_name"])
		label := strings.Trim(short+" - "+long, " -")
		if label == "" {
			label = routeID
		}
		idx.routes[routeID] = label
		idx.routeLabelToID[label] = routeID

		rt, err := strconv.Atoi(strings.TrimSpace(row["route_type"]))
		if err != nil {
			rt = 3
		}
		idx.routeTypes[routeID] = rt
	}

	stops, err := gtfszip.ReadTable(payload, "stops.txt")
	if err != nil {
		return fmt.Errorf("loading stops: %w", err)
	}
	for _, row := range stops {
		stopID := row["stop_id"]
		name := strings.TrimSpace(row["stop_name"])
		if stopID == "" || name == "" {
			continue
		}
		idx.stops[stopID] = name
		idx.stopLabelToID[stopLabelFor(name, stopID)] = stopID

		lat, latErr := strconv.ParseFloat(strings.TrimSpace(row["stop_lat"]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(row["stop_lon"]), 64)
		if latErr == nil && lonErr == nil {
			idx.stopCoords[stopID] = coord{Lat: lat, Lon: lon}
		}
	}

	trips, err := gtfszip.ReadTable(payload, "trips.txt")
	if err != nil {
		return fmt.Errorf("loading trips: %w", err)
	}
	for _, row := range trips {
		tripID := row["trip_id"]
		routeID := row["route_id"]
		serviceID := row["service_id"]
		if tripID == "" || routeID == "" || serviceID == "" {
			continue
		}
		idx.trips[tripID] = tripInfo{
			RouteID:   routeID,
			ServiceID: serviceID,
			Headsign:  strings.TrimSpace(row["trip_headsign"]),
		}
		idx.tripsByRoute[routeID] = append(idx.tripsByRoute[routeID], tripID)
	}

	stopTimes, err := gtfszip.ReadTable(payload, "stop_times.txt")
	if err != nil {
		return fmt.Errorf("loading stop_times: %w", err)
	}
	for _, row := range stopTimes {
		tripID := row["trip_id"]
		stopID := row["stop_id"]
		if tripID == "" || stopID == "" {
			continue
		}
		seq, _ := strconv.Atoi(strings.TrimSpace(row["stop_sequence"]))
		st := StopTime{
			StopID:        stopID,
			Seq:           seq,
			DepartureSecs: hhmmssToSeconds(row["departure_time"]),
			ArrivalSecs:   hhmmssToSeconds(row["arrival_time"]),
		}
		idx.stopTimesByTrip[tripID] = append(idx.stopTimesByTrip[tripID], st)
		idx.departuresByStop[stopID] = append(idx.departuresByStop[stopID], stopDeparture{
			TripID:        tripID,
			DepartureSecs: st.DepartureSecs,
		})
	}

	for tripID := range idx.stopTimesByTrip {
		items := idx.stopTimesByTrip[tripID]
		sort.SliceStable(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	}
	for stopID := range idx.departuresByStop {
		items := idx.departuresByStop[stopID]
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].DepartureSecs < items[j].DepartureSecs
		})
	}

	if err := idx.loadCalendar(payload); err != nil {
		return err
	}

	slog.Debug("transit index loaded",
		slog.Int("routes", len(idx.routes)),
		slog.Int("stops", len(idx.stops)),
		slog.Int("trips", len(idx.trips)))
	return nil
}

// Counts reports the sizes of the primary tables.
func (idx *Index) Counts() (routes, stops, trips int) {
	return len(idx.routes), len(idx.stops), len(idx.trips)
}

func (idx *Index) stopLabel(stopID string) string {
	name, ok := idx.stops[stopID]
	if !ok {
		name = stopID
	}
	return stopLabelFor(name, stopID)
}

func stopLabelFor(name, stopID string) string {
	return fmt.Sprintf("%s [%s]", name, stopID)
}

func (idx *Index) headsign(tripID string) string {
	if hs := idx.trips[tripID].Headsign; hs != "" {
		return hs
	}
	return UnknownDirection
}

func (idx *Index) modeForRoute(routeID string) string {
	rt, ok := idx.routeTypes[routeID]
	return ModeForRouteType(rt, ok)
}

func hhmmssToSeconds(value string) int {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return 0
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return hours*3600 + minutes*60 + seconds
}

// timeForServiceDay anchors seconds-since-midnight onto midnight of the given
// service day. Hour values past 24:00:00 land on the following calendar day,
// which is exactly the GTFS convention for trips running over midnight.
func timeForServiceDay(serviceDay time.Time, secs int) time.Time {
	midnight := time.Date(serviceDay.Year(), serviceDay.Month(), serviceDay.Day(),
		0, 0, 0, 0, serviceDay.Location())
	return midnight.Add(time.Duration(secs) * time.Second)
}
