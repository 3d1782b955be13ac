package transit

import "time"

// Vehicle mode labels derived from route_type.
const (
	ModeTram  = "tram"
	ModeBus   = "bus"
	ModeOther = "other"

	// FilterAll is the wildcard accepted by every mode/direction/route filter.
	FilterAll = "All"
)

// UnknownDirection is substituted for blank trip headsigns.
const UnknownDirection = "Unknown"

// StopTime is one scheduled call of a trip at a stop. Times are seconds since
// midnight of the trip's service day; GTFS allows values past 24h for trips
// running over midnight.
type StopTime struct {
	StopID        string
	Seq           int
	DepartureSecs int
	ArrivalSecs   int
}

// Departure is one upcoming origin/destination departure record.
type Departure struct {
	TripID           string    `json:"trip_id"`
	Route            string    `json:"route"`
	Mode             string    `json:"mode,omitempty"`
	Direction        string    `json:"direction"`
	FromStop         string    `json:"from_stop"`
	ToStop           string    `json:"to_stop"`
	DeparturePlanned time.Time `json:"departure_planned"`
	DepartureRT      time.Time `json:"departure_rt"`
	ArrivalPlanned   time.Time `json:"arrival_planned"`
	ArrivalRT        time.Time `json:"arrival_rt"`
	DelayMinutes     float64   `json:"delay_minutes"`
}

// BoardEntry is one departure on a station board.
type BoardEntry struct {
	TripID       string    `json:"trip_id"`
	Route        string    `json:"route"`
	Direction    string    `json:"direction"`
	Mode         string    `json:"mode"`
	Planned      time.Time `json:"planned"`
	RT           time.Time `json:"rt"`
	DelayMinutes float64   `json:"delay_minutes"`
}

// NearbyStop is a stop within the requested radius together with its board.
type NearbyStop struct {
	Stop           string       `json:"stop"`
	DistanceMeters float64      `json:"distance_meters"`
	TramDepartures int          `json:"tram_departures"`
	BusDepartures  int          `json:"bus_departures"`
	MapURL         string       `json:"map_url,omitempty"`
	Departures     []BoardEntry `json:"departures"`
}

// ODBoard is the windowed view over one exact origin-destination pairing.
// When nothing departs inside the window but later departures exist, the
// board carries the minutes until the soonest one instead of an empty list.
type ODBoard struct {
	Departures    []Departure `json:"departures"`
	OutsideWindow bool        `json:"outside_window"`
	NextMinutes   int         `json:"next_minutes,omitempty"`
}

// StationBoard pairs a matched station label with its board.
type StationBoard struct {
	Stop       string       `json:"stop"`
	Departures []BoardEntry `json:"departures"`
}

// ModeForRouteType classifies a GTFS route_type into tram/bus/other. Covers
// the standard codes plus the extended TPEG/HVT families used by many EU
// feeds.
func ModeForRouteType(routeType int, known bool) string {
	if !known {
		return ModeOther
	}
	if routeType == 0 || (routeType >= 900 && routeType <= 906) {
		return ModeTram
	}
	if routeType == 3 ||
		routeType == 11 || // trolleybus
		(routeType >= 700 && routeType <= 716) ||
		routeType == 800 {
		return ModeBus
	}
	return ModeOther
}
