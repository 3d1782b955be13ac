package restapi

import (
	"net/http"
	"time"

	"github.com/BrunoAFK/ZagrebTransit/internal/transit"
	"github.com/BrunoAFK/ZagrebTransit/internal/utils"
)

// index returns the current index generation, nil while no feed is loaded.
// Query handlers treat a nil index the same as an unknown label: empty
// results, not an error.
func (api *RestAPI) index() *transit.Index {
	return api.Manager.Index()
}

func (api *RestAPI) routesHandler(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = transit.FilterAll
	}

	routes := []string{}
	if idx := api.index(); idx != nil {
		routes = idx.RouteOptions(mode)
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{"routes": routes})
}

func (api *RestAPI) stationsHandler(w http.ResponseWriter, r *http.Request) {
	stations := []string{}
	if idx := api.index(); idx != nil {
		stations = idx.StationOptions()
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{"stations": stations})
}

func (api *RestAPI) routeDirectionsHandler(w http.ResponseWriter, r *http.Request) {
	route := r.URL.Query().Get("route")
	if route == "" {
		api.validationErrorResponse(w, r, map[string][]string{"route": {"route is required"}})
		return
	}

	directions := []string{}
	if idx := api.index(); idx != nil {
		directions = idx.DirectionsForRoute(route)
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{"route": route, "directions": directions})
}

func (api *RestAPI) routeStopsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	route := query.Get("route")
	if route == "" {
		api.validationErrorResponse(w, r, map[string][]string{"route": {"route is required"}})
		return
	}
	direction := query.Get("direction")

	stops := []string{}
	if idx := api.index(); idx != nil {
		stops = idx.StopsForRoute(route, direction)
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{"route": route, "stops": stops})
}

func (api *RestAPI) routeToStopsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	route := query.Get("route")
	from := query.Get("from")
	fieldErrors := map[string][]string{}
	if route == "" {
		fieldErrors["route"] = append(fieldErrors["route"], "route is required")
	}
	if from == "" {
		fieldErrors["from"] = append(fieldErrors["from"], "from is required")
	}
	if len(fieldErrors) > 0 {
		api.validationErrorResponse(w, r, fieldErrors)
		return
	}

	stops := []string{}
	if idx := api.index(); idx != nil {
		stops = idx.ToStops(route, from, query.Get("direction"))
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{"route": route, "from": from, "stops": stops})
}

func (api *RestAPI) stationDirectionsHandler(w http.ResponseWriter, r *http.Request) {
	station := r.URL.Query().Get("station")
	if station == "" {
		api.validationErrorResponse(w, r, map[string][]string{"station": {"station is required"}})
		return
	}

	directions := []string{}
	if idx := api.index(); idx != nil {
		directions = idx.DirectionsForStation(station)
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{"station": station, "directions": directions})
}

func (api *RestAPI) odHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	route := query.Get("route")
	from := query.Get("from")
	to := query.Get("to")

	fieldErrors := map[string][]string{}
	if route == "" {
		fieldErrors["route"] = append(fieldErrors["route"], "route is required")
	}
	if from == "" {
		fieldErrors["from"] = append(fieldErrors["from"], "from is required")
	}
	if to == "" {
		fieldErrors["to"] = append(fieldErrors["to"], "to is required")
	}
	window, fieldErrors := utils.ParseIntParam(query, "window", api.Config.Defaults.WindowMinutes, fieldErrors)
	limit, fieldErrors := utils.ParseIntParam(query, "limit", 20, fieldErrors)
	if len(fieldErrors) > 0 {
		api.validationErrorResponse(w, r, fieldErrors)
		return
	}

	direction := query.Get("direction")

	board := transit.ODBoard{Departures: []transit.Departure{}}
	if idx := api.index(); idx != nil {
		board = idx.ODDepartureBoard(time.Now(), route, direction, from, to, window, api.Manager.Delays(), limit)
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{
		"route":          route,
		"direction":      direction,
		"from":           from,
		"to":             to,
		"window_minutes": window,
		"departures":     board.Departures,
		"outside_window": board.OutsideWindow,
		"next_minutes":   board.NextMinutes,
	})
}

func (api *RestAPI) departuresHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from := query.Get("from")
	to := query.Get("to")

	fieldErrors := map[string][]string{}
	if from == "" {
		fieldErrors["from"] = append(fieldErrors["from"], "from is required")
	}
	if to == "" {
		fieldErrors["to"] = append(fieldErrors["to"], "to is required")
	}
	window, fieldErrors := utils.ParseIntParam(query, "window", api.Config.Defaults.WindowMinutes, fieldErrors)
	limit, fieldErrors := utils.ParseIntParam(query, "limit", 20, fieldErrors)
	if len(fieldErrors) > 0 {
		api.validationErrorResponse(w, r, fieldErrors)
		return
	}

	mode := query.Get("mode")
	if mode == "" {
		mode = transit.FilterAll
	}

	departures := []transit.Departure{}
	if idx := api.index(); idx != nil {
		departures = idx.UpcomingBetweenStopNames(time.Now(), from, to, window, api.Manager.Delays(), mode, limit)
		if departures == nil {
			departures = []transit.Departure{}
		}
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{
		"from":           from,
		"to":             to,
		"window_minutes": window,
		"departures":     departures,
	})
}

func (api *RestAPI) boardHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	station := query.Get("station")
	if station == "" {
		api.validationErrorResponse(w, r, map[string][]string{"station": {"station is required"}})
		return
	}

	fieldErrors := map[string][]string{}
	window, fieldErrors := utils.ParseIntParam(query, "window", api.Config.Defaults.WindowMinutes, fieldErrors)
	if len(fieldErrors) > 0 {
		api.validationErrorResponse(w, r, fieldErrors)
		return
	}

	direction := query.Get("direction")
	route := query.Get("route")

	departures := []transit.BoardEntry{}
	if idx := api.index(); idx != nil {
		departures = idx.StationDirectionBoard(time.Now(), station, direction, route, window, api.Manager.Delays())
		if departures == nil {
			departures = []transit.BoardEntry{}
		}
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{
		"station":        station,
		"direction":      direction,
		"route":          route,
		"window_minutes": window,
		"departures":     departures,
	})
}

func (api *RestAPI) nearbyHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	fieldErrors := map[string][]string{}
	lat, fieldErrors := utils.ParseFloatParam(query, "lat", fieldErrors)
	lon, fieldErrors := utils.ParseFloatParam(query, "lon", fieldErrors)
	if query.Get("lat") == "" {
		fieldErrors["lat"] = append(fieldErrors["lat"], "lat is required")
	}
	if query.Get("lon") == "" {
		fieldErrors["lon"] = append(fieldErrors["lon"], "lon is required")
	}
	radius, fieldErrors := utils.ParseIntParam(query, "radius", api.Config.Defaults.NearbyRadiusMeters, fieldErrors)
	window, fieldErrors := utils.ParseIntParam(query, "window", api.Config.Defaults.WindowMinutes, fieldErrors)
	maxStops, fieldErrors := utils.ParseIntParam(query, "max_stops", 8, fieldErrors)
	if len(fieldErrors) > 0 {
		api.validationErrorResponse(w, r, fieldErrors)
		return
	}

	stops := []transit.NearbyStop{}
	if idx := api.index(); idx != nil {
		stops = idx.NearbyBoard(time.Now(), lat, lon, radius, window, api.Manager.Delays(), maxStops)
		if stops == nil {
			stops = []transit.NearbyStop{}
		}
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{
		"radius_meters":  radius,
		"window_minutes": window,
		"stops":          stops,
	})
}
