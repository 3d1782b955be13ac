package restapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Routes builds the API router. Callers may mount extra routes on it before
// wrapping it with Handler.
func (api *RestAPI) Routes() *httprouter.Router {
	router := httprouter.New()

	router.HandlerFunc(http.MethodGet, "/v1/routes", api.routesHandler)
	router.HandlerFunc(http.MethodGet, "/v1/stations", api.stationsHandler)
	router.HandlerFunc(http.MethodGet, "/v1/route/directions", api.routeDirectionsHandler)
	router.HandlerFunc(http.MethodGet, "/v1/route/stops", api.routeStopsHandler)
	router.HandlerFunc(http.MethodGet, "/v1/route/to-stops", api.routeToStopsHandler)
	router.HandlerFunc(http.MethodGet, "/v1/station/directions", api.stationDirectionsHandler)
	router.HandlerFunc(http.MethodGet, "/v1/od", api.odHandler)
	router.HandlerFunc(http.MethodGet, "/v1/departures", api.departuresHandler)
	router.HandlerFunc(http.MethodGet, "/v1/board", api.boardHandler)
	router.HandlerFunc(http.MethodGet, "/v1/nearby", api.nearbyHandler)

	router.HandlerFunc(http.MethodGet, "/v1/status", api.statusHandler)
	router.HandlerFunc(http.MethodPost, "/v1/feed/select", api.feedSelectHandler)
	router.HandlerFunc(http.MethodPost, "/v1/feed/refresh", api.feedRefreshHandler)
	router.HandlerFunc(http.MethodPost, "/v1/feed/rebuild", api.feedRebuildHandler)

	router.HandlerFunc(http.MethodGet, "/v1/watches", api.listWatchesHandler)
	router.HandlerFunc(http.MethodPost, "/v1/watches", api.addWatchHandler)
	router.HandlerFunc(http.MethodGet, "/v1/watches/:id", api.getWatchHandler)
	router.HandlerFunc(http.MethodPatch, "/v1/watches/:id", api.updateWatchHandler)
	router.HandlerFunc(http.MethodDelete, "/v1/watches/:id", api.removeWatchHandler)
	router.HandlerFunc(http.MethodPost, "/v1/watches/:id/duplicate", api.duplicateWatchHandler)
	router.HandlerFunc(http.MethodGet, "/v1/watches/:id/result", api.watchResultHandler)

	return router
}

// Handler wraps the router with request logging.
func (api *RestAPI) Handler(router *httprouter.Router) http.Handler {
	return NewRequestLoggingMiddleware(api.Logger)(router)
}
