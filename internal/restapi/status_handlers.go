package restapi

import (
	"encoding/json"
	"net/http"
	"time"
)

func (api *RestAPI) statusHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := api.Manager.Snapshot()
	api.sendJSON(w, r, http.StatusOK, map[string]any{
		"status":  snapshot,
		"watches": len(api.Watches.List()),
	})
}

func (api *RestAPI) feedSelectHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.badRequestResponse(w, r, "invalid JSON body")
		return
	}
	if body.Version == "" {
		api.validationErrorResponse(w, r, map[string][]string{"version": {"version is required"}})
		return
	}

	ok, err := api.Manager.ForceSelectFeed(r.Context(), body.Version)
	if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}
	if !ok {
		api.notFoundResponse(w, r, "feed version not cached: "+body.Version)
		return
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{"status": api.Manager.Snapshot()})
}

func (api *RestAPI) feedRefreshHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.Manager.RefreshStatic(r.Context(), true); err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}
	api.Manager.RefreshRealtime(r.Context(), true)
	api.Manager.ValidateActiveFeed(time.Now())
	api.sendJSON(w, r, http.StatusOK, map[string]any{"status": api.Manager.Snapshot()})
}

func (api *RestAPI) feedRebuildHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.Manager.RebuildIndexes(r.Context()); err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{"status": api.Manager.Snapshot()})
}
