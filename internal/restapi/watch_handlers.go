package restapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/BrunoAFK/ZagrebTransit/internal/watch"
)

type watchRequest struct {
	Name    string          `json:"name"`
	Type    watch.Kind      `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

func watchIDFromParams(r *http.Request) string {
	params := httprouter.ParamsFromContext(r.Context())
	return strings.TrimSpace(params.ByName("id"))
}

func (api *RestAPI) listWatchesHandler(w http.ResponseWriter, r *http.Request) {
	api.sendJSON(w, r, http.StatusOK, map[string]any{"watches": api.Watches.List()})
}

func (api *RestAPI) addWatchHandler(w http.ResponseWriter, r *http.Request) {
	var body watchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.badRequestResponse(w, r, "invalid JSON body")
		return
	}
	if !watch.ValidKind(body.Type) {
		api.validationErrorResponse(w, r, map[string][]string{"type": {"unsupported watch type"}})
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	created, err := api.Watches.AddFromJSON(body.Name, body.Type, enabled, body.Config)
	if err != nil {
		api.badRequestResponse(w, r, err.Error())
		return
	}
	api.sendJSON(w, r, http.StatusCreated, created)
}

func (api *RestAPI) getWatchHandler(w http.ResponseWriter, r *http.Request) {
	id := watchIDFromParams(r)
	found, ok := api.Watches.Get(id)
	if !ok {
		api.notFoundResponse(w, r, "watch not found: "+id)
		return
	}
	api.sendJSON(w, r, http.StatusOK, found)
}

func (api *RestAPI) updateWatchHandler(w http.ResponseWriter, r *http.Request) {
	id := watchIDFromParams(r)
	if _, ok := api.Watches.Get(id); !ok {
		api.notFoundResponse(w, r, "watch not found: "+id)
		return
	}

	var body struct {
		Name    *string         `json:"name"`
		Enabled *bool           `json:"enabled"`
		Config  json.RawMessage `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.badRequestResponse(w, r, "invalid JSON body")
		return
	}

	updated, err := api.Watches.UpdateFromJSON(id, body.Name, body.Enabled, body.Config)
	if err != nil {
		api.badRequestResponse(w, r, err.Error())
		return
	}
	api.sendJSON(w, r, http.StatusOK, updated)
}

func (api *RestAPI) removeWatchHandler(w http.ResponseWriter, r *http.Request) {
	id := watchIDFromParams(r)
	if err := api.Watches.Remove(id); err != nil {
		api.notFoundResponse(w, r, err.Error())
		return
	}
	api.sendJSON(w, r, http.StatusOK, map[string]any{"removed": id})
}

func (api *RestAPI) duplicateWatchHandler(w http.ResponseWriter, r *http.Request) {
	id := watchIDFromParams(r)
	created, err := api.Watches.Duplicate(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			api.notFoundResponse(w, r, err.Error())
			return
		}
		api.badRequestResponse(w, r, err.Error())
		return
	}
	api.sendJSON(w, r, http.StatusCreated, created)
}

func (api *RestAPI) watchResultHandler(w http.ResponseWriter, r *http.Request) {
	id := watchIDFromParams(r)
	found, ok := api.Watches.Get(id)
	if !ok {
		api.notFoundResponse(w, r, "watch not found: "+id)
		return
	}
	api.sendJSON(w, r, http.StatusOK, api.Evaluator.Evaluate(found, time.Now()))
}
