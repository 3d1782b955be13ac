// Package restapi exposes the transit index, feed lifecycle and watch
// registry over a JSON HTTP API.
package restapi

import (
	"github.com/BrunoAFK/ZagrebTransit/internal/app"
)

type RestAPI struct {
	*app.Application
}

// NewRestAPI creates a new RestAPI instance.
func NewRestAPI(app *app.Application) *RestAPI {
	return &RestAPI{Application: app}
}
