package app

import (
	"log/slog"

	"github.com/BrunoAFK/ZagrebTransit/internal/config"
	"github.com/BrunoAFK/ZagrebTransit/internal/transit"
	"github.com/BrunoAFK/ZagrebTransit/internal/watch"
)

// Application holds the dependencies for our HTTP handlers, helpers,
// and middleware.
type Application struct {
	Config    config.Config
	Logger    *slog.Logger
	Manager   *transit.Manager
	Watches   *watch.Registry
	Evaluator *watch.Evaluator
}
