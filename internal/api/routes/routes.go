// Package routes binds every route served by the conductor API.
package routes

import (
	"github.com/ahrav/conductor/internal/api/callbacks"
	"github.com/ahrav/conductor/internal/api/health"
	"github.com/ahrav/conductor/internal/api/jobs"
	"github.com/ahrav/conductor/internal/api/mux"
	"github.com/ahrav/conductor/pkg/web"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(app *web.App, cfg mux.Config) {
	health.Routes(app, health.Config{
		Build:  cfg.Build,
		Log:    cfg.Log,
		Checks: cfg.Checks,
	})

	jobs.Routes(app, jobs.Config{
		Log:       cfg.Log,
		Jobs:      cfg.Jobs,
		Metrics:   cfg.Metrics,
		PublicURL: cfg.PublicURL,
	})

	callbacks.Routes(app, callbacks.Config{
		Log:      cfg.Log,
		Callback: cfg.Callbacks,
	})
}
