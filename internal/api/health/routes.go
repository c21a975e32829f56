// Package health binds the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/web"
)

// Checker reports whether a dependency is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc func(ctx context.Context) error

// Ping implements Checker.
func (f CheckFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	// Checks are pinged on every readiness probe, keyed by dependency name.
	Checks map[string]Checker
}

// Routes binds all the health check endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	app.HandlerFuncNoMid(http.MethodGet, version, "/liveness", liveness(cfg))
	app.HandlerFuncNoMid(http.MethodGet, version, "/readiness", readiness(cfg))
}

// healthResponse represents the response for health check.
type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build"`
}

// Encode implements the web.Encoder interface.
func (hr healthResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(hr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func liveness(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		return healthResponse{
			Status: "ok",
			Build:  cfg.Build,
		}
	}
}

// readyResponse represents the response for readiness check.
type readyResponse struct {
	Status string            `json:"status"`
	Failed map[string]string `json:"failed,omitempty"`
}

// Encode implements the web.Encoder interface.
func (rr readyResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(rr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// HTTPStatus implements the httpStatus interface to set the response status code.
func (rr readyResponse) HTTPStatus() int {
	if len(rr.Failed) > 0 {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func readiness(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		resp := readyResponse{Status: "ready"}
		for name, check := range cfg.Checks {
			if err := check.Ping(ctx); err != nil {
				if resp.Failed == nil {
					resp.Failed = make(map[string]string)
				}
				resp.Failed[name] = err.Error()
				cfg.Log.Warn(ctx, "Readiness check failed", "check", name, "error", err)
			}
		}
		if len(resp.Failed) > 0 {
			resp.Status = "not ready"
		}

		return resp
	}
}
