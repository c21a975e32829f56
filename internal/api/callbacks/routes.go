// Package callbacks binds the HTTP endpoint workers use to report sub-task
// progress and results.
package callbacks

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ahrav/conductor/internal/api/errs"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/uuid"
	"github.com/ahrav/conductor/pkg/web"
)

// TokenHeader carries the callback token. When present it takes precedence
// over the token in the body.
const TokenHeader = "X-Callback-Token"

const maxBodyBytes = 4 << 20

// Acceptor applies worker callbacks.
type Acceptor interface {
	AcceptCallback(ctx context.Context, cb domain.Callback) (domain.CallbackOutcome, error)
}

// Config contains the dependencies needed by the callback handler.
type Config struct {
	Log      *logger.Logger
	Callback Acceptor
}

// Routes binds the callback endpoint.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	app.HandlerFunc(http.MethodPost, version, "/callbacks", accept(cfg))
}

// callbackRequest is the wire form of a worker callback.
type callbackRequest struct {
	JobID         uuid.UUID            `json:"jobId" validate:"required"`
	SubTaskID     uuid.UUID            `json:"subTaskId" validate:"required"`
	ProviderID    string               `json:"providerId"`
	Status        domain.SubTaskStatus `json:"status" validate:"required"`
	ResultPayload json.RawMessage      `json:"resultPayload,omitempty"`
	ErrorMessage  string               `json:"errorMessage,omitempty"`
	Items         []json.RawMessage    `json:"items,omitempty"`
	Attempt       *int                 `json:"attempt,omitempty"`
	Token         string               `json:"callbackToken,omitempty"`
}

func (cr callbackRequest) toCallback() domain.Callback {
	return domain.Callback{
		JobID:         cr.JobID,
		SubTaskID:     cr.SubTaskID,
		ProviderID:    cr.ProviderID,
		Status:        cr.Status,
		ResultPayload: cr.ResultPayload,
		ErrorMessage:  cr.ErrorMessage,
		Items:         cr.Items,
		Attempt:       cr.Attempt,
		Token:         cr.Token,
	}
}

type acceptResponse struct {
	Outcome string `json:"outcome"`
}

// Encode implements the web.Encoder interface.
func (ar acceptResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(ar)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func accept(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var req callbackRequest
		body := http.MaxBytesReader(web.GetWriter(ctx), r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		if err := errs.Check(req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		cb := req.toCallback()
		if tok := r.Header.Get(TokenHeader); tok != "" {
			cb.Token = tok
		}

		outcome, err := cfg.Callback.AcceptCallback(ctx, cb)
		if err != nil {
			return errs.Domain(err)
		}

		return acceptResponse{Outcome: outcome.String()}
	}
}
