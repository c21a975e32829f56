// Package jobs binds the job endpoints: creation, inspection, retry,
// cancellation and the per-job server-sent event stream.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ahrav/conductor/internal/api"
	"github.com/ahrav/conductor/internal/api/errs"
	jobsapp "github.com/ahrav/conductor/internal/app/jobs"
	"github.com/ahrav/conductor/internal/domain/events"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/uuid"
	"github.com/ahrav/conductor/pkg/web"
)

// maxBodyBytes bounds the size of a job creation request.
const maxBodyBytes = 1 << 20

// JobService is the subset of the orchestration service used by the handlers.
type JobService interface {
	CreateJob(ctx context.Context, req jobsapp.CreateJobRequest) (*domain.Job, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	CancelJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	RetryJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	StreamJob(ctx context.Context, jobID uuid.UUID) (events.Subscription, error)
}

// Config contains the dependencies needed by the job handlers.
type Config struct {
	Log     *logger.Logger
	Jobs    JobService
	Metrics api.APIMetrics
	// PublicURL is the externally reachable base URL used to build stream
	// links.
	PublicURL string
}

// Routes binds all the job endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	app.HandlerFunc(http.MethodPost, version, "/jobs", create(cfg))
	app.HandlerFunc(http.MethodGet, version, "/jobs/{id}", get(cfg))
	app.HandlerFunc(http.MethodPost, version, "/jobs/{id}/retry", retry(cfg))
	app.HandlerFunc(http.MethodPost, version, "/jobs/{id}/cancel", cancel(cfg))
	app.HandlerFunc(http.MethodGet, version, "/jobs/{id}/events", stream(cfg))
}

func create(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var req createRequest
		body := http.MaxBytesReader(web.GetWriter(ctx), r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		if err := errs.Check(req); err != nil {
			return errs.New(errs.InvalidArgument, err)
		}

		job, err := cfg.Jobs.CreateJob(ctx, jobsapp.CreateJobRequest{
			Kind:      req.Kind,
			Input:     req.Parameters,
			Providers: req.Providers,
		})
		if err != nil {
			return errs.Domain(err)
		}

		return createResponse{
			JobID:     job.ID().String(),
			Status:    job.Status().String(),
			StreamURL: streamURL(cfg.PublicURL, job.ID()),
		}
	}
}

func get(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, bad := parseJobID(r)
		if bad != nil {
			return bad
		}

		job, err := cfg.Jobs.GetJob(ctx, jobID)
		if err != nil {
			return errs.Domain(err)
		}

		return toJobResponse(job)
	}
}

func retry(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, bad := parseJobID(r)
		if bad != nil {
			return bad
		}

		job, err := cfg.Jobs.RetryJob(ctx, jobID)
		if err != nil {
			return errs.Domain(err)
		}

		return toJobResponse(job)
	}
}

func cancel(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, bad := parseJobID(r)
		if bad != nil {
			return bad
		}

		job, err := cfg.Jobs.CancelJob(ctx, jobID)
		if err != nil {
			return errs.Domain(err)
		}

		return toJobResponse(job)
	}
}

// stream writes the job's events as server-sent events until the terminal
// event is delivered, the subscription ends or the client goes away.
func stream(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, bad := parseJobID(r)
		if bad != nil {
			return bad
		}

		w := web.GetWriter(ctx)
		if w == nil {
			return errs.Newf(errs.Internal, "response writer unavailable")
		}

		sub, err := cfg.Jobs.StreamJob(ctx, jobID)
		if err != nil {
			return errs.Domain(err)
		}
		defer sub.Close()

		rc := http.NewResponseController(w)
		// Streams outlive the server's write timeout.
		if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			cfg.Log.Warn(ctx, "Failed to clear write deadline", "job_id", jobID, "error", err)
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			cfg.Log.Warn(ctx, "Failed to flush stream headers", "job_id", jobID, "error", err)
		}

		if cfg.Metrics != nil {
			cfg.Metrics.AddOpenStreams(ctx, 1)
			defer cfg.Metrics.AddOpenStreams(context.Background(), -1)
		}

		for {
			select {
			case <-ctx.Done():
				return web.NewNoResponse()
			case evt, ok := <-sub.Events():
				if !ok {
					return web.NewNoResponse()
				}
				if err := writeEvent(w, evt); err != nil {
					cfg.Log.Debug(ctx, "Stream write failed, closing", "job_id", jobID, "error", err)
					return web.NewNoResponse()
				}
				if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
					return web.NewNoResponse()
				}
				if evt.Type.IsTerminal() {
					return web.NewNoResponse()
				}
			}
		}
	}
}

// writeEvent frames evt as one SSE message named after its type.
func writeEvent(w http.ResponseWriter, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err
}

func parseJobID(r *http.Request) (uuid.UUID, *errs.Error) {
	raw := web.Param(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.NewFieldErrors("id", fmt.Errorf("invalid job id %q", raw))
	}
	return id, nil
}

func streamURL(publicURL string, jobID uuid.UUID) string {
	return strings.TrimRight(publicURL, "/") + "/v1/jobs/" + jobID.String() + "/events"
}
