package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/conductor/internal/domain/events"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/internal/infra/storage/jobs/memory"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/timeutil"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(ctx context.Context, p domain.Provider, req domain.WorkRequest) error {
	args := m.Called(ctx, p, req)
	return args.Error(0)
}

// recordingBroker keeps every published event and forwards it to open
// subscriptions synchronously.
type recordingBroker struct {
	mu     sync.Mutex
	events []events.Event
	subs   map[uuid.UUID][]chan events.Event
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{subs: make(map[uuid.UUID][]chan events.Event)}
}

func (b *recordingBroker) Publish(_ context.Context, e events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	for _, ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

func (b *recordingBroker) Subscribe(_ context.Context, jobID uuid.UUID) (events.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan events.Event, 64)
	b.subs[jobID] = append(b.subs[jobID], ch)
	return &chanSubscription{ch: ch}, nil
}

func (b *recordingBroker) ofType(typ events.EventType) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type chanSubscription struct {
	ch   chan events.Event
	once sync.Once
}

func (s *chanSubscription) Events() <-chan events.Event { return s.ch }
func (s *chanSubscription) Close()                      { s.once.Do(func() { close(s.ch) }) }

type harness struct {
	svc    *Service
	repo   *memory.JobStore
	sender *mockSender
	broker *recordingBroker
	clock  *timeutil.Manual
}

func testProviders() []domain.Provider {
	return []domain.Provider{
		{ID: "alpha", Transport: domain.TransportWebhook, Target: "http://alpha", Kinds: []string{"search"}},
		{ID: "beta", Transport: domain.TransportWebhook, Target: "http://beta", Kinds: []string{"search"}},
		{ID: "gamma", Transport: domain.TransportKafka, Target: "gamma-work", Kinds: []string{"search"}},
	}
}

func newHarness(t *testing.T, repo domain.JobRepository) *harness {
	t.Helper()

	registry, err := domain.NewProviderRegistry(testProviders())
	require.NoError(t, err)

	metrics, err := NewOrchestrationMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	store := memory.NewJobStore()
	if repo == nil {
		repo = store
	}

	h := &harness{
		repo:   store,
		sender: new(mockSender),
		broker: newRecordingBroker(),
		clock:  timeutil.NewManual(t0),
	}
	h.svc = NewService(
		Config{
			Dispatcher: DispatcherConfig{CallbackURL: "http://conductor/v1/callbacks"},
			Sweeper: SweeperConfig{
				JobDeadline:     time.Hour,
				SubTaskDeadline: 10 * time.Minute,
				Retention:       24 * time.Hour,
			},
			Retry: domain.RetryPolicy{MaxJobRetries: 3, MaxSubTaskRetries: 3},
		},
		repo,
		registry,
		h.sender,
		h.broker,
		h.clock,
		metrics,
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)
	return h
}

func (h *harness) sendOK() {
	h.sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func (h *harness) create(t *testing.T) *domain.Job {
	t.Helper()
	job, err := h.svc.CreateJob(context.Background(), CreateJobRequest{Kind: "search", Input: []byte(`{"q":"go"}`)})
	require.NoError(t, err)
	return job
}

func (h *harness) load(t *testing.T, id uuid.UUID) *domain.Job {
	t.Helper()
	job, err := h.svc.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func subTaskFor(t *testing.T, job *domain.Job, providerID string) *domain.SubTask {
	t.Helper()
	for _, st := range job.SubTasks() {
		if st.ProviderID() == providerID {
			return st
		}
	}
	t.Fatalf("no sub-task for provider %s", providerID)
	return nil
}

func callbackFor(job *domain.Job, st *domain.SubTask, status domain.SubTaskStatus) domain.Callback {
	return domain.Callback{
		JobID:      job.ID(),
		SubTaskID:  st.ID(),
		ProviderID: st.ProviderID(),
		Status:     status,
		Token:      job.CallbackToken(),
	}
}
