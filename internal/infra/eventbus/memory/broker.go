// Package memory provides the in-process per-job event broker. Each job gets a
// multicast topic on first use; subscribers receive events in publish order
// with periodic heartbeats, and terminal events are retained for a while so a
// late subscriber still sees how the job ended.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/conductor/internal/domain/events"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/uuid"
)

// Config tunes the broker.
type Config struct {
	// Heartbeat is the interval between heartbeat events on idle streams.
	Heartbeat time.Duration
	// MaxBacklog bounds undelivered events per subscriber; a subscriber that
	// falls further behind is disconnected.
	MaxBacklog int
	// TerminalTTL is how long a terminal event is kept for late subscribers.
	TerminalTTL time.Duration
	// Grace bounds how long subscribers may take to drain after a terminal
	// event before they are disconnected.
	Grace time.Duration
}

// ErrClosed is returned when subscribing to a closed broker.
var ErrClosed = errors.New("event broker closed")

var _ events.Broker = (*Broker)(nil)

// Broker is the in-memory events.Broker.
type Broker struct {
	cfg Config

	mu     sync.Mutex
	topics map[uuid.UUID]*topic
	closed bool

	subscribers metric.Int64UpDownCounter
	logger      *logger.Logger
}

type topic struct {
	subs     map[*subscription]struct{}
	terminal *events.Event
	evict    *time.Timer
}

// NewBroker creates an empty broker. mp may be nil.
func NewBroker(cfg Config, log *logger.Logger, mp metric.MeterProvider) (*Broker, error) {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.MaxBacklog <= 0 {
		cfg.MaxBacklog = 256
	}
	if cfg.TerminalTTL <= 0 {
		cfg.TerminalTTL = 10 * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Second
	}

	b := &Broker{
		cfg:    cfg,
		topics: make(map[uuid.UUID]*topic),
		logger: log.With("component", "event_broker"),
	}

	if mp != nil {
		var err error
		meter := mp.Meter("conductor", metric.WithInstrumentationVersion("v0.1.0"))
		if b.subscribers, err = meter.Int64UpDownCounter(
			"event_subscribers",
			metric.WithDescription("Number of open job event subscriptions"),
		); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Publish fans e out to every subscriber of its job. Terminal events are also
// retained for TerminalTTL; any later non-terminal event (a retry) clears the
// retained one.
func (b *Broker) Publish(ctx context.Context, e events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	t, ok := b.topics[e.JobID]
	terminal := e.Type.IsTerminal()
	if !ok {
		if !terminal {
			return nil
		}
		t = newTopic()
		b.topics[e.JobID] = t
	}

	if terminal {
		b.retainTerminal(e.JobID, t, e)
	} else {
		t.clearTerminal()
		if len(t.subs) == 0 {
			delete(b.topics, e.JobID)
			return nil
		}
	}

	for s := range t.subs {
		if !s.enqueue(e) {
			b.logger.Warn(ctx, "Subscriber backlog full, disconnecting", "job_id", e.JobID)
		}
		if terminal {
			time.AfterFunc(b.cfg.Grace, s.Close)
		}
	}
	return nil
}

// Subscribe opens a stream for jobID. If a terminal event is retained for the
// job the stream yields only that event and closes.
func (b *Broker) Subscribe(ctx context.Context, jobID uuid.UUID) (events.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	t, ok := b.topics[jobID]
	if !ok {
		t = newTopic()
		b.topics[jobID] = t
	}

	s := newSubscription(b, jobID, b.cfg.MaxBacklog)
	t.subs[s] = struct{}{}
	if t.terminal != nil {
		s.enqueue(*t.terminal)
	}
	b.addSubscribers(ctx, 1)

	go s.pump(ctx, b.cfg.Heartbeat)
	return s, nil
}

// Close disconnects every subscriber and drops all retained events.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	var subs []*subscription
	for _, t := range b.topics {
		t.clearTerminal()
		for s := range t.subs {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// topicCount reports the number of live topics.
func (b *Broker) topicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

func (b *Broker) retainTerminal(jobID uuid.UUID, t *topic, e events.Event) {
	t.clearTerminal()
	evt := e
	t.terminal = &evt
	t.evict = time.AfterFunc(b.cfg.TerminalTTL, func() { b.evictTerminal(jobID, &evt) })
}

func (b *Broker) evictTerminal(jobID uuid.UUID, evt *events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || t.terminal != evt {
		return
	}
	t.terminal = nil
	if len(t.subs) == 0 {
		delete(b.topics, jobID)
	}
}

// remove deregisters s and drops its topic once nothing is left in it.
func (b *Broker) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[s.jobID]
	if !ok {
		return
	}
	if _, ok := t.subs[s]; !ok {
		return
	}
	delete(t.subs, s)
	b.addSubscribers(context.Background(), -1)
	if len(t.subs) == 0 && t.terminal == nil {
		delete(b.topics, s.jobID)
	}
}

func (b *Broker) addSubscribers(ctx context.Context, n int64) {
	if b.subscribers != nil {
		b.subscribers.Add(ctx, n)
	}
}

func newTopic() *topic { return &topic{subs: make(map[*subscription]struct{})} }

func (t *topic) clearTerminal() {
	if t.evict != nil {
		t.evict.Stop()
		t.evict = nil
	}
	t.terminal = nil
}

// subscription buffers events in an unbounded-until-MaxBacklog queue so
// publishers never block on a slow reader; a pump goroutine moves them to the
// consumer channel.
type subscription struct {
	broker *Broker
	jobID  uuid.UUID

	mu         sync.Mutex
	backlog    []events.Event
	maxBacklog int
	overflow   bool

	wake      chan struct{}
	out       chan events.Event
	stop      chan struct{}
	closeOnce sync.Once
}

var _ events.Subscription = (*subscription)(nil)

func newSubscription(b *Broker, jobID uuid.UUID, maxBacklog int) *subscription {
	return &subscription{
		broker:     b,
		jobID:      jobID,
		maxBacklog: maxBacklog,
		wake:       make(chan struct{}, 1),
		out:        make(chan events.Event),
		stop:       make(chan struct{}),
	}
}

func (s *subscription) Events() <-chan events.Event { return s.out }

func (s *subscription) Close() { s.closeOnce.Do(func() { close(s.stop) }) }

// enqueue appends e to the backlog. It reports false when the backlog is full,
// in which case the subscription is being disconnected.
func (s *subscription) enqueue(e events.Event) bool {
	s.mu.Lock()
	if len(s.backlog) >= s.maxBacklog {
		s.overflow = true
		s.mu.Unlock()
		s.signal()
		return false
	}
	s.backlog = append(s.backlog, e)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) next() (evt events.Event, ok, overflow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overflow {
		return events.Event{}, false, true
	}
	if len(s.backlog) == 0 {
		return events.Event{}, false, false
	}
	evt = s.backlog[0]
	s.backlog = s.backlog[1:]
	return evt, true, false
}

func (s *subscription) pump(ctx context.Context, heartbeat time.Duration) {
	defer close(s.out)
	defer s.broker.remove(s)

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.deliver(ctx, events.Heartbeat(s.jobID, time.Now().UTC())) {
				return
			}
		case <-s.wake:
		}

		for {
			evt, ok, overflow := s.next()
			if overflow {
				return
			}
			if !ok {
				break
			}
			if !s.deliver(ctx, evt) {
				return
			}
			if evt.Type.IsTerminal() {
				return
			}
		}
	}
}

func (s *subscription) deliver(ctx context.Context, e events.Event) bool {
	select {
	case s.out <- e:
		return true
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	}
}
