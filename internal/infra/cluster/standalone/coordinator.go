// Package standalone provides a Coordinator for single-replica deployments,
// where the only instance is always the leader.
package standalone

import (
	"context"
	"sync"

	"github.com/ahrav/conductor/internal/app/cluster"
	"github.com/ahrav/conductor/pkg/common/logger"
)

var _ cluster.Coordinator = (*Coordinator)(nil)

// Coordinator reports leadership as soon as it starts and gives it up when
// stopped.
type Coordinator struct {
	cb     func(isLeader bool)
	logger *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCoordinator(logger *logger.Logger) *Coordinator {
	return &Coordinator{logger: logger.With("component", "standalone_coordinator")}
}

func (c *Coordinator) OnLeadershipChange(cb func(isLeader bool)) { c.cb = cb }

// Start declares leadership and blocks until ctx is canceled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel, c.done = cancel, done
	c.mu.Unlock()
	defer close(done)

	c.logger.Info(ctx, "Running standalone, assuming leadership")
	c.notify(true)
	<-ctx.Done()
	c.notify(false)
	return nil
}

func (c *Coordinator) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (c *Coordinator) notify(isLeader bool) {
	if c.cb != nil {
		c.cb(isLeader)
	}
}
