// Package events defines the per-job real-time events streamed to clients and
// the ports used to publish and subscribe to them.
package events

import (
	"context"

	"github.com/ahrav/conductor/pkg/common/uuid"
)

// Publisher fans an event out to every current subscriber of its job.
type Publisher interface {
	// Publish delivers e to the subscribers of e.JobID. Publishing to a job
	// with no subscribers is a no-op, except for terminal events which are
	// retained so a late subscriber still receives one.
	Publish(ctx context.Context, e Event) error
}

// Subscription is one live stream of events for a job.
type Subscription interface {
	// Events yields events in publish order, interleaved with heartbeats.
	// The channel is closed after a terminal event has been delivered, when
	// the subscription is closed, or when the consumer falls too far behind.
	Events() <-chan Event

	// Close deregisters the subscription without affecting other subscribers.
	// It is safe to call more than once.
	Close()
}

// Broker is a per-job multicast registry.
type Broker interface {
	Publisher

	// Subscribe opens a stream for jobID. The stream ends when ctx is done.
	Subscribe(ctx context.Context, jobID uuid.UUID) (Subscription, error)
}
