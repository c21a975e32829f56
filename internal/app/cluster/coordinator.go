// Package cluster defines how conductor replicas agree on a single leader for
// cluster-wide background work such as the timeout sweep.
package cluster

import "context"

// Coordinator manages leader election to ensure only one instance runs the
// cluster-wide background work.
type Coordinator interface {
	// Start initiates coordination and blocks until context cancellation or error.
	Start(ctx context.Context) error
	// Stop gracefully terminates coordination, releasing leadership if held.
	Stop() error
	// OnLeadershipChange registers a callback for leadership status changes.
	// It must be called before Start.
	OnLeadershipChange(cb func(isLeader bool))
}
