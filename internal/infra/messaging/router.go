// Package messaging routes work requests to the transport each provider is
// configured with.
package messaging

import (
	"context"
	"fmt"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
)

var _ domain.WorkSender = (*Router)(nil)

// Router is a domain.WorkSender that forwards each request to the sender
// registered for the provider's transport.
type Router struct {
	senders map[domain.Transport]domain.WorkSender
}

// NewRouter creates a Router with no transports registered.
func NewRouter() *Router {
	return &Router{senders: make(map[domain.Transport]domain.WorkSender)}
}

// Register installs s as the sender for t, replacing any previous one.
func (r *Router) Register(t domain.Transport, s domain.WorkSender) *Router {
	r.senders[t] = s
	return r
}

// Send dispatches req through the provider's transport.
func (r *Router) Send(ctx context.Context, provider domain.Provider, req domain.WorkRequest) error {
	s, ok := r.senders[provider.Transport]
	if !ok {
		return fmt.Errorf("no sender registered for transport %q (provider %s)", provider.Transport, provider.ID)
	}
	return s.Send(ctx, provider, req)
}
