package jobs

import (
	"errors"
	"fmt"
	"slices"
)

// Transport identifies how work requests reach a provider.
type Transport string

const (
	// TransportKafka publishes work requests to a Kafka topic.
	TransportKafka Transport = "kafka"

	// TransportWebhook POSTs work requests to an HTTP endpoint.
	TransportWebhook Transport = "webhook"
)

func (t Transport) String() string { return string(t) }

// Provider is an external worker that can execute sub-tasks.
type Provider struct {
	ID          string
	Description string
	Transport   Transport
	// Target is the topic for kafka providers and the URL for webhook
	// providers.
	Target string
	// TaskType is stamped on every sub-task routed to the provider.
	TaskType string
	// Kinds lists the job kinds the provider serves by default.
	Kinds []string
	// RateLimit caps work requests per second; zero means unlimited.
	RateLimit float64
}

// Serves reports whether the provider handles jobs of kind by default.
func (p Provider) Serves(kind string) bool { return slices.Contains(p.Kinds, kind) }

// ProviderRegistry is the closed set of providers known to the service. It is
// immutable after construction.
type ProviderRegistry struct {
	byID  map[string]Provider
	order []string
}

// NewProviderRegistry validates providers and indexes them by id.
func NewProviderRegistry(providers []Provider) (*ProviderRegistry, error) {
	r := &ProviderRegistry{byID: make(map[string]Provider, len(providers))}

	var errs []error
	for _, p := range providers {
		switch {
		case p.ID == "":
			errs = append(errs, errors.New("provider with empty id"))
			continue
		case p.Target == "":
			errs = append(errs, fmt.Errorf("provider %s: empty target", p.ID))
		case p.Transport != TransportKafka && p.Transport != TransportWebhook:
			errs = append(errs, fmt.Errorf("provider %s: unsupported transport %q", p.ID, p.Transport))
		}
		if _, dup := r.byID[p.ID]; dup {
			errs = append(errs, fmt.Errorf("provider %s: duplicate id", p.ID))
			continue
		}
		if p.TaskType == "" {
			p.TaskType = p.ID
		}
		r.byID[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return r, nil
}

// Get returns the provider with id.
func (r *ProviderRegistry) Get(id string) (Provider, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// All returns every provider in registration order.
func (r *ProviderRegistry) All() []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Select resolves the providers for a job. An explicit list is honoured as
// given, after removing duplicates; otherwise every provider serving kind is
// selected in registration order.
func (r *ProviderRegistry) Select(kind string, explicit []string) ([]Provider, error) {
	if len(explicit) > 0 {
		seen := make(map[string]struct{}, len(explicit))
		out := make([]Provider, 0, len(explicit))
		for _, id := range explicit {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			p, ok := r.byID[id]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
			}
			out = append(out, p)
		}
		return out, nil
	}

	var out []Provider
	for _, id := range r.order {
		if p := r.byID[id]; p.Serves(kind) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoProviders, kind)
	}
	return out, nil
}
