// Package kubernetes elects a conductor leader with a Kubernetes Lease.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/ahrav/conductor/internal/app/cluster"
	"github.com/ahrav/conductor/pkg/common/logger"
)

// Compile-time check to verify that Coordinator implements the Coordinator interface.
var _ cluster.Coordinator = new(Coordinator)

// Coordinator runs lease-based leader election so that exactly one replica
// sweeps for expired jobs at a time.
type Coordinator struct {
	client kubernetes.Interface
	config K8sConfig

	leaderElector *leaderelection.LeaderElector
	// Called when leadership status changes.
	leadershipChangeCB func(isLeader bool)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	logger *logger.Logger
	tracer trace.Tracer
}

// NewCoordinator creates a coordinator using the in-cluster config, falling
// back to a kubeconfig file.
func NewCoordinator(cfg *K8sConfig, logger *logger.Logger, tracer trace.Tracer) (*Coordinator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	client, err := getKubernetesClient(cfg.KubeConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client for coordinator: %w", err)
	}
	return newCoordinator(client, cfg, logger, tracer)
}

func newCoordinator(client kubernetes.Interface, cfg *K8sConfig, logger *logger.Logger, tracer trace.Tracer) (*Coordinator, error) {
	_, span := tracer.Start(context.Background(), "kubernetes_coordinator.new",
		trace.WithAttributes(
			attribute.String("namespace", cfg.Namespace),
			attribute.String("identity", cfg.Identity),
		),
	)
	defer span.End()

	c := &Coordinator{
		client: client,
		config: cfg.withDefaults(),
		logger: logger.With(
			"component", "kubernetes_coordinator",
			"namespace", cfg.Namespace,
			"leader_lock_id", cfg.LeaderLockID,
			"identity", cfg.Identity,
		),
		tracer: tracer,
	}

	// Configure lease-based leader election lock.
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      c.config.LeaderLockID,
			Namespace: c.config.Namespace,
		},
		Client: client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: c.config.Identity,
		},
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   c.config.LeaseDuration,
		RenewDeadline:   c.config.RenewDeadline,
		RetryPeriod:     c.config.RetryPeriod,
		ReleaseOnCancel: true,
		Name:            c.config.LeaderLockID,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: c.onStartedLeading,
			OnStoppedLeading: c.onStoppedLeading,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create leader elector")
		return nil, fmt.Errorf("creating leader elector: %w", err)
	}
	c.leaderElector = elector
	span.AddEvent("leader_elector_created")

	return c, nil
}

// Start runs leader election and blocks until ctx is canceled or Stop is
// called. Leadership is released on return.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		cancel()
		return errors.New("coordinator already started")
	}
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	c.logger.Info(ctx, "Starting leader elector")
	go func() {
		defer close(done)
		c.leaderElector.Run(ctx)
	}()

	<-ctx.Done()
	<-done
	return nil
}

// Stop releases leadership and waits for the elector to exit.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	c.logger.Info(context.Background(), "Stopping leader elector")
	cancel()
	<-done
	return nil
}

// OnLeadershipChange registers a callback that will be invoked when this instance
// gains or loses leadership.
func (c *Coordinator) OnLeadershipChange(cb func(isLeader bool)) {
	c.leadershipChangeCB = cb
}

func (c *Coordinator) onStartedLeading(ctx context.Context) {
	_, span := c.tracer.Start(ctx, "kubernetes_coordinator.on_started_leading")
	defer span.End()

	c.logger.Info(ctx, "Became leader")
	if c.leadershipChangeCB != nil {
		c.leadershipChangeCB(true)
	}
}

func (c *Coordinator) onStoppedLeading() {
	ctx, span := c.tracer.Start(context.Background(), "kubernetes_coordinator.on_stopped_leading")
	defer span.End()

	c.logger.Info(ctx, "Lost leadership")
	if c.leadershipChangeCB != nil {
		c.leadershipChangeCB(false)
	}
}
