package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/conductor/internal/api"
	"github.com/ahrav/conductor/internal/api/debug"
	"github.com/ahrav/conductor/internal/api/health"
	"github.com/ahrav/conductor/internal/api/mux"
	"github.com/ahrav/conductor/internal/api/routes"
	"github.com/ahrav/conductor/internal/app/cluster"
	jobsapp "github.com/ahrav/conductor/internal/app/jobs"
	"github.com/ahrav/conductor/internal/config"
	"github.com/ahrav/conductor/internal/config/providers"
	"github.com/ahrav/conductor/internal/db"
	"github.com/ahrav/conductor/internal/domain/events"
	domain "github.com/ahrav/conductor/internal/domain/jobs"
	"github.com/ahrav/conductor/internal/infra/cluster/kubernetes"
	"github.com/ahrav/conductor/internal/infra/cluster/standalone"
	"github.com/ahrav/conductor/internal/infra/eventbus/memory"
	redisrelay "github.com/ahrav/conductor/internal/infra/eventbus/redis"
	"github.com/ahrav/conductor/internal/infra/messaging"
	"github.com/ahrav/conductor/internal/infra/messaging/kafka"
	"github.com/ahrav/conductor/internal/infra/messaging/webhook"
	memstore "github.com/ahrav/conductor/internal/infra/storage/jobs/memory"
	pgstore "github.com/ahrav/conductor/internal/infra/storage/jobs/postgres"
	"github.com/ahrav/conductor/pkg/common/logger"
	"github.com/ahrav/conductor/pkg/common/otel"
	"github.com/ahrav/conductor/pkg/common/timeutil"
)

var build = "develop"

const serviceType = "conductor"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	configPath := flag.String("config", os.Getenv("CONDUCTOR_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	metadata := map[string]string{
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
		"env":       cfg.Service.Env,
	}

	log := logger.NewWithMetadata(
		os.Stdout,
		logger.ParseLevel(cfg.Service.LogLevel),
		cfg.Service.Name,
		traceIDFn,
		logEvents,
		metadata,
	)

	ctx := context.Background()

	if err := run(ctx, log, cfg, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	providersOTel, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Service.Name,
		ExporterEndpoint: cfg.Telemetry.OTLPEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/liveness":  {},
			"/debug":        {},
			"/metrics":      {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)

	tracer := providersOTel.Tracer.Tracer(cfg.Service.Name)
	mp := providersOTel.Meter

	// -------------------------------------------------------------------------
	// Start Debug Service

	go func() {
		log.Info(ctx, "startup", "status", "debug router started", "host", cfg.Web.DebugHost)

		if err := http.ListenAndServe(cfg.Web.DebugHost, debug.Mux()); err != nil {
			log.Error(ctx, "shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "msg", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Provider catalog
	registry, err := providers.NewFileLoader(cfg.ProvidersFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("loading providers: %w", err)
	}
	log.Info(ctx, "startup", "status", "providers loaded", "count", len(registry.All()))

	checks := make(map[string]health.Checker)

	// -------------------------------------------------------------------------
	// Job store
	repo, closeStore, err := openStore(ctx, log, cfg.Store, tracer)
	if err != nil {
		return err
	}
	defer closeStore()
	checks["store"] = repo

	// -------------------------------------------------------------------------
	// Event bus
	log.Info(ctx, "startup", "status", "initializing event bus")

	localBroker, err := memory.NewBroker(memory.Config{
		Heartbeat:   cfg.EventBus.Heartbeat,
		MaxBacklog:  cfg.EventBus.MaxBacklog,
		TerminalTTL: cfg.EventBus.TerminalTTL,
		Grace:       cfg.EventBus.Grace,
	}, log, mp)
	if err != nil {
		return fmt.Errorf("creating event broker: %w", err)
	}
	defer localBroker.Close()

	var broker events.Broker = localBroker
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		relay := redisrelay.NewRelay(rdb, cfg.Redis.Channel, localBroker, log, tracer)
		relayCtx, cancelRelay := context.WithCancel(ctx)
		defer cancelRelay()
		if err := relay.Start(relayCtx); err != nil {
			return fmt.Errorf("starting redis event relay: %w", err)
		}
		broker = relay
		checks["redis"] = relay
	}

	// -------------------------------------------------------------------------
	// Transports
	router := messaging.NewRouter().
		Register(domain.TransportWebhook, webhook.NewSender(nil, webhook.Config{
			MaxRetries:     cfg.Webhook.MaxRetries,
			InitialBackoff: cfg.Webhook.InitialBackoff,
		}, log, tracer))

	var kafkaConn *kafka.Connection
	var kafkaMetrics kafka.Metrics
	if cfg.Kafka.Enabled() {
		log.Info(ctx, "startup", "status", "connecting to kafka", "brokers", cfg.Kafka.Brokers)

		kafkaConn, err = kafka.ConnectWithRetry(&kafka.ClientConfig{
			Brokers:       cfg.Kafka.Brokers,
			GroupID:       cfg.Kafka.GroupID,
			ClientID:      cfg.Kafka.ClientID,
			CallbackTopic: cfg.Kafka.CallbackTopic,
		})
		if err != nil {
			return fmt.Errorf("connecting to kafka: %w", err)
		}
		defer kafkaConn.Close()

		if kafkaMetrics, err = kafka.NewMetrics(mp); err != nil {
			return fmt.Errorf("creating kafka metrics: %w", err)
		}
		router.Register(domain.TransportKafka, kafka.NewWorkSender(kafkaConn.Producer, kafkaMetrics, log, tracer))
	}

	// -------------------------------------------------------------------------
	// Orchestration
	orchMetrics, err := jobsapp.NewOrchestrationMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating orchestration metrics: %w", err)
	}

	svc := jobsapp.NewService(
		jobsapp.Config{
			Dispatcher: jobsapp.DispatcherConfig{
				CallbackURL:        cfg.Web.CallbackURL(),
				SendTimeout:        cfg.Dispatcher.SendTimeout,
				MaxConcurrentSends: cfg.Dispatcher.MaxConcurrentSends,
			},
			Sweeper: jobsapp.SweeperConfig{
				Interval:        cfg.Sweeper.Interval,
				JobDeadline:     cfg.Sweeper.JobDeadline,
				SubTaskDeadline: cfg.Sweeper.SubTaskDeadline,
				Retention:       cfg.Sweeper.Retention,
				BatchSize:       cfg.Sweeper.BatchSize,
			},
			Retry: domain.RetryPolicy{
				MaxJobRetries:     cfg.Retry.MaxJobRetries,
				MaxSubTaskRetries: cfg.Retry.MaxSubTaskRetries,
			},
		},
		repo,
		registry,
		router,
		broker,
		timeutil.Default(),
		orchMetrics,
		log,
		tracer,
	)

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	if kafkaConn != nil && cfg.Kafka.CallbackTopic != "" {
		consumer := kafka.NewCallbackConsumer(
			kafkaConn.ConsumerGroup,
			cfg.Kafka.CallbackTopic,
			svc.CallbackGateway(),
			kafkaMetrics,
			log,
			tracer,
		)
		go consumer.Run(bgCtx)
	}

	// -------------------------------------------------------------------------
	// Sweeper leadership
	coord, err := newCoordinator(cfg.Cluster, log, tracer)
	if err != nil {
		return err
	}

	sweeper := svc.Sweeper()
	coord.OnLeadershipChange(sweeper.SetLeader)
	sweeper.Start(bgCtx)
	defer sweeper.Stop()

	go func() {
		if err := coord.Start(bgCtx); err != nil {
			log.Error(ctx, "startup", "status", "coordinator failed", "err", err)
		}
	}()
	defer func() {
		if err := coord.Stop(); err != nil {
			log.Error(ctx, "shutdown", "status", "coordinator stop failed", "err", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Start API Service

	log.Info(ctx, "startup", "status", "initializing API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	apiMetrics, err := api.NewAPIMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating api metrics: %w", err)
	}

	cfgMux := mux.Config{
		Build:     build,
		Log:       log,
		Tracer:    tracer,
		Metrics:   apiMetrics,
		Jobs:      svc,
		Callbacks: svc,
		Checks:    checks,
		PublicURL: cfg.Web.PublicURL,
	}

	webAPI := mux.WebAPI(cfgMux, routes.Routes(), mux.WithCORS([]string{"*"}))

	apiServer := http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      webAPI,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info(ctx, "startup", "status", "api router started", "host", apiServer.Addr)
		serverErrors <- apiServer.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.Web.ShutdownTimeout)
		defer cancel()

		// Open event streams would hold Shutdown until the timeout.
		localBroker.Close()

		if err := apiServer.Shutdown(ctx); err != nil {
			apiServer.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

// jobStore is the repository plus the readiness probe every store offers.
type jobStore interface {
	domain.JobRepository
	health.Checker
}

func openStore(ctx context.Context, log *logger.Logger, cfg config.StoreConfig, tracer trace.Tracer) (jobStore, func(), error) {
	if cfg.Driver != "postgres" {
		log.Info(ctx, "startup", "status", "using in-memory job store")
		return memstore.NewJobStore(), func() {}, nil
	}

	log.Info(ctx, "startup", "status", "connecting to postgres")

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing db config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating db pool: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	if err := db.Migrate(sqlDB); err != nil {
		sqlDB.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	sqlDB.Close()

	return pgstore.NewJobStore(pool, tracer), pool.Close, nil
}

func newCoordinator(cfg config.ClusterConfig, log *logger.Logger, tracer trace.Tracer) (cluster.Coordinator, error) {
	switch cfg.Mode {
	case "kubernetes":
		k8sCfg := cfg.Kubernetes
		coord, err := kubernetes.NewCoordinator(&k8sCfg, log, tracer)
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes coordinator: %w", err)
		}
		return coord, nil
	default:
		return standalone.NewCoordinator(log), nil
	}
}
