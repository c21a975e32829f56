// Package config loads the service configuration from an optional YAML file
// and CONDUCTOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ahrav/conductor/internal/infra/cluster/kubernetes"
)

// EnvPrefix prefixes every environment override, e.g. CONDUCTOR_STORE_DSN.
const EnvPrefix = "CONDUCTOR"

// Config is the complete service configuration.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Web        WebConfig        `mapstructure:"web"`
	Store      StoreConfig      `mapstructure:"store"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	Retry      RetryConfig      `mapstructure:"retry"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`
	Cluster    ClusterConfig    `mapstructure:"cluster"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	// ProvidersFile is the path of the provider catalog.
	ProvidersFile string `mapstructure:"providers_file"`
}

type ServiceConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

type WebConfig struct {
	APIHost         string        `mapstructure:"api_host"`
	DebugHost       string        `mapstructure:"debug_host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// PublicURL is the externally reachable base URL; callback and stream
	// URLs handed to clients and workers are built from it.
	PublicURL string `mapstructure:"public_url"`
}

// CallbackURL is the endpoint workers post results to.
func (w WebConfig) CallbackURL() string {
	return strings.TrimRight(w.PublicURL, "/") + "/v1/callbacks"
}

type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type KafkaConfig struct {
	// Brokers empty disables the Kafka transport.
	Brokers       []string `mapstructure:"brokers"`
	GroupID       string   `mapstructure:"group_id"`
	ClientID      string   `mapstructure:"client_id"`
	CallbackTopic string   `mapstructure:"callback_topic"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type RedisConfig struct {
	// Addr empty disables cross-replica event relay.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type WebhookConfig struct {
	MaxRetries     uint64        `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

type DispatcherConfig struct {
	SendTimeout        time.Duration `mapstructure:"send_timeout"`
	MaxConcurrentSends int           `mapstructure:"max_concurrent_sends"`
}

type SweeperConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	JobDeadline     time.Duration `mapstructure:"job_deadline"`
	SubTaskDeadline time.Duration `mapstructure:"subtask_deadline"`
	Retention       time.Duration `mapstructure:"retention"`
	BatchSize       int           `mapstructure:"batch_size"`
}

type RetryConfig struct {
	MaxJobRetries     int `mapstructure:"max_job_retries"`
	MaxSubTaskRetries int `mapstructure:"max_subtask_retries"`
}

type EventBusConfig struct {
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
	MaxBacklog  int           `mapstructure:"max_backlog"`
	TerminalTTL time.Duration `mapstructure:"terminal_ttl"`
	Grace       time.Duration `mapstructure:"grace"`
}

type ClusterConfig struct {
	// Mode is "standalone" or "kubernetes".
	Mode       string               `mapstructure:"mode"`
	Kubernetes kubernetes.K8sConfig `mapstructure:"kubernetes"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	Probability  float64 `mapstructure:"probability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "conductor")
	v.SetDefault("service.env", "development")
	v.SetDefault("service.log_level", "info")

	v.SetDefault("web.api_host", "0.0.0.0:8080")
	v.SetDefault("web.debug_host", "0.0.0.0:8090")
	v.SetDefault("web.read_timeout", 5*time.Second)
	// SSE streams outlive any write deadline; the handler clears it per stream.
	v.SetDefault("web.write_timeout", 10*time.Second)
	v.SetDefault("web.idle_timeout", 120*time.Second)
	v.SetDefault("web.shutdown_timeout", 20*time.Second)
	v.SetDefault("web.public_url", "http://localhost:8080")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.max_conns", 10)

	v.SetDefault("kafka.group_id", "conductor")
	v.SetDefault("kafka.client_id", "conductor")
	v.SetDefault("kafka.callback_topic", "conductor-callbacks")

	v.SetDefault("redis.channel", "conductor:job-events")

	v.SetDefault("webhook.max_retries", 3)
	v.SetDefault("webhook.initial_backoff", 200*time.Millisecond)

	v.SetDefault("dispatcher.send_timeout", 15*time.Second)
	v.SetDefault("dispatcher.max_concurrent_sends", 8)

	v.SetDefault("sweeper.interval", 30*time.Second)
	v.SetDefault("sweeper.job_deadline", 30*time.Minute)
	v.SetDefault("sweeper.subtask_deadline", 10*time.Minute)
	v.SetDefault("sweeper.retention", 7*24*time.Hour)
	v.SetDefault("sweeper.batch_size", 500)

	v.SetDefault("retry.max_job_retries", 3)
	v.SetDefault("retry.max_subtask_retries", 3)

	v.SetDefault("event_bus.heartbeat", 15*time.Second)
	v.SetDefault("event_bus.max_backlog", 256)
	v.SetDefault("event_bus.terminal_ttl", 10*time.Minute)
	v.SetDefault("event_bus.grace", 30*time.Second)

	v.SetDefault("cluster.mode", "standalone")
	v.SetDefault("cluster.kubernetes.namespace", "default")
	v.SetDefault("cluster.kubernetes.leader_lock_id", "conductor-sweeper")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.probability", 0.1)

	v.SetDefault("providers_file", "providers.yaml")
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnv registers every known key so that AutomaticEnv also applies during
// Unmarshal, including keys with no default.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"store.dsn",
		"kafka.brokers",
		"redis.addr", "redis.password", "redis.db",
		"cluster.kubernetes.identity", "cluster.kubernetes.kubeconfig",
		"cluster.kubernetes.lease_duration", "cluster.kubernetes.renew_deadline",
		"cluster.kubernetes.retry_period",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, postgres", c.Store.Driver))
	}

	switch c.Cluster.Mode {
	case "standalone":
	case "kubernetes":
		if c.Cluster.Kubernetes.Identity == "" {
			errs = append(errs, errors.New("cluster.kubernetes.identity is required in kubernetes mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("cluster.mode %q is not one of standalone, kubernetes", c.Cluster.Mode))
	}

	if c.Web.PublicURL == "" {
		errs = append(errs, errors.New("web.public_url is required"))
	}
	if c.Retry.MaxJobRetries < 0 || c.Retry.MaxSubTaskRetries < 0 {
		errs = append(errs, errors.New("retry limits must not be negative"))
	}

	return errors.Join(errs...)
}
