// Package stackd embeds the local service supervisor: dependency-ordered
// starts, health verification, crash restarts and captured service output.
package stackd

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/stackd/internal/config"
	"github.com/loykin/stackd/internal/history"
	"github.com/loykin/stackd/internal/history/factory"
	"github.com/loykin/stackd/internal/logs"
	"github.com/loykin/stackd/internal/metrics"
	iapi "github.com/loykin/stackd/internal/server"
	"github.com/loykin/stackd/internal/service"
	"github.com/loykin/stackd/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Supervisor = supervisor.Supervisor

type Option = supervisor.Option

type Definition = service.Definition

type Override = service.Override

type State = service.State

type Port = service.Port

type HealthCheck = service.HealthCheck

type RestartPolicy = service.RestartPolicy

type ConfigProvider = supervisor.ConfigProvider

type Config = cfg.Config

type OverrideStore = cfg.OverrideStore

type HistorySink = history.Sink

type HistoryEvent = history.Event

type LogEntry = logs.Entry

// Lifecycle states.
const (
	StateStopped    = service.StateStopped
	StateStarting   = service.StateStarting
	StateRunning    = service.StateRunning
	StateRestarting = service.StateRestarting
	StateError      = service.StateError
)

// Health check kinds.
const (
	CheckPID  = service.CheckPID
	CheckPort = service.CheckPort
	CheckHTTP = service.CheckHTTP
)

var (
	ErrNotFound         = supervisor.ErrNotFound
	ErrCycleDetected    = supervisor.ErrCycleDetected
	ErrDisabled         = supervisor.ErrDisabled
	ErrBinaryUnresolved = supervisor.ErrBinaryUnresolved
	ErrSpawnFailed      = supervisor.ErrSpawnFailed
	ErrStopFailed       = supervisor.ErrStopFailed
	ErrNotRunning       = supervisor.ErrNotRunning
)

var (
	WithLogger           = supervisor.WithLogger
	WithRoot             = supervisor.WithRoot
	WithLogs             = supervisor.WithLogs
	WithProber           = supervisor.WithProber
	WithHealthRetries    = supervisor.WithHealthRetries
	WithStopTimeout      = supervisor.WithStopTimeout
	WithTickInterval     = supervisor.WithTickInterval
	WithDependencyPolicy = supervisor.WithDependencyPolicy
	WithHistory          = supervisor.WithHistory
	WithEnv              = supervisor.WithEnv
	WithObserver         = supervisor.WithObserver
)

// New builds a supervisor for defs.
func New(defs []Definition, opts ...Option) (*Supervisor, error) { return supervisor.New(defs, opts...) }

// DefaultOverride returns an enabled override that changes nothing.
func DefaultOverride() Override { return service.DefaultOverride() }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewFromConfig builds a supervisor from a loaded config. opts are applied
// after the config-derived options and win over them.
func NewFromConfig(c *Config, opts ...Option) (*Supervisor, error) {
	globalEnv, err := c.GlobalEnv()
	if err != nil {
		return nil, err
	}
	base := []Option{
		supervisor.WithRoot(c.Root),
		supervisor.WithLogs(logs.New(logs.Config{
			Dir:        c.LogDir,
			ExportDir:  c.Logs.ExportDir,
			Limit:      c.Logs.Limit,
			MaxSize:    int64(c.Logs.MaxSizeMB) << 20,
			MaxBackups: c.Logs.MaxBackups,
		}, nil)),
		supervisor.WithEnv(globalEnv),
		supervisor.WithStopTimeout(c.StopTimeout),
		supervisor.WithTickInterval(c.TickInterval),
		supervisor.WithHealthRetries(c.HealthRetries),
		supervisor.WithDependencyPolicy(supervisor.DependencyPolicy(c.DependencyPolicy)),
	}
	return supervisor.New(c.Definitions(), append(base, opts...)...)
}

// NewOverrideStore opens the per-service override files under root.
func NewOverrideStore(root string) *OverrideStore { return cfg.NewOverrideStore(root) }

// NewHistorySink creates a history sink from a DSN (sqlite, postgres,
// clickhouse or opensearch).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewHTTPHandler returns the control API for s mounted under basePath.
// A nil provider makes start requests without a body use static definitions.
func NewHTTPHandler(s *Supervisor, basePath string, provider ConfigProvider) http.Handler {
	return newRouter(s, basePath, provider).Handler()
}

// NewHTTPServer returns an unstarted server exposing the control API.
func NewHTTPServer(addr, basePath string, s *Supervisor, provider ConfigProvider) *http.Server {
	return iapi.NewServer(addr, newRouter(s, basePath, provider))
}

func newRouter(s *Supervisor, basePath string, provider ConfigProvider) *iapi.Router {
	var opts []iapi.RouterOption
	if provider != nil {
		opts = append(opts, iapi.WithConfigProvider(provider))
	}
	return iapi.NewRouter(s, basePath, opts...)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics from the default registry on addr in the
// caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
