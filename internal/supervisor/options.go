package supervisor

import (
	"log/slog"
	"time"

	"github.com/loykin/stackd/internal/env"
	"github.com/loykin/stackd/internal/health"
	"github.com/loykin/stackd/internal/history"
	"github.com/loykin/stackd/internal/logs"
	"github.com/loykin/stackd/internal/service"
)

// DependencyPolicy decides what a failed dependency start does to its dependent.
type DependencyPolicy string

const (
	// DependencyPolicyTolerate logs the dependency failure and starts the dependent anyway.
	DependencyPolicyTolerate DependencyPolicy = "tolerate"
	// DependencyPolicyFailFast aborts the dependent with the dependency's error.
	DependencyPolicyFailFast DependencyPolicy = "fail-fast"
)

// Defaults used when an option is not supplied.
const (
	DefaultStopTimeout  = 3 * time.Second
	DefaultTickInterval = 5 * time.Second
	historyTimeout      = 2 * time.Second
)

type Option func(*Supervisor)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRoot sets the directory relative binaries, working dirs and data dirs resolve against.
func WithRoot(root string) Option { return func(s *Supervisor) { s.root = root } }

// WithLogs sets the pipeline that receives process output and lifecycle events.
func WithLogs(p *logs.Pipeline) Option { return func(s *Supervisor) { s.logs = p } }

// WithProvisioner sets the binary provisioner.
func WithProvisioner(p Provisioner) Option { return func(s *Supervisor) { s.provisioner = p } }

// WithProber replaces the health prober.
func WithProber(p health.Prober) Option { return func(s *Supervisor) { s.prober = p } }

// WithHealthRetries sets the number of probe attempts during start.
func WithHealthRetries(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.healthRetries = n
		}
	}
}

// WithStopTimeout sets how long Stop waits after the graceful signal before killing.
func WithStopTimeout(d time.Duration) Option { return func(s *Supervisor) { s.stopTimeout = d } }

// WithTickInterval sets the cadence of Run.
func WithTickInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithDependencyPolicy selects how dependency start failures are handled.
func WithDependencyPolicy(p DependencyPolicy) Option {
	return func(s *Supervisor) {
		if p != "" {
			s.depPolicy = p
		}
	}
}

// WithHistory adds lifecycle event sinks.
func WithHistory(sinks ...history.Sink) Option {
	return func(s *Supervisor) { s.history = append(s.history, sinks...) }
}

// WithEnv sets the base environment services inherit.
func WithEnv(e *env.Env) Option {
	return func(s *Supervisor) {
		if e != nil {
			s.env = e
		}
	}
}

// WithDataInitializers replaces the first-run data initializers keyed by service id.
func WithDataInitializers(m map[string]DataInitializer) Option {
	return func(s *Supervisor) { s.dataInit = m }
}

// WithObserver registers a callback invoked, under the supervisor lock, on every state write.
// It must not call back into the supervisor.
func WithObserver(fn func(service.State)) Option {
	return func(s *Supervisor) { s.observers = append(s.observers, fn) }
}
