// Package supervisor launches, monitors, restarts and tears down the local
// service fleet under dependency and health constraints.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/stackd/internal/env"
	"github.com/loykin/stackd/internal/health"
	"github.com/loykin/stackd/internal/history"
	"github.com/loykin/stackd/internal/logs"
	"github.com/loykin/stackd/internal/metrics"
	"github.com/loykin/stackd/internal/process"
	"github.com/loykin/stackd/internal/runtime"
	"github.com/loykin/stackd/internal/service"
)

// Provisioner locates service binaries.
type Provisioner interface {
	ResolveBinary(binary string) (string, error)
	EnsureService(name, version string) (runtime.Binary, error)
	ScopedPath(binary string) string
	BinPathFor(name, version string) string
}

// ConfigProvider supplies the persisted per-service override.
type ConfigProvider interface {
	LoadServiceConfig(id string) (service.Override, error)
}

// Supervisor owns every service's state, live process and restart counter.
// A single mutex guards all of them and is held for the whole of each
// operation, including health-probe retries during start and the crash
// backoff during Tick.
type Supervisor struct {
	mu sync.Mutex

	order    []string
	defs     map[string]service.Definition
	states   map[string]service.State
	handles  map[string]*process.Process
	applied  map[string]service.Definition // effective definition of each live handle
	restarts map[string]int

	root          string
	logger        *slog.Logger
	logs          *logs.Pipeline
	provisioner   Provisioner
	prober        health.Prober
	env           *env.Env
	history       []history.Sink
	dataInit      map[string]DataInitializer
	observers     []func(service.State)
	healthRetries int
	stopTimeout   time.Duration
	tickInterval  time.Duration
	depPolicy     DependencyPolicy

	// process control, replaceable in tests
	stop func(p *process.Process, grace time.Duration) error
	kill func(p *process.Process) error

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a supervisor for defs. Ids must be unique and non-empty.
func New(defs []service.Definition, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		defs:          make(map[string]service.Definition, len(defs)),
		states:        make(map[string]service.State),
		handles:       make(map[string]*process.Process),
		applied:       make(map[string]service.Definition),
		restarts:      make(map[string]int),
		logger:        slog.Default(),
		prober:        health.Default,
		env:           env.New(),
		dataInit:      DefaultDataInitializers(),
		healthRetries: health.DefaultRetries,
		stopTimeout:   DefaultStopTimeout,
		tickInterval:  DefaultTickInterval,
		depPolicy:     DependencyPolicyTolerate,
		stop:          (*process.Process).Stop,
		kill:          (*process.Process).Kill,
	}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("service definition without id")
		}
		if _, dup := s.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate service id %q", d.ID)
		}
		s.defs[d.ID] = d.Clone()
		s.order = append(s.order, d.ID)
	}
	for _, o := range opts {
		o(s)
	}
	if s.root == "" {
		s.root = "."
	}
	if s.provisioner == nil {
		s.provisioner = runtime.NewLocal(s.root)
	}
	if s.logs == nil {
		s.logs = logs.New(logs.Config{Dir: filepath.Join(s.root, "logs")}, s.logger)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Definitions returns copies of the static definitions in declaration order.
func (s *Supervisor) Definitions() []service.Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]service.Definition, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.defs[id].Clone())
	}
	return out
}

// List returns the state of every defined service in definition order,
// materialising "stopped" for services never touched.
func (s *Supervisor) List() []service.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]service.State, 0, len(s.order))
	for _, id := range s.order {
		st, ok := s.states[id]
		if !ok {
			st = service.NewState(id, service.StateStopped)
			s.states[id] = st
		}
		out = append(out, st)
	}
	return out
}

// State returns the current state of one service.
func (s *Supervisor) State(id string) (service.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[id]; !ok {
		return service.State{}, notFound(id)
	}
	return s.current(id), nil
}

// RestartCount returns the crash-restart counter of a service.
func (s *Supervisor) RestartCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts[id]
}

// Health runs a single probe against the service's static health check.
func (s *Supervisor) Health(id string) (string, error) {
	s.mu.Lock()
	def, ok := s.defs[id]
	s.mu.Unlock()
	if !ok {
		return "", notFound(id)
	}
	if err := s.prober.Probe(s.ctx, def.HealthCheck); err != nil {
		return "", fmt.Errorf("%w: %w", health.ErrHealthCheckFailed, err)
	}
	return "ok", nil
}

// Logs returns the newest tail entries of a service.
func (s *Supervisor) Logs(id string, tail int) []logs.Entry {
	return s.logs.Tail(id, tail)
}

// LogPath returns the log file of a service.
func (s *Supervisor) LogPath(id string) string {
	return s.logs.Path(id)
}

// ExportLogs writes a filtered export and returns its path.
func (s *Supervisor) ExportLogs(serviceID, level string, limit int) (string, error) {
	return s.logs.Export(logs.ExportOptions{Service: serviceID, Level: level, Limit: limit})
}

// ClearLogs clears one service's logs, or all logs for an empty id.
func (s *Supervisor) ClearLogs(serviceID string) error {
	return s.logs.Clear(serviceID)
}

// Usage samples CPU and memory of a live service.
func (s *Supervisor) Usage(ctx context.Context, id string) (metrics.Usage, error) {
	s.mu.Lock()
	_, known := s.defs[id]
	h := s.handles[id]
	s.mu.Unlock()
	if !known {
		return metrics.Usage{}, notFound(id)
	}
	if h == nil {
		return metrics.Usage{}, fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	u, err := metrics.SampleProcess(ctx, h.PID())
	if err != nil {
		return metrics.Usage{}, err
	}
	metrics.ObserveUsage(id, u)
	return u, nil
}

// Snapshot reports host usage together with the ports of live services.
func (s *Supervisor) Snapshot(ctx context.Context) (metrics.Snapshot, error) {
	s.mu.Lock()
	var ports []int
	for _, d := range s.applied {
		ports = append(ports, d.PortNumbers()...)
	}
	s.mu.Unlock()
	return metrics.HostSnapshot(ctx, ports)
}

// TickInterval is the cadence used by Run.
func (s *Supervisor) TickInterval() time.Duration { return s.tickInterval }

// Run reaps orphans once, then calls Tick every tick interval until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	if pids := s.ReapOrphans(); len(pids) > 0 {
		s.logger.Info("reaped orphaned services", "pids", pids)
	}
	t := time.NewTicker(s.tickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Tick()
		}
	}
}

// Shutdown aborts in-flight probe waits and stops every live service.
func (s *Supervisor) Shutdown() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, id := range s.order {
		if s.handles[id] == nil {
			continue
		}
		if _, err := s.stopLocked(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// current returns the recorded state, or a synthesized stopped state. Caller holds mu.
func (s *Supervisor) current(id string) service.State {
	if st, ok := s.states[id]; ok {
		return st
	}
	return service.NewState(id, service.StateStopped)
}

// setState records st and publishes the transition. Caller holds mu.
func (s *Supervisor) setState(st service.State) service.State {
	prev := s.current(st.ID).State
	s.states[st.ID] = st
	metrics.RecordStateTransition(st.ID, prev, st.State)
	for _, fn := range s.observers {
		fn(st)
	}
	return st
}

// emit sends a lifecycle event to every history sink. Failures are logged only.
func (s *Supervisor) emit(t history.EventType, st service.State) {
	if len(s.history) == 0 {
		return
	}
	rec := history.Record{Service: st.ID, State: st.State, LastError: st.LastError, UpdatedAt: st.UpdatedAt}
	if st.PID != nil {
		rec.PID = *st.PID
	}
	evt := history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}
	for _, h := range s.history {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := h.Send(ctx, evt); err != nil {
			s.logger.Warn("history sink failed", "service", st.ID, "event", string(t), "error", err)
		}
		cancel()
	}
}
