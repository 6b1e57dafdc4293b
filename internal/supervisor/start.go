package supervisor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/stackd/internal/detector"
	"github.com/loykin/stackd/internal/env"
	"github.com/loykin/stackd/internal/health"
	"github.com/loykin/stackd/internal/history"
	"github.com/loykin/stackd/internal/metrics"
	"github.com/loykin/stackd/internal/process"
	"github.com/loykin/stackd/internal/runtime"
	"github.com/loykin/stackd/internal/service"
)

// Start brings a service up with its static definition, starting its
// dependencies first. A failed health verification is reported through the
// returned state, not the error.
func (s *Supervisor) Start(id string) (service.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(id, nil)
}

// StartWithConfig is Start with a per-start override applied to id only.
func (s *Supervisor) StartWithConfig(id string, o service.Override) (service.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(id, &o)
}

func (s *Supervisor) startLocked(id string, o *service.Override) (service.State, error) {
	if _, ok := s.defs[id]; !ok {
		return service.State{}, notFound(id)
	}
	if err := s.checkCycle(id); err != nil {
		return s.current(id), err
	}
	return s.start(id, o, &startPass{visiting: map[string]bool{}, done: map[string]error{}})
}

// startPass tracks one Start call. A service shared by several dependents is
// attempted once per pass; later visits reuse its outcome.
type startPass struct {
	visiting map[string]bool
	done     map[string]error
}

func (s *Supervisor) start(id string, o *service.Override, pass *startPass) (service.State, error) {
	if err, ok := pass.done[id]; ok {
		return s.current(id), err
	}
	st, err := s.startOnce(id, o, pass)
	pass.done[id] = err
	return st, err
}

// checkCycle walks the dependency closure of id. Unknown dependency ids are
// skipped here and reported when the start reaches them.
func (s *Supervisor) checkCycle(id string) error {
	const (
		visiting = 1
		done     = 2
	)
	marks := make(map[string]int)
	var path []string
	var visit func(string) error
	visit = func(cur string) error {
		switch marks[cur] {
		case visiting:
			return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, strings.Join(path, " -> "), cur)
		case done:
			return nil
		}
		def, ok := s.defs[cur]
		if !ok {
			return nil
		}
		marks[cur] = visiting
		path = append(path, cur)
		for _, dep := range def.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		marks[cur] = done
		return nil
	}
	return visit(id)
}

func (s *Supervisor) startOnce(id string, o *service.Override, pass *startPass) (service.State, error) {
	def, ok := s.defs[id]
	if !ok {
		return service.State{}, notFound(id)
	}
	if pass.visiting[id] {
		return s.current(id), fmt.Errorf("%w: %s", ErrCycleDetected, id)
	}
	pass.visiting[id] = true
	defer delete(pass.visiting, id)

	for _, dep := range def.DependsOn {
		if _, err := s.start(dep, nil, pass); err != nil {
			if errors.Is(err, ErrCycleDetected) || s.depPolicy == DependencyPolicyFailFast {
				return s.current(id), fmt.Errorf("dependency %s: %w", dep, err)
			}
			s.logs.Error(id, fmt.Sprintf("dependency failed to start: %s: %v", dep, err))
			s.logger.Warn("dependency failed to start", "service", id, "dependency", dep, "error", err)
		}
	}

	if st, ok := s.states[id]; ok && st.State == service.StateRunning {
		return st, nil
	}

	if o != nil {
		if !o.Enabled {
			return s.current(id), fmt.Errorf("%w: %s", ErrDisabled, id)
		}
		def = def.Apply(*o)
		if o.Version != "" {
			def.Binary = s.provisioner.BinPathFor(def.ID, o.Version)
		}
		s.logs.Info(id, "applied config")
	}

	binary, err := s.resolveBinary(def)
	if err != nil {
		s.logs.Error(id, err.Error())
		return s.current(id), err
	}

	// at most one live process per service
	if h := s.handles[id]; h != nil {
		if err := s.kill(h); err != nil {
			s.logs.Error(id, fmt.Sprintf("kill of previous process failed: %v", err))
			s.logger.Error("kill of previous process failed", "service", id, "pid", h.PID(), "error", err)
			return s.current(id), fmt.Errorf("%w: %s: %w", ErrStopFailed, id, err)
		}
		s.dropHandle(id)
	}

	s.initData(def, binary)

	s.setState(service.NewState(id, service.StateStarting))
	p, err := process.Launch(s.processSpec(def, binary), s.logs)
	if err != nil {
		st := s.setState(service.NewState(id, service.StateError).WithError(err.Error()))
		s.logs.Error(id, fmt.Sprintf("spawn failed: %v", err))
		s.logger.Error("spawn failed", "service", id, "binary", binary, "error", err)
		return st, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, id, err)
	}
	s.handles[id] = p
	s.applied[id] = def
	s.recordPID(id, p.PID())
	metrics.IncStart(id)

	began := time.Now()
	perr := health.ProbeWithRetries(s.ctx, s.prober, def.HealthCheck, s.healthRetries)
	metrics.ObserveStartDuration(id, time.Since(began).Seconds())

	st := service.NewState(id, service.StateRunning).WithPID(p.PID())
	if perr != nil {
		st.State = service.StateError
		st = st.WithError(perr.Error())
		metrics.IncHealthFailure(id)
		s.logger.Warn("health check failed", "service", id, "pid", p.PID(), "error", perr)
	} else {
		s.restarts[id] = 0
	}
	s.setState(st)
	s.logs.Info(id, "service started")
	s.logger.Info("service started", "service", id, "pid", p.PID(), "state", st.State)
	s.emit(history.EventStart, st)
	return st, nil
}

// resolveBinary resolves def.Binary, provisioning the default version once
// when the first lookup fails.
func (s *Supervisor) resolveBinary(def service.Definition) (string, error) {
	binary, err := s.provisioner.ResolveBinary(def.Binary)
	if err == nil {
		return binary, nil
	}
	if version, ok := runtime.DefaultVersions()[def.ID]; ok {
		if _, ensureErr := s.provisioner.EnsureService(def.ID, version); ensureErr != nil {
			s.logger.Debug("ensure service failed", "service", def.ID, "version", version, "error", ensureErr)
		}
		if binary, err2 := s.provisioner.ResolveBinary(def.Binary); err2 == nil {
			return binary, nil
		}
	}
	return "", fmt.Errorf("%w: %w", ErrBinaryUnresolved, err)
}

func (s *Supervisor) processSpec(def service.Definition, binary string) process.Spec {
	environ := env.WithPath(s.env.Merge(def.Env), s.provisioner.ScopedPath(binary))
	return process.Spec{
		ID:      def.ID,
		Binary:  binary,
		Args:    def.Args,
		WorkDir: s.resolvePath(def.WorkDir),
		Env:     environ,
	}
}

// resolvePath makes p absolute against the supervisor root. Empty stays empty.
func (s *Supervisor) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.root, p)
}

// dropHandle forgets a live handle. Caller holds mu.
func (s *Supervisor) dropHandle(id string) {
	delete(s.handles, id)
	delete(s.applied, id)
	if err := detector.Remove(s.RunDir(), id); err != nil {
		s.logger.Debug("remove pid file failed", "service", id, "error", err)
	}
}
