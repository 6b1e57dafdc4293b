package supervisor

import (
	"fmt"

	"github.com/loykin/stackd/internal/history"
	"github.com/loykin/stackd/internal/metrics"
	"github.com/loykin/stackd/internal/service"
)

// Stop terminates a service's process, if any, and marks it stopped. Stopping a
// stopped service is a no-op that still reports "stopped".
func (s *Supervisor) Stop(id string) (service.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[id]; !ok {
		return service.State{}, notFound(id)
	}
	return s.stopLocked(id)
}

func (s *Supervisor) stopLocked(id string) (service.State, error) {
	pid := 0
	if h := s.handles[id]; h != nil {
		pid = h.PID()
		if err := s.stop(h, s.stopTimeout); err != nil {
			// the process may still run: keep its handle, pid file and state
			s.logs.Error(id, fmt.Sprintf("stop failed: %v", err))
			s.logger.Error("stop failed", "service", id, "pid", pid, "error", err)
			return s.current(id), fmt.Errorf("%w: %s: %w", ErrStopFailed, id, err)
		}
		s.dropHandle(id)
		metrics.IncStop(id)
	}
	st := s.setState(service.NewState(id, service.StateStopped))
	s.logs.Info(id, "service stopped")
	s.logger.Info("service stopped", "service", id, "pid", pid)
	if pid != 0 {
		s.emit(history.EventStop, st.WithPID(pid))
	}
	return st, nil
}

// Restart stops then starts a service with its static definition. A stop
// failure aborts the restart and restores the previous state.
func (s *Supervisor) Restart(id string) (service.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartLocked(id, nil)
}

// RestartWithConfig is Restart with a per-start override.
func (s *Supervisor) RestartWithConfig(id string, o service.Override) (service.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartLocked(id, &o)
}

func (s *Supervisor) restartLocked(id string, o *service.Override) (service.State, error) {
	if _, ok := s.defs[id]; !ok {
		return service.State{}, notFound(id)
	}
	prev := s.current(id)
	st := s.setState(service.NewState(id, service.StateRestarting))
	s.emit(history.EventRestart, st)
	if _, err := s.stopLocked(id); err != nil {
		return s.setState(prev), err
	}
	return s.startLocked(id, o)
}

// ApplyConfig records that a new configuration was supplied without touching
// the running process. Changes take effect on the next start.
func (s *Supervisor) ApplyConfig(id string, _ service.Override) (service.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[id]; !ok {
		return service.State{}, notFound(id)
	}
	s.logs.Info(id, "applied config without restart")
	return s.current(id), nil
}
