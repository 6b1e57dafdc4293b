package supervisor

import (
	"time"

	"github.com/loykin/stackd/internal/history"
	"github.com/loykin/stackd/internal/metrics"
	"github.com/loykin/stackd/internal/service"
)

// Tick reaps exited processes, restarts crashed ones within their retry budget,
// then re-probes every running or starting service once.
func (s *Supervisor) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollExits()
	s.refreshHealth()
}

func (s *Supervisor) pollExits() {
	for _, id := range s.order {
		h := s.handles[id]
		if h == nil {
			continue
		}
		exited, exitErr := h.Exited()
		if !exited {
			continue
		}
		pid := h.PID()
		s.dropHandle(id)
		success := exitErr == nil
		metrics.IncExit(id, success)

		var st service.State
		if success {
			st = s.setState(service.NewState(id, service.StateStopped))
			s.logs.Info(id, "process exited")
			s.logger.Info("process exited", "service", id, "pid", pid)
		} else {
			st = s.setState(service.NewState(id, service.StateError).WithError("process exited"))
			s.logs.Error(id, "process exited")
			s.logger.Warn("process exited", "service", id, "pid", pid, "error", exitErr)
		}
		s.emit(history.EventExit, st.WithPID(pid))

		if success {
			s.restarts[id] = 0
			continue
		}
		policy := s.defs[id].RestartPolicy
		if s.restarts[id] >= policy.MaxRetries {
			continue
		}
		s.restarts[id]++
		s.logs.Info(id, "restarting after crash")
		s.logger.Info("restarting after crash", "service", id, "attempt", s.restarts[id], "max_retries", policy.MaxRetries)
		metrics.IncRestart(id)
		if policy.Backoff > 0 {
			time.Sleep(policy.Backoff)
		}
		// crash restarts use the static definition
		if _, err := s.startLocked(id, nil); err != nil {
			s.logger.Error("restart after crash failed", "service", id, "error", err)
		}
	}
}

func (s *Supervisor) refreshHealth() {
	for _, id := range s.order {
		st, ok := s.states[id]
		if !ok || !st.Active() {
			continue
		}
		if err := s.prober.Probe(s.ctx, s.defs[id].HealthCheck); err != nil {
			metrics.IncHealthFailure(id)
			next := service.NewState(id, service.StateError).WithError(err.Error())
			next.PID = st.PID
			s.setState(next)
			continue
		}
		if st.State != service.StateRunning {
			next := service.NewState(id, service.StateRunning)
			next.PID = st.PID
			s.setState(next)
		}
	}
}
