package supervisor

import (
	"os"
	"path/filepath"

	"github.com/loykin/stackd/internal/detector"
)

// RunDir holds one pid file per live service.
func (s *Supervisor) RunDir() string {
	return filepath.Join(s.root, "run")
}

// recordPID writes the pid file of a freshly launched service. Caller holds mu.
func (s *Supervisor) recordPID(id string, pid int) {
	if err := detector.Write(s.RunDir(), id, pid); err != nil {
		s.logger.Warn("write pid file failed", "service", id, "pid", pid, "error", err)
	}
}

// ReapOrphans terminates processes recorded in the run directory that this
// supervisor does not own, such as services left behind by a crashed daemon,
// and removes their pid files. It returns the reaped pids.
func (s *Supervisor) ReapOrphans() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, bad, err := detector.Scan(s.RunDir())
	if err != nil {
		s.logger.Warn("scan run dir failed", "dir", s.RunDir(), "error", err)
		return nil
	}
	for _, path := range bad {
		s.logger.Warn("removing unreadable pid file", "path", path)
		_ = os.Remove(path)
	}
	var reaped []int
	for _, rec := range recs {
		if h := s.handles[rec.Service]; h != nil && h.PID() == rec.PID {
			continue
		}
		if rec.Alive() {
			s.logger.Warn("terminating orphaned service", "service", rec.Service, "pid", rec.PID)
			if err := detector.Terminate(rec.PID, s.stopTimeout); err != nil {
				s.logger.Error("terminate orphan failed", "service", rec.Service, "pid", rec.PID, "error", err)
				continue
			}
			if _, known := s.defs[rec.Service]; known {
				s.logs.Info(rec.Service, "terminated orphaned process")
			}
			reaped = append(reaped, rec.PID)
		}
		_ = detector.Remove(s.RunDir(), rec.Service)
	}
	return reaped
}
