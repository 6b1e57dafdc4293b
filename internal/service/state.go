package service

import "time"

// Lifecycle states reported for a service.
const (
	StateStopped    = "stopped"
	StateStarting   = "starting"
	StateRunning    = "running"
	StateRestarting = "restarting"
	StateError      = "error"
)

// State is the observed lifecycle status of a managed service.
type State struct {
	ID        string    `json:"id" yaml:"id"`
	State     string    `json:"state" yaml:"state"`
	PID       *int      `json:"pid,omitempty" yaml:"pid,omitempty"`
	LastError string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// NewState builds a state stamped with the current time.
func NewState(id, state string) State {
	return State{ID: id, State: state, UpdatedAt: time.Now().UTC()}
}

// WithPID returns a copy of s carrying pid.
func (s State) WithPID(pid int) State {
	p := pid
	s.PID = &p
	return s
}

// WithError returns a copy of s carrying msg as the last error.
func (s State) WithError(msg string) State {
	s.LastError = msg
	return s
}

// Active reports whether the service is expected to be up.
func (s State) Active() bool {
	return s.State == StateRunning || s.State == StateStarting
}
