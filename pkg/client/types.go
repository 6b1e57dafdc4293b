package client

import "time"

// ServiceState is the observed lifecycle status of a service.
type ServiceState struct {
	ID        string    `json:"id" yaml:"id"`
	State     string    `json:"state" yaml:"state"`
	PID       *int      `json:"pid,omitempty" yaml:"pid,omitempty"`
	LastError string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Override is a per-start configuration. Enabled must be set explicitly
// when sent; the zero value disables the service.
type Override struct {
	Enabled bool              `json:"enabled" yaml:"enabled"`
	Version string            `json:"version,omitempty" yaml:"version,omitempty"`
	Ports   map[string]int    `json:"ports,omitempty" yaml:"ports,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
}

// LogEntry is a captured log line.
type LogEntry struct {
	Time    time.Time         `json:"ts" yaml:"ts"`
	Level   string            `json:"level" yaml:"level"`
	Service string            `json:"service" yaml:"service"`
	Message string            `json:"message" yaml:"message"`
	Fields  map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Usage is a CPU and memory sample of a live service.
type Usage struct {
	PID        int32     `json:"pid" yaml:"pid"`
	CPUPercent float64   `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb" yaml:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss" yaml:"memory_rss"`
	NumThreads int32     `json:"num_threads" yaml:"num_threads"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
}

// Snapshot is the host-level usage report.
type Snapshot struct {
	Timestamp  time.Time `json:"ts" yaml:"ts"`
	UptimeSec  uint64    `json:"uptime_sec" yaml:"uptime_sec"`
	PortsInUse []int     `json:"ports_in_use" yaml:"ports_in_use"`
	CPUPercent float64   `json:"cpu_percent" yaml:"cpu_percent"`
	MemMB      uint64    `json:"mem_mb" yaml:"mem_mb"`
}

// Token is a bearer token issued by the daemon.
type Token struct {
	Type      string    `json:"type" yaml:"type"`
	Value     string    `json:"value" yaml:"value"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string        `json:"error"`
	State *ServiceState `json:"state,omitempty"`
}

type pathResponse struct {
	Path string `json:"path"`
}

type healthResponse struct {
	Status string `json:"status"`
}
