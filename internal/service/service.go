package service

import (
	"time"
)

// Health check kinds.
const (
	CheckPID  = "pid"
	CheckPort = "port"
	CheckHTTP = "http"
)

// Port is a named port a service listens on.
type Port struct {
	Name     string `json:"name" mapstructure:"name"`
	Port     int    `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
}

// HealthCheck describes how a service's readiness is verified.
type HealthCheck struct {
	Kind     string        `json:"type" mapstructure:"type"`
	Target   string        `json:"target" mapstructure:"target"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// RestartPolicy bounds crash-triggered restarts.
type RestartPolicy struct {
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	Backoff    time.Duration `json:"backoff" mapstructure:"backoff"`
}

// Definition is the static template describing how to launch and monitor a service.
// It is never mutated after load; per-start overrides are applied to a copy via Apply.
type Definition struct {
	ID            string            `json:"id" mapstructure:"id"`
	Name          string            `json:"name" mapstructure:"name"`
	Binary        string            `json:"binary" mapstructure:"binary"`
	Args          []string          `json:"args" mapstructure:"args"`
	Env           map[string]string `json:"env" mapstructure:"env"`
	WorkDir       string            `json:"cwd" mapstructure:"cwd"`
	Ports         []Port            `json:"ports" mapstructure:"ports"`
	DependsOn     []string          `json:"depends_on" mapstructure:"depends_on"`
	HealthCheck   HealthCheck       `json:"health_check" mapstructure:"health_check"`
	RestartPolicy RestartPolicy     `json:"restart_policy" mapstructure:"restart_policy"`
}

// Override is the per-start configuration supplied by the configuration provider.
type Override struct {
	Enabled bool              `json:"enabled" mapstructure:"enabled"`
	Version string            `json:"version,omitempty" mapstructure:"version"`
	Ports   map[string]int    `json:"ports,omitempty" mapstructure:"ports"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env"`
	Args    []string          `json:"args,omitempty" mapstructure:"args"`
}

// DefaultOverride returns an enabled override that changes nothing.
func DefaultOverride() Override { return Override{Enabled: true} }

// Clone returns a deep copy so callers can modify slices and maps freely.
func (d Definition) Clone() Definition {
	c := d
	c.Args = append([]string(nil), d.Args...)
	c.Ports = append([]Port(nil), d.Ports...)
	c.DependsOn = append([]string(nil), d.DependsOn...)
	if d.Env != nil {
		c.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			c.Env[k] = v
		}
	}
	return c
}

// Apply returns a copy of d with o merged in. Named ports are replaced, env is merged
// with the override winning per key, and extra args are appended. The version is not
// handled here because it needs the provisioner to compute a binary path.
func (d Definition) Apply(o Override) Definition {
	c := d.Clone()
	for i := range c.Ports {
		if p, ok := o.Ports[c.Ports[i].Name]; ok {
			c.Ports[i].Port = p
		}
	}
	if len(o.Env) > 0 && c.Env == nil {
		c.Env = make(map[string]string, len(o.Env))
	}
	for k, v := range o.Env {
		c.Env[k] = v
	}
	c.Args = append(c.Args, o.Args...)
	return c
}

// PortNumbers returns the declared port numbers in definition order.
func (d Definition) PortNumbers() []int {
	out := make([]int, 0, len(d.Ports))
	for _, p := range d.Ports {
		out = append(out, p.Port)
	}
	return out
}
