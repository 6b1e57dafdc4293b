// Package config loads the daemon configuration and the per-service override files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/loykin/stackd/internal/auth"
	"github.com/loykin/stackd/internal/env"
	"github.com/loykin/stackd/internal/logger"
	"github.com/loykin/stackd/internal/service"
	tlsx "github.com/loykin/stackd/internal/tls"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Dependency policies accepted by dependency_policy.
const (
	PolicyTolerate = "tolerate"
	PolicyFailFast = "fail-fast"
)

// Config represents the top-level TOML structure.
type Config struct {
	Root             string        `mapstructure:"root"`
	LogDir           string        `mapstructure:"log_dir"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	HealthRetries    int           `mapstructure:"health_retries"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	DependencyPolicy string        `mapstructure:"dependency_policy"`
	Env              []string      `mapstructure:"env"`
	EnvFiles         []string      `mapstructure:"env_files"`

	Logs     LogsConfig      `mapstructure:"logs"`
	Log      logger.Config   `mapstructure:"log"`
	Server   ServerConfig    `mapstructure:"server"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	History  HistoryConfig   `mapstructure:"history"`
	Services []ServiceConfig `mapstructure:"services"`
}

// LogsConfig bounds the per-service log pipeline.
type LogsConfig struct {
	Limit      int    `mapstructure:"limit"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	ExportDir  string `mapstructure:"export_dir"`
	// ExportSchedule is a cron expression (or @every/@daily descriptor) for
	// periodic exports by the daemon. Empty disables them.
	ExportSchedule string `mapstructure:"export_schedule"`
	ExportLevel    string `mapstructure:"export_level"`
}

// ServerConfig configures the HTTP control API.
type ServerConfig struct {
	Listen   string      `mapstructure:"listen"`
	BasePath string      `mapstructure:"base_path"`
	TLS      tlsx.Config `mapstructure:"tls"`
	Auth     auth.Config `mapstructure:"auth"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// HistoryConfig selects the lifecycle history sink. An empty DSN disables it.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ServiceConfig is one [[services]] entry. Env is a list of KEY=VALUE lines so
// that key case survives the loader.
type ServiceConfig struct {
	ID            string                `mapstructure:"id"`
	Name          string                `mapstructure:"name"`
	Binary        string                `mapstructure:"binary"`
	Args          []string              `mapstructure:"args"`
	Env           []string              `mapstructure:"env"`
	WorkDir       string                `mapstructure:"cwd"`
	Ports         []service.Port        `mapstructure:"ports"`
	DependsOn     []string              `mapstructure:"depends_on"`
	HealthCheck   service.HealthCheck   `mapstructure:"health_check"`
	RestartPolicy service.RestartPolicy `mapstructure:"restart_policy"`
}

// Definition converts the entry into a service definition.
func (sc ServiceConfig) Definition() service.Definition {
	d := service.Definition{
		ID:            sc.ID,
		Name:          sc.Name,
		Binary:        sc.Binary,
		Args:          append([]string(nil), sc.Args...),
		WorkDir:       sc.WorkDir,
		Ports:         append([]service.Port(nil), sc.Ports...),
		DependsOn:     append([]string(nil), sc.DependsOn...),
		HealthCheck:   sc.HealthCheck,
		RestartPolicy: sc.RestartPolicy,
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.HealthCheck.Kind == "" {
		d.HealthCheck.Kind = service.CheckPID
	}
	if len(sc.Env) > 0 {
		d.Env = env.Parse(sc.Env)
	}
	for i := range d.Ports {
		if d.Ports[i].Protocol == "" {
			d.Ports[i].Protocol = "tcp"
		}
	}
	return d
}

// DefaultRoot is ~/.stackd, or .stackd when the home directory is unknown.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stackd"
	}
	return filepath.Join(home, ".stackd")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", DefaultRoot())
	v.SetDefault("log_dir", "logs")
	v.SetDefault("tick_interval", "5s")
	v.SetDefault("health_retries", 5)
	v.SetDefault("stop_timeout", "3s")
	v.SetDefault("dependency_policy", PolicyTolerate)
	v.SetDefault("logs.limit", 2000)
	v.SetDefault("logs.max_size_mb", 10)
	v.SetDefault("logs.max_backups", 3)
	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", true)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("server.listen", "127.0.0.1:7420")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.dir", "tls")
	v.SetDefault("metrics.listen", ":9420")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	// defaults alone always decode
	_ = v.Unmarshal(&c)
	c.resolve("")
	return &c
}

// Load reads a TOML file, applies defaults, resolves relative paths against
// the file's directory and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	c.resolve(base)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) resolve(base string) {
	if c.Root != "" && !filepath.IsAbs(c.Root) && base != "" {
		c.Root = filepath.Join(base, c.Root)
	}
	if c.LogDir != "" && !filepath.IsAbs(c.LogDir) {
		c.LogDir = filepath.Join(c.Root, c.LogDir)
	}
	if c.Logs.ExportDir != "" && !filepath.IsAbs(c.Logs.ExportDir) {
		c.Logs.ExportDir = filepath.Join(c.Root, c.Logs.ExportDir)
	}
	if c.Log.File.Dir != "" && !filepath.IsAbs(c.Log.File.Dir) {
		c.Log.File.Dir = filepath.Join(c.Root, c.Log.File.Dir)
	}
	if c.Log.File.Filename != "" && c.Log.File.Dir == "" {
		c.Log.File.Dir = c.LogDir
	}
	if c.Server.TLS.Dir != "" && !filepath.IsAbs(c.Server.TLS.Dir) {
		c.Server.TLS.Dir = filepath.Join(c.Root, c.Server.TLS.Dir)
	}
	for _, p := range []*string{&c.Server.TLS.CertFile, &c.Server.TLS.KeyFile} {
		if *p != "" && !filepath.IsAbs(*p) && base != "" {
			*p = filepath.Join(base, *p)
		}
	}
	for i, p := range c.EnvFiles {
		if !filepath.IsAbs(p) && base != "" {
			c.EnvFiles[i] = filepath.Join(base, p)
		}
	}
}

// Validate checks ids, dependencies, health kinds and retry counts.
func (c *Config) Validate() error {
	switch c.DependencyPolicy {
	case "", PolicyTolerate, PolicyFailFast:
	default:
		return fmt.Errorf("%w: unknown dependency_policy %q", ErrInvalid, c.DependencyPolicy)
	}
	if c.HealthRetries < 0 {
		return fmt.Errorf("%w: health_retries must be >= 0", ErrInvalid)
	}
	if c.Logs.ExportSchedule != "" {
		if _, err := cron.ParseStandard(c.Logs.ExportSchedule); err != nil {
			return fmt.Errorf("%w: logs.export_schedule: %v", ErrInvalid, err)
		}
	}
	ids := make(map[string]bool, len(c.Services))
	for _, sc := range c.Services {
		id := strings.TrimSpace(sc.ID)
		if id == "" {
			return fmt.Errorf("%w: service without id", ErrInvalid)
		}
		if ids[id] {
			return fmt.Errorf("%w: duplicate service id %q", ErrInvalid, id)
		}
		ids[id] = true
		if sc.Binary == "" {
			return fmt.Errorf("%w: service %s requires binary", ErrInvalid, id)
		}
		switch sc.HealthCheck.Kind {
		case "", service.CheckPID:
		case service.CheckPort, service.CheckHTTP:
			if sc.HealthCheck.Target == "" {
				return fmt.Errorf("%w: service %s %s check requires target", ErrInvalid, id, sc.HealthCheck.Kind)
			}
		default:
			return fmt.Errorf("%w: service %s has unknown health check type %q", ErrInvalid, id, sc.HealthCheck.Kind)
		}
		if sc.RestartPolicy.MaxRetries < 0 {
			return fmt.Errorf("%w: service %s max_retries must be >= 0", ErrInvalid, id)
		}
	}
	for _, sc := range c.Services {
		for _, dep := range sc.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("%w: service %s depends on unknown service %s", ErrInvalid, sc.ID, dep)
			}
		}
	}
	return nil
}

// Definitions converts every [[services]] entry in file order.
func (c *Config) Definitions() []service.Definition {
	out := make([]service.Definition, 0, len(c.Services))
	for _, sc := range c.Services {
		out = append(out, sc.Definition())
	}
	return out
}

// GlobalEnv builds the environment shared by every service: env_files in
// order, then the top-level env list.
func (c *Config) GlobalEnv() (*env.Env, error) {
	e := env.New()
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			e.Set(k, v)
		}
	}
	for k, v := range env.Parse(c.Env) {
		e.Set(k, v)
	}
	return e, nil
}
