// Package template generates starter [[services]] entries and whole config
// files for common local services.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/loykin/stackd/internal/runtime"
)

// TemplateType represents the type of template to generate
type TemplateType string

const (
	TypePostgres TemplateType = "postgres"
	TypeMariaDB  TemplateType = "mariadb"
	TypeMySQL    TemplateType = "mysql"
	TypeRedis    TemplateType = "redis"
	TypeWeb      TemplateType = "web"
	TypeNode     TemplateType = "node"
	TypeMail     TemplateType = "mailpit"
	TypeWorker   TemplateType = "worker"
	TypeSimple   TemplateType = "simple"
	TypeBasic    TemplateType = "basic"
)

const redisVersion = "7.2.4"

// ServiceTemplate mirrors one [[services]] table of stackd.toml.
type ServiceTemplate struct {
	ID            string         `toml:"id" json:"id"`
	Name          string         `toml:"name,omitempty" json:"name,omitempty"`
	Binary        string         `toml:"binary" json:"binary"`
	Args          []string       `toml:"args,omitempty" json:"args,omitempty"`
	Env           []string       `toml:"env,omitempty" json:"env,omitempty"`
	WorkDir       string         `toml:"cwd,omitempty" json:"cwd,omitempty"`
	DependsOn     []string       `toml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Ports         []Port         `toml:"ports,omitempty" json:"ports,omitempty"`
	HealthCheck   *HealthCheck   `toml:"health_check,omitempty" json:"health_check,omitempty"`
	RestartPolicy *RestartPolicy `toml:"restart_policy,omitempty" json:"restart_policy,omitempty"`
}

// Port is a named listening port.
type Port struct {
	Name     string `toml:"name" json:"name"`
	Port     int    `toml:"port" json:"port"`
	Protocol string `toml:"protocol,omitempty" json:"protocol,omitempty"`
}

// HealthCheck uses duration strings so the output stays readable.
type HealthCheck struct {
	Type     string `toml:"type" json:"type"`
	Target   string `toml:"target,omitempty" json:"target,omitempty"`
	Timeout  string `toml:"timeout,omitempty" json:"timeout,omitempty"`
	Interval string `toml:"interval,omitempty" json:"interval,omitempty"`
}

// RestartPolicy bounds crash restarts.
type RestartPolicy struct {
	MaxRetries int    `toml:"max_retries" json:"max_retries"`
	Backoff    string `toml:"backoff,omitempty" json:"backoff,omitempty"`
}

// Generator provides template generation functionality
type Generator struct {
	versions map[string]string
}

// NewGenerator creates a generator using the default runtime versions.
func NewGenerator() *Generator {
	return &Generator{versions: runtime.DefaultVersions()}
}

// Generate creates a service template of the given type with id
func (g *Generator) Generate(templateType TemplateType, id string) (*ServiceTemplate, error) {
	if id == "" {
		id = string(templateType)
	}
	switch templateType {
	case TypePostgres:
		return g.postgres(id), nil
	case TypeMariaDB, TypeMySQL:
		return g.mariadb(id), nil
	case TypeRedis:
		return g.redis(id), nil
	case TypeWeb, TypeNode:
		return g.web(id), nil
	case TypeMail:
		return g.mailpit(id), nil
	case TypeWorker:
		return g.worker(id), nil
	case TypeSimple, TypeBasic:
		return g.simple(id), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: postgres, mariadb, redis, web, mailpit, worker, simple)", templateType)
	}
}

// GenerateJSON creates a JSON representation of the template
func (g *Generator) GenerateJSON(templateType TemplateType, id string) ([]byte, error) {
	t, err := g.Generate(templateType, id)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

// GenerateTOML renders the template as a [[services]] table.
func (g *Generator) GenerateTOML(templateType TemplateType, id string) ([]byte, error) {
	t, err := g.Generate(templateType, id)
	if err != nil {
		return nil, err
	}
	return Render(Stack{Services: []ServiceTemplate{*t}})
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypePostgres),
		string(TypeMariaDB),
		string(TypeRedis),
		string(TypeWeb),
		string(TypeMail),
		string(TypeWorker),
		string(TypeSimple),
	}
}

// Stack is a complete stackd.toml.
type Stack struct {
	Root     string            `toml:"root,omitempty"`
	Env      []string          `toml:"env,omitempty"`
	Services []ServiceTemplate `toml:"services"`
}

// Render encodes a stack as TOML.
func Render(s Stack) ([]byte, error) {
	data, err := toml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stack: %w", err)
	}
	return data, nil
}

func (g *Generator) version(name, fallback string) string {
	if v, ok := g.versions[name]; ok {
		return v
	}
	return fallback
}

func portCheck(port int) *HealthCheck {
	return &HealthCheck{Type: "port", Target: "127.0.0.1:" + strconv.Itoa(port), Timeout: "1s", Interval: "500ms"}
}

// Helper functions to create specific templates

func (g *Generator) postgres(id string) *ServiceTemplate {
	return &ServiceTemplate{
		ID:            id,
		Name:          "PostgreSQL",
		Binary:        runtime.BinPathFor("postgres", g.version("postgres", "16.2")),
		Args:          []string{"-D", "runtime/data/postgres", "-p", "5432"},
		Env:           []string{"PGDATA=runtime/data/postgres"},
		Ports:         []Port{{Name: "main", Port: 5432, Protocol: "tcp"}},
		HealthCheck:   portCheck(5432),
		RestartPolicy: &RestartPolicy{MaxRetries: 3, Backoff: "2s"},
	}
}

func (g *Generator) mariadb(id string) *ServiceTemplate {
	return &ServiceTemplate{
		ID:            id,
		Name:          "MariaDB",
		Binary:        runtime.BinPathFor("mariadb", g.version("mariadb", "10.11.6")),
		Args:          []string{"--datadir=runtime/data/mariadb", "--port=3306"},
		Ports:         []Port{{Name: "main", Port: 3306, Protocol: "tcp"}},
		HealthCheck:   portCheck(3306),
		RestartPolicy: &RestartPolicy{MaxRetries: 3, Backoff: "2s"},
	}
}

func (g *Generator) redis(id string) *ServiceTemplate {
	return &ServiceTemplate{
		ID:            id,
		Name:          "Redis",
		Binary:        runtime.BinPathFor("redis", g.version("redis", redisVersion)),
		Args:          []string{"--port", "6379"},
		Ports:         []Port{{Name: "main", Port: 6379, Protocol: "tcp"}},
		HealthCheck:   portCheck(6379),
		RestartPolicy: &RestartPolicy{MaxRetries: 5, Backoff: "1s"},
	}
}

func (g *Generator) web(id string) *ServiceTemplate {
	return &ServiceTemplate{
		ID:      id,
		Name:    "Web server",
		Binary:  runtime.BinPathFor("node", g.version("node", "20.11.1")),
		Args:    []string{"server.js"},
		Env:     []string{"PORT=8080", "NODE_ENV=development"},
		WorkDir: "app",
		Ports:   []Port{{Name: "main", Port: 8080, Protocol: "tcp"}},
		HealthCheck: &HealthCheck{
			Type: "http", Target: "http://127.0.0.1:8080/", Timeout: "2s", Interval: "500ms",
		},
		RestartPolicy: &RestartPolicy{MaxRetries: 3, Backoff: "1s"},
	}
}

func (g *Generator) mailpit(id string) *ServiceTemplate {
	return &ServiceTemplate{
		ID:     id,
		Name:   "Mailpit",
		Binary: runtime.BinPathFor("mailpit", g.version("mailpit", "1.15.0")),
		Args:   []string{"--smtp", "127.0.0.1:1025", "--listen", "127.0.0.1:8025"},
		Ports: []Port{
			{Name: "smtp", Port: 1025, Protocol: "tcp"},
			{Name: "main", Port: 8025, Protocol: "tcp"},
		},
		HealthCheck: portCheck(1025),
	}
}

func (g *Generator) worker(id string) *ServiceTemplate {
	return &ServiceTemplate{
		ID:            id,
		Binary:        "./worker",
		WorkDir:       "app",
		Env:           []string{"WORKER_THREADS=4", "LOG_LEVEL=info"},
		RestartPolicy: &RestartPolicy{MaxRetries: 5, Backoff: "2s"},
	}
}

func (g *Generator) simple(id string) *ServiceTemplate {
	return &ServiceTemplate{
		ID:     id,
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo 'Hello from " + id + "'; sleep 3600"},
	}
}
