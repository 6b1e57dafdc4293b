package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/stackd/internal/service"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_Minimal(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "stackd.toml", `
root = "data"

[[services]]
id = "redis"
binary = "runtime/bin/redis/7.2.4/linux-x64/redis-server"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Root != filepath.Join(dir, "data") {
		t.Fatalf("root not resolved against config dir: %s", c.Root)
	}
	if c.LogDir != filepath.Join(dir, "data", "logs") {
		t.Fatalf("log_dir not resolved against root: %s", c.LogDir)
	}
	if c.TickInterval != 5*time.Second || c.StopTimeout != 3*time.Second || c.HealthRetries != 5 {
		t.Fatalf("unexpected timing defaults: %+v", c)
	}
	if c.DependencyPolicy != PolicyTolerate {
		t.Fatalf("unexpected policy: %s", c.DependencyPolicy)
	}
	if c.Logs.Limit != 2000 || c.Logs.MaxSizeMB != 10 || c.Logs.MaxBackups != 3 {
		t.Fatalf("unexpected logs defaults: %+v", c.Logs)
	}
	if c.Server.Listen != "127.0.0.1:7420" || c.Server.BasePath != "/api" {
		t.Fatalf("unexpected server defaults: %+v", c.Server)
	}
	defs := c.Definitions()
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	d := defs[0]
	if d.Name != "redis" || d.HealthCheck.Kind != service.CheckPID {
		t.Fatalf("unexpected definition defaults: %+v", d)
	}
}

func TestLoad_Full(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "stackd.toml", `
root = "/opt/stackd"
tick_interval = "2s"
health_retries = 3
stop_timeout = "500ms"
dependency_policy = "fail-fast"
env = ["STACK=dev"]

[logs]
limit = 100
max_size_mb = 1
max_backups = 0

[log]
level = "debug"
format = "json"
file = "stackd.log"

[history]
dsn = "sqlite:///tmp/history.db"

[[services]]
id = "postgres"
name = "PostgreSQL"
binary = "runtime/bin/postgres/16.2/linux-x64/postgres"
args = ["-D", "runtime/data/postgres"]
cwd = "."
env = ["PGDATA=runtime/data/postgres", "PGPORT=5432"]
  [[services.ports]]
  name = "main"
  port = 5432
  [services.health_check]
  type = "port"
  target = "127.0.0.1:5432"
  timeout = "1s"
  interval = "500ms"
  [services.restart_policy]
  max_retries = 3
  backoff = "2s"

[[services]]
id = "api"
binary = "/usr/local/bin/api"
depends_on = ["postgres"]
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.TickInterval != 2*time.Second || c.StopTimeout != 500*time.Millisecond || c.HealthRetries != 3 {
		t.Fatalf("unexpected timing: %+v", c)
	}
	if c.DependencyPolicy != PolicyFailFast {
		t.Fatalf("unexpected policy: %s", c.DependencyPolicy)
	}
	if c.Log.Slog.Level != "debug" || c.Log.Slog.Format != "json" {
		t.Fatalf("unexpected log config: %+v", c.Log)
	}
	if got := c.Log.File.Path(); got != filepath.Join("/opt/stackd", "logs", "stackd.log") {
		t.Fatalf("unexpected daemon log path: %s", got)
	}
	if c.History.DSN != "sqlite:///tmp/history.db" {
		t.Fatalf("unexpected dsn: %s", c.History.DSN)
	}

	defs := c.Definitions()
	pg := defs[0]
	if pg.Name != "PostgreSQL" || len(pg.Args) != 2 || pg.WorkDir != "." {
		t.Fatalf("unexpected base fields: %+v", pg)
	}
	if pg.Env["PGDATA"] != "runtime/data/postgres" || pg.Env["PGPORT"] != "5432" {
		t.Fatalf("env keys must keep their case: %+v", pg.Env)
	}
	if len(pg.Ports) != 1 || pg.Ports[0].Name != "main" || pg.Ports[0].Port != 5432 || pg.Ports[0].Protocol != "tcp" {
		t.Fatalf("unexpected ports: %+v", pg.Ports)
	}
	hc := pg.HealthCheck
	if hc.Kind != service.CheckPort || hc.Target != "127.0.0.1:5432" || hc.Timeout != time.Second || hc.Interval != 500*time.Millisecond {
		t.Fatalf("unexpected health check: %+v", hc)
	}
	if pg.RestartPolicy.MaxRetries != 3 || pg.RestartPolicy.Backoff != 2*time.Second {
		t.Fatalf("unexpected restart policy: %+v", pg.RestartPolicy)
	}
	if defs[1].DependsOn[0] != "postgres" {
		t.Fatalf("unexpected deps: %+v", defs[1].DependsOn)
	}
}

func TestLoad_ServerTLS(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "stackd.toml", `
root = "data"

[server.tls]
enabled = true
cert_file = "certs/api.crt"
key_file = "certs/api.key"
min_version = "1.2"
hosts = ["stackd.local", "10.0.0.5"]
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tc := c.Server.TLS
	if !tc.Enabled || tc.MinVersion != "1.2" || len(tc.Hosts) != 2 {
		t.Fatalf("unexpected tls config: %+v", tc)
	}
	if tc.CertFile != filepath.Join(dir, "certs", "api.crt") || tc.KeyFile != filepath.Join(dir, "certs", "api.key") {
		t.Fatalf("cert files not resolved against config dir: %+v", tc)
	}
	if tc.Dir != filepath.Join(dir, "data", "tls") {
		t.Fatalf("tls dir not defaulted under root: %s", tc.Dir)
	}
}

func TestLoad_ServerAuth(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "stackd.toml", `
[server.auth]
enabled = true
users = ["admin:$2a$10$abcdefghijklmnopqrstuuabcdefghijklmnopqrstuvwxyzABCDE"]
tokens = ["ci-token"]
token_ttl = "30m"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a := c.Server.Auth
	if !a.Enabled || len(a.Users) != 1 || a.Tokens[0] != "ci-token" || a.TokenTTL != 30*time.Minute {
		t.Fatalf("unexpected auth config: %+v", a)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad export schedule": `
[logs]
export_schedule = "every tuesday"
`,
		"duplicate id": `
[[services]]
id = "a"
binary = "x"
[[services]]
id = "a"
binary = "y"
`,
		"missing id": `
[[services]]
binary = "x"
`,
		"missing binary": `
[[services]]
id = "a"
`,
		"unknown dependency": `
[[services]]
id = "a"
binary = "x"
depends_on = ["ghost"]
`,
		"unknown health kind": `
[[services]]
id = "a"
binary = "x"
[services.health_check]
type = "grpc"
`,
		"port check without target": `
[[services]]
id = "a"
binary = "x"
[services.health_check]
type = "port"
`,
		"negative retries": `
[[services]]
id = "a"
binary = "x"
[services.restart_policy]
max_retries = -1
`,
		"unknown policy": `dependency_policy = "panic"`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), "c.toml", data)
			_, err := Load(p)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Root == "" || !strings.HasSuffix(c.Root, ".stackd") {
		t.Fatalf("unexpected default root: %s", c.Root)
	}
	if c.LogDir != filepath.Join(c.Root, "logs") {
		t.Fatalf("unexpected default log dir: %s", c.LogDir)
	}
	if c.Metrics.Listen != ":9420" || c.Metrics.Enabled {
		t.Fatalf("unexpected metrics defaults: %+v", c.Metrics)
	}
}

func TestGlobalEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := writeFile(t, dir, ".env", "FILE_ONLY=fv\n#comment\nSHARED=file\n")
	p := writeFile(t, dir, "c.toml", `
env_files = [".env"]
env = ["SHARED=top", "TOP=tv"]
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.EnvFiles[0] != dotenv {
		t.Fatalf("env file not resolved: %s", c.EnvFiles[0])
	}
	e, err := c.GlobalEnv()
	if err != nil {
		t.Fatalf("GlobalEnv: %v", err)
	}
	if e.Var["FILE_ONLY"] != "fv" || e.Var["TOP"] != "tv" {
		t.Fatalf("missing vars: %+v", e.Var)
	}
	if e.Var["SHARED"] != "top" {
		t.Fatalf("top-level env must override env files: %s", e.Var["SHARED"])
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	dotenv := writeFile(t, dir, ".env", "A=1\n#comment\nB=two\n=skip\n")
	pairs, err := LoadEnvFile(dotenv)
	if err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("unexpected pairs: %v", pairs)
	}
	if _, err := LoadEnvFile("/definitely/not/exist.env"); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
