package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/loykin/stackd/internal/env"
	"github.com/loykin/stackd/internal/service"
)

// DataInitializer prepares a service's data directory the first time the
// service starts. It is skipped once Marker exists inside the data directory.
type DataInitializer struct {
	// DataDir returns the data directory; relative paths resolve against the root.
	DataDir func(def service.Definition) string
	Marker  string

	// Tool is an executable expected next to the service binary.
	Tool string
	Args func(dataDir string) []string

	// Missing is logged when Tool does not exist.
	Missing string
}

// DefaultDataInitializers covers the bundled database engines.
func DefaultDataInitializers() map[string]DataInitializer {
	return map[string]DataInitializer{
		"postgres": {
			DataDir: func(def service.Definition) string {
				if d := def.Env["PGDATA"]; d != "" {
					return d
				}
				return filepath.Join("runtime", "data", "postgres")
			},
			Marker:  "PG_VERSION",
			Tool:    "initdb",
			Args:    func(dir string) []string { return []string{"-D", dir} },
			Missing: "initdb not found for postgres",
		},
		"mariadb": {
			DataDir: func(service.Definition) string { return filepath.Join("runtime", "data", "mariadb") },
			Marker:  "mysql",
			Tool:    "mariadb-install-db",
			Args:    func(dir string) []string { return []string{"--datadir=" + dir} },
			Missing: "mariadb-install-db not found",
		},
	}
}

// initData runs the initializer registered for def, if any. Failures are
// logged and never block the start.
func (s *Supervisor) initData(def service.Definition, binary string) {
	di, ok := s.dataInit[def.ID]
	if !ok || di.DataDir == nil {
		return
	}
	dir := s.resolvePath(di.DataDir(def))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		s.logs.Error(def.ID, fmt.Sprintf("create data dir: %v", err))
		return
	}
	if _, err := os.Stat(filepath.Join(dir, di.Marker)); err == nil {
		return
	}
	tool := filepath.Join(filepath.Dir(binary), di.Tool)
	if goruntime.GOOS == "windows" {
		tool += ".exe"
	}
	if _, err := os.Stat(tool); err != nil {
		msg := di.Missing
		if msg == "" {
			msg = di.Tool + " not found"
		}
		s.logs.Error(def.ID, msg)
		s.logger.Warn("data init tool missing", "service", def.ID, "tool", tool)
		return
	}
	var args []string
	if di.Args != nil {
		args = di.Args(dir)
	}
	// #nosec G204 -- tool path is derived from the resolved service binary
	cmd := exec.CommandContext(s.ctx, tool, args...)
	cmd.Env = env.WithPath(s.env.Merge(def.Env), s.provisioner.ScopedPath(binary))
	out, err := cmd.CombinedOutput()
	if err != nil {
		s.logs.Error(def.ID, fmt.Sprintf("data init failed: %v: %s", err, strings.TrimSpace(string(out))))
		s.logger.Error("data init failed", "service", def.ID, "tool", tool, "error", err)
		return
	}
	s.logs.Info(def.ID, "initialized data directory "+dir)
}
