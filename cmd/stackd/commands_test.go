//go:build !windows

package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/loykin/stackd/internal/logs"
	"github.com/loykin/stackd/internal/server"
	"github.com/loykin/stackd/internal/service"
	"github.com/loykin/stackd/internal/supervisor"
	"github.com/loykin/stackd/pkg/client"
)

// startDaemon serves the real router for a one-service supervisor and
// returns its API URL.
func startDaemon(t *testing.T, opts ...server.RouterOption) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	sup, err := supervisor.New([]service.Definition{{
		ID:          "web",
		Binary:      "/bin/sh",
		Args:        []string{"-c", "echo ready; sleep 30"},
		HealthCheck: service.HealthCheck{Kind: service.CheckPID},
	}},
		supervisor.WithRoot(root),
		supervisor.WithLogs(logs.New(logs.Config{Dir: filepath.Join(root, "logs")}, nil)),
		supervisor.WithStopTimeout(500*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Shutdown() })
	ts := httptest.NewServer(server.NewRouter(sup, "/api", opts...).Handler())
	t.Cleanup(ts.Close)
	return ts.URL + "/api"
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLILifecycle(t *testing.T) {
	api := startDaemon(t)

	out, err := run(t, "list", "--api-url", api)
	require.NoError(t, err)
	require.Contains(t, out, "ID")
	require.Contains(t, out, "stopped")

	out, err = run(t, "start", "web", "--api-url", api, "-o", "json")
	require.NoError(t, err)
	var st client.ServiceState
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.Equal(t, "running", st.State)
	require.NotNil(t, st.PID)

	out, err = run(t, "health", "web", "--api-url", api)
	require.NoError(t, err)
	require.Equal(t, "ok\n", out)

	require.Eventually(t, func() bool {
		out, err := run(t, "logs", "web", "--api-url", api, "--tail", "10")
		return err == nil && strings.Contains(out, "ready")
	}, 5*time.Second, 50*time.Millisecond)

	out, err = run(t, "logs", "web", "--api-url", api, "--path")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(strings.TrimSpace(out), "web.log"))

	out, err = run(t, "usage", "web", "--api-url", api, "-o", "yaml")
	require.NoError(t, err)
	var u client.Usage
	require.NoError(t, yaml.Unmarshal([]byte(out), &u))
	require.Equal(t, int32(*st.PID), u.PID)

	out, err = run(t, "export-logs", "--api-url", api, "--service", "web")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	out, err = run(t, "clear-logs", "--api-url", api)
	require.NoError(t, err)
	require.Equal(t, "logs cleared for all services\n", out)

	out, err = run(t, "tick", "--api-url", api)
	require.NoError(t, err)
	require.Contains(t, out, "running")

	out, err = run(t, "snapshot", "--api-url", api, "-o", "json")
	require.NoError(t, err)
	require.Contains(t, out, "uptime_sec")

	out, err = run(t, "stop", "web", "--api-url", api)
	require.NoError(t, err)
	require.Contains(t, out, "stopped")

	// stopping again is a no-op
	_, err = run(t, "stop", "web", "--api-url", api)
	require.NoError(t, err)
}

func TestCLIStartWithOverride(t *testing.T) {
	api := startDaemon(t)

	out, err := run(t, "start", "web", "--api-url", api, "--disabled")
	require.Error(t, err)
	require.Contains(t, err.Error(), "409")
	// the current state is still printed
	require.Contains(t, out, "stopped")

	out, err = run(t, "restart", "web", "--api-url", api, "--env", "MODE=dev", "--arg=-c", "--arg=sleep 30")
	require.NoError(t, err)
	require.Contains(t, out, "running")

	_, err = run(t, "apply", "web", "--api-url", api)
	require.ErrorContains(t, err, "at least one override flag")

	_, err = run(t, "apply", "web", "--api-url", api, "--version", "2.0")
	require.NoError(t, err)
}

func TestCLIErrors(t *testing.T) {
	api := startDaemon(t)

	_, err := run(t, "stop", "ghost", "--api-url", api)
	require.ErrorContains(t, err, "404")

	_, err = run(t, "usage", "web", "--api-url", api)
	require.ErrorContains(t, err, "409")

	_, err = run(t, "list", "--api-url", api, "-o", "xml")
	require.ErrorContains(t, err, "unknown output format")

	_, err = run(t, "start", "web", "--api-url", api, "--port", "main=notaport")
	require.ErrorContains(t, err, "invalid port")

	_, err = run(t, "list", "--api-url", "http://127.0.0.1:1/api", "--api-timeout", "500ms")
	require.ErrorContains(t, err, "daemon not reachable")

	_, err = run(t, "start")
	require.Error(t, err)
}

func TestCLIBadCACert(t *testing.T) {
	_, err := run(t, "list", "--ca-cert", filepath.Join(t.TempDir(), "missing.crt"))
	require.ErrorContains(t, err, "read CA file")
}
