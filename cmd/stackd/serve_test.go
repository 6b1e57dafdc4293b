package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/stackd/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.LogDir = filepath.Join(cfg.Root, "logs")
	cfg.Logs.ExportDir = filepath.Join(cfg.Root, "exports")
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.TickInterval = 50 * time.Millisecond
	return cfg
}

func TestLoadConfigDefault(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7420", cfg.Server.Listen)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "error loading config")
}

func TestNewDaemonHistorySink(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.DSN = "sqlite://" + filepath.Join(cfg.Root, "history.db")
	d, err := newDaemon(cfg, slog.Default())
	require.NoError(t, err)
	require.Len(t, d.closers, 1)
	d.close()
	require.Empty(t, d.closers)

	cfg.History.DSN = "ftp://nowhere"
	_, err = newDaemon(cfg, slog.Default())
	require.ErrorContains(t, err, "history sink")
}

func TestNewDaemonSeparateMetricsListener(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"
	d, err := newDaemon(cfg, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, d.metrics)

	cfg.Metrics.Listen = ""
	d, err = newDaemon(cfg, slog.Default())
	require.NoError(t, err)
	require.Nil(t, d.metrics, "metrics share the API listener")
}

func TestDaemonRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	d, err := newDaemon(cfg, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx, nil) }()

	// the override watcher creates its directory once running
	require.Eventually(t, func() bool {
		_, err := os.Stat(d.store.Dir)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestNewDaemonAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Auth.Enabled = true
	_, err := newDaemon(cfg, slog.Default())
	require.ErrorContains(t, err, "server auth")

	cfg.Server.Auth.Tokens = []string{"t0k"}
	d, err := newDaemon(cfg, slog.Default())
	require.NoError(t, err)
	d.close()
}

func TestDaemonScheduledExport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logs.ExportSchedule = "@every 1s"
	d, err := newDaemon(cfg, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx, nil) }()

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(cfg.Logs.ExportDir)
		return err == nil && len(entries) > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestDaemonRunFailsOnBusyPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	cfg := testConfig(t)
	cfg.Server.Listen = l.Addr().String()
	d, err := newDaemon(cfg, slog.Default())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.run(context.Background(), nil) }()
	select {
	case err := <-done:
		require.ErrorContains(t, err, "api server")
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not report the listen failure")
	}
}

func TestNewDaemonTLS(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.TLS.Enabled = true
	cfg.Server.TLS.Dir = filepath.Join(cfg.Root, "tls")
	cfg.Server.TLS.AutoGenerate = true
	d, err := newDaemon(cfg, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, d.api.TLSConfig)
	require.FileExists(t, filepath.Join(cfg.Root, "tls", "tls.crt"))

	cfg.Server.TLS.Dir = filepath.Join(cfg.Root, "empty")
	cfg.Server.TLS.AutoGenerate = false
	_, err = newDaemon(cfg, slog.Default())
	require.ErrorContains(t, err, "server tls")
}
