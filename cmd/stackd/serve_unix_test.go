//go:build !windows

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/stackd/internal/config"
	"github.com/loykin/stackd/internal/service"
)

func TestDaemonStartHonoursOverrides(t *testing.T) {
	cfg := testConfig(t)
	marker := func(id string) string { return filepath.Join(cfg.Root, id+".spawned") }
	shService := func(id string) config.ServiceConfig {
		return config.ServiceConfig{
			ID:     id,
			Binary: "/bin/sh",
			Args:   []string{"-c", "touch " + marker(id) + "; sleep 30"},
		}
	}
	cfg.Services = []config.ServiceConfig{shService("web"), shService("api")}
	d, err := newDaemon(cfg, slog.Default())
	require.NoError(t, err)

	disabled := service.DefaultOverride()
	disabled.Enabled = false
	require.NoError(t, d.store.Save("web", disabled))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx, []string{"web", "api"}) }()

	// ids start in order, so web has been handled once api runs
	require.Eventually(t, func() bool {
		return fileExists(marker("api"))
	}, 5*time.Second, 20*time.Millisecond)
	require.False(t, fileExists(marker("web")), "disabled service was spawned")

	st, err := d.sup.State("web")
	require.NoError(t, err)
	require.Equal(t, service.StateStopped, st.State)

	cancel()
	require.NoError(t, <-done)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
