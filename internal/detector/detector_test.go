//go:build !windows

package detector

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSleep(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "sleep 30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill(); _ = cmd.Wait() })
	return cmd
}

func TestWriteReadAlive(t *testing.T) {
	cmd := startSleep(t)
	dir := filepath.Join(t.TempDir(), "run")

	require.NoError(t, Write(dir, "db", cmd.Process.Pid))
	rec, err := Read(Path(dir, "db"))
	require.NoError(t, err)
	assert.Equal(t, "db", rec.Service)
	assert.Equal(t, cmd.Process.Pid, rec.PID)
	assert.True(t, rec.Alive())

	info, err := os.Stat(Path(dir, "db"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, Remove(dir, "db"))
	require.NoError(t, Remove(dir, "db"))
	_, err = os.Stat(Path(dir, "db"))
	assert.True(t, os.IsNotExist(err))
}

func TestAliveDetectsPIDReuse(t *testing.T) {
	cmd := startSleep(t)
	start := getProcStartUnix(cmd.Process.Pid)
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	rec := Record{PID: cmd.Process.Pid, StartUnix: start - 3600}
	assert.False(t, rec.Alive())

	rec.StartUnix = 0
	assert.True(t, rec.Alive())
}

func TestAliveAfterExit(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())
	assert.False(t, Record{PID: cmd.Process.Pid}.Alive())
	assert.False(t, Record{PID: 0}.Alive())
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pid"), []byte("123\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pid"), []byte("not-a-pid\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.pid"), []byte("7\n{broken\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	recs, bad, err := Scan(dir)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].Service)
	assert.Equal(t, 123, recs[0].PID)
	assert.Len(t, bad, 2)

	recs, bad, err = Scan(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, bad)
}

func TestTerminate(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "trap '' TERM; sleep 30")
	require.NoError(t, cmd.Start())
	waited := make(chan struct{})
	go func() { _ = cmd.Wait(); close(waited) }()

	require.NoError(t, Terminate(cmd.Process.Pid, 200*time.Millisecond))
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("process survived Terminate")
	}

	assert.NoError(t, Terminate(cmd.Process.Pid, time.Millisecond))
}
