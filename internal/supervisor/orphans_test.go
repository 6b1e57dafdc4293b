//go:build !windows

package supervisor

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/stackd/internal/detector"
	"github.com/loykin/stackd/internal/service"
)

func TestPIDFileFollowsHandle(t *testing.T) {
	s := newTestSupervisor(t, []service.Definition{shDef("web", "sleep 30")})

	st, err := s.Start("web")
	require.NoError(t, err)
	rec, err := detector.Read(detector.Path(s.RunDir(), "web"))
	require.NoError(t, err)
	require.Equal(t, *st.PID, rec.PID)

	_, err = s.Stop("web")
	require.NoError(t, err)
	_, err = os.Stat(detector.Path(s.RunDir(), "web"))
	require.True(t, os.IsNotExist(err))
}

func TestReapOrphans(t *testing.T) {
	s := newTestSupervisor(t, []service.Definition{shDef("web", "sleep 30"), shDef("db", "sleep 30")})

	_, err := s.Start("web")
	require.NoError(t, err)

	orphan := exec.Command("/bin/sh", "-c", "sleep 30")
	require.NoError(t, orphan.Start())
	waited := make(chan struct{})
	go func() { _ = orphan.Wait(); close(waited) }()
	require.NoError(t, detector.Write(s.RunDir(), "db", orphan.Process.Pid))
	require.NoError(t, os.WriteFile(detector.Path(s.RunDir(), "junk"), []byte("??"), 0o600))

	reaped := s.ReapOrphans()
	require.Equal(t, []int{orphan.Process.Pid}, reaped)
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("orphan still running")
	}

	require.True(t, s.hasHandle("web"))
	_, err = os.Stat(detector.Path(s.RunDir(), "web"))
	require.NoError(t, err)
	_, err = os.Stat(detector.Path(s.RunDir(), "db"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(detector.Path(s.RunDir(), "junk"))
	require.True(t, os.IsNotExist(err))

	require.Empty(t, s.ReapOrphans())
}
