//go:build !windows

package supervisor

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/stackd/internal/detector"
	"github.com/loykin/stackd/internal/env"
	"github.com/loykin/stackd/internal/process"
	"github.com/loykin/stackd/internal/runtime"
	"github.com/loykin/stackd/internal/service"
)

// fakeProvisioner resolves every binary to /bin/sh once the service has been
// ensured, or right away when preinstalled is set.
type fakeProvisioner struct {
	mu           sync.Mutex
	preinstalled bool
	installed    map[string]bool
	ensured      []string
	resolved     []string
}

func (f *fakeProvisioner) ResolveBinary(binary string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, binary)
	if f.preinstalled || f.installed[binary] {
		return "/bin/sh", nil
	}
	return "", runtime.ErrBinaryNotFound
}

func (f *fakeProvisioner) EnsureService(name, version string) (runtime.Binary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, name+"@"+version)
	if f.installed == nil {
		f.installed = map[string]bool{}
	}
	path := f.BinPathFor(name, version)
	f.installed[path] = true
	return runtime.Binary{Name: name, Version: version, BinPath: path}, nil
}

func (f *fakeProvisioner) ScopedPath(binary string) string {
	return env.JoinPath(filepath.Dir(binary), os.Getenv("PATH"))
}

func (f *fakeProvisioner) BinPathFor(name, version string) string {
	return filepath.Join("versions", name, version)
}

func (f *fakeProvisioner) calls() (ensured, resolved []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ensured...), append([]string(nil), f.resolved...)
}

func TestStartProvisionsDefaultVersion(t *testing.T) {
	version := runtime.DefaultVersions()["node"]
	require.NotEmpty(t, version)

	prov := &fakeProvisioner{}
	def := shDef("node", "sleep 30")
	def.Binary = prov.BinPathFor("node", version)
	s := newTestSupervisor(t, []service.Definition{def}, WithProvisioner(prov))

	st, err := s.Start("node")
	require.NoError(t, err)
	require.Equal(t, service.StateRunning, st.State)
	require.True(t, s.hasHandle("node"))

	ensured, resolved := prov.calls()
	require.Equal(t, []string{"node@" + version}, ensured)
	require.Equal(t, []string{def.Binary, def.Binary}, resolved)
}

func TestStartWithoutDefaultVersionDoesNotProvision(t *testing.T) {
	prov := &fakeProvisioner{}
	def := shDef("custom", "sleep 30")
	def.Binary = "versions/custom/1.0"
	s := newTestSupervisor(t, []service.Definition{def}, WithProvisioner(prov))

	_, err := s.Start("custom")
	require.ErrorIs(t, err, ErrBinaryUnresolved)
	ensured, _ := prov.calls()
	require.Empty(t, ensured)
}

func TestStartVersionOverrideResolvesVersionedBinary(t *testing.T) {
	prov := &fakeProvisioner{preinstalled: true}
	s := newTestSupervisor(t, []service.Definition{shDef("web", "sleep 30")}, WithProvisioner(prov))

	_, err := s.StartWithConfig("web", service.Override{Enabled: true, Version: "9.9"})
	require.NoError(t, err)
	_, resolved := prov.calls()
	require.Equal(t, []string{filepath.Join("versions", "web", "9.9")}, resolved)
}

func TestStartVersionOverrideLaunchesVersionedBinary(t *testing.T) {
	s := newTestSupervisor(t, []service.Definition{shDef("web", "sleep 30")})
	bin := filepath.Join(s.root, runtime.BinPathFor("web", "2.0"))
	require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0o755))
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho \"launched $0\"\nsleep 30\n"), 0o755))

	st, err := s.StartWithConfig("web", service.Override{Enabled: true, Version: "2.0"})
	require.NoError(t, err)
	require.Equal(t, service.StateRunning, st.State)
	require.Eventually(t, func() bool {
		return hasMessage(s.Logs("web", 0), "launched "+bin)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestChildPathIsScopedToBinary(t *testing.T) {
	s := newTestSupervisor(t, []service.Definition{shDef("env", `echo "PATH=$PATH"; sleep 30`)})
	want := "PATH=" + env.JoinPath("/bin", filepath.Join(s.root, "runtime", "bin"), os.Getenv("PATH"))

	_, err := s.Start("env")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return hasMessage(s.Logs("env", 0), want)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSharedDependencyStartsOncePerCall(t *testing.T) {
	rec := &recorder{}
	d := shDef("d", "sleep 30")
	d.HealthCheck = service.HealthCheck{Kind: service.CheckPort, Target: freePort(t), Timeout: 100 * time.Millisecond, Interval: 20 * time.Millisecond}
	s := newTestSupervisor(t, []service.Definition{
		shDef("a", "sleep 30", "b", "c"),
		shDef("b", "sleep 30", "d"),
		shDef("c", "sleep 30", "d"),
		d,
	}, WithObserver(rec.observe))

	_, err := s.Start("a")
	require.NoError(t, err)

	starts := 0
	for _, state := range rec.sequence("d") {
		if state == service.StateStarting {
			starts++
		}
	}
	require.Equal(t, 1, starts)

	st, err := s.State("d")
	require.NoError(t, err)
	require.Equal(t, service.StateError, st.State)
	require.True(t, s.hasHandle("d"))
}

func TestStopFailureKeepsProcess(t *testing.T) {
	s := newTestSupervisor(t, []service.Definition{shDef("web", "sleep 30")})
	started, err := s.Start("web")
	require.NoError(t, err)
	require.NotNil(t, started.PID)
	pidFile := detector.Path(s.RunDir(), "web")
	require.FileExists(t, pidFile)

	s.stop = func(*process.Process, time.Duration) error { return process.ErrNotExited }
	s.kill = func(*process.Process) error { return process.ErrNotExited }
	t.Cleanup(func() {
		s.stop = (*process.Process).Stop
		s.kill = (*process.Process).Kill
	})

	st, err := s.Stop("web")
	require.ErrorIs(t, err, ErrStopFailed)
	require.ErrorIs(t, err, process.ErrNotExited)
	require.Equal(t, service.StateRunning, st.State)
	require.True(t, s.hasHandle("web"))
	require.FileExists(t, pidFile)

	st, err = s.Restart("web")
	require.ErrorIs(t, err, ErrStopFailed)
	require.Equal(t, service.StateRunning, st.State)
	require.Equal(t, *started.PID, *st.PID)

	// a start that must replace the live handle aborts instead of spawning
	s.mu.Lock()
	s.states["web"] = service.NewState("web", service.StateError).WithPID(*started.PID)
	s.mu.Unlock()
	_, err = s.Start("web")
	require.ErrorIs(t, err, ErrStopFailed)
	s.mu.Lock()
	pid := s.handles["web"].PID()
	s.mu.Unlock()
	require.Equal(t, *started.PID, pid)

	s.stop = (*process.Process).Stop
	s.kill = (*process.Process).Kill
	st, err = s.Stop("web")
	require.NoError(t, err)
	require.Equal(t, service.StateStopped, st.State)
	require.NoFileExists(t, pidFile)
}
