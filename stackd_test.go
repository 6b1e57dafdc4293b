package stackd

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func sleeper(id string, deps ...string) Definition {
	return Definition{
		ID:          id,
		Binary:      "/bin/sh",
		Args:        []string{"-c", "sleep 30"},
		DependsOn:   deps,
		HealthCheck: HealthCheck{Kind: CheckPID},
	}
}

func TestFacadeStartStop(t *testing.T) {
	requireUnix(t)
	sup, err := New([]Definition{sleeper("db"), sleeper("api", "db")},
		WithRoot(t.TempDir()), WithStopTimeout(500*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sup.Shutdown() }()

	st, err := sup.Start("api")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.State != StateRunning {
		t.Fatalf("api state = %s", st.State)
	}
	db, _ := sup.State("db")
	if db.State != StateRunning {
		t.Fatalf("dependency not started: %+v", db)
	}
	st, err = sup.Stop("api")
	if err != nil || st.State != StateStopped {
		t.Fatalf("stop: %+v %v", st, err)
	}
}

func TestFacadeErrors(t *testing.T) {
	sup, err := New([]Definition{sleeper("a", "b"), sleeper("b", "a")}, WithRoot(t.TempDir()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sup.Shutdown() }()
	if _, err := sup.Start("a"); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("want cycle, got %v", err)
	}
	if _, err := sup.Start("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
	o := DefaultOverride()
	o.Enabled = false
	if _, err := sup.StartWithConfig("a", o); !errors.Is(err, ErrDisabled) && !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("want disabled or cycle, got %v", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "stackd.toml")
	data := `
root = "state"
stop_timeout = "500ms"
env = ["GREETING=hi"]

[[services]]
id = "echo"
binary = "/bin/sh"
args = ["-c", "echo $GREETING; sleep 30"]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sup, err := NewFromConfig(c)
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	defer func() { _ = sup.Shutdown() }()

	if _, err := sup.Start("echo"); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		entries := sup.Logs("echo", 10)
		found := false
		for _, e := range entries {
			if e.Message == "hi" {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("global env not applied, logs: %+v", entries)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := sup.LogPath("echo"); got != filepath.Join(dir, "state", "logs", "echo.log") {
		t.Fatalf("log path = %s", got)
	}
}

func TestNewHTTPHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sup, err := New([]Definition{sleeper("db")}, WithRoot(t.TempDir()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sup.Shutdown() }()

	h := NewHTTPHandler(sup, "/api", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/services", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var states []State
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 || states[0].ID != "db" || states[0].State != StateStopped {
		t.Fatalf("states = %+v", states)
	}

	srv := NewHTTPServer("127.0.0.1:0", "/api", sup, NewOverrideStore(t.TempDir()))
	if srv.Addr != "127.0.0.1:0" || srv.Handler == nil {
		t.Fatalf("server = %+v", srv)
	}
}
