package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/loykin/stackd/internal/health"
	"github.com/loykin/stackd/internal/service"
	"github.com/loykin/stackd/internal/supervisor"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	valid := []string{"a", "A1._-", "name.1-2_3"}
	invalid := []string{"", "..", "a..b", "a/b", `a\\b`, "hello*", "unicode한글"}
	for _, s := range valid {
		if !isSafeName(s) {
			t.Fatalf("expected valid name %q", s)
		}
	}
	for _, s := range invalid {
		if isSafeName(s) {
			t.Fatalf("expected invalid name %q", s)
		}
	}
}

func TestDecodeJSONKeepsDefaults(t *testing.T) {
	o := service.DefaultOverride()
	if err := decodeJSON([]byte(`{"version":"16.2"}`), &o); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !o.Enabled || o.Version != "16.2" {
		t.Fatalf("unexpected override: %+v", o)
	}
	if err := decodeJSON([]byte(`{"enable":false}`), &o); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if err := decodeJSON([]byte("  "), &o); err != nil {
		t.Fatalf("blank body should be accepted: %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", supervisor.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: a -> b -> a", supervisor.ErrCycleDetected), http.StatusConflict},
		{fmt.Errorf("%w: x", supervisor.ErrDisabled), http.StatusConflict},
		{fmt.Errorf("%w: x", supervisor.ErrNotRunning), http.StatusConflict},
		{fmt.Errorf("%w: refused", health.ErrHealthCheckFailed), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: x", supervisor.ErrSpawnFailed), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Fatalf("statusFor(%v) = %d want %d", c.err, got, c.want)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
}
