package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/stackd/internal/auth"
	"github.com/loykin/stackd/internal/health"
	"github.com/loykin/stackd/internal/metrics"
	"github.com/loykin/stackd/internal/service"
	"github.com/loykin/stackd/internal/supervisor"
)

// Router provides embeddable HTTP handlers for the supervisor.
// Endpoints, relative to basePath:
//
//	GET    /services                  list states
//	POST   /services/:id/start        optional body: Override JSON
//	POST   /services/:id/stop
//	POST   /services/:id/restart      optional body: Override JSON
//	POST   /services/:id/config       body: Override JSON, applied without restart
//	GET    /services/:id/health
//	GET    /services/:id/logs         query: tail=N
//	GET    /services/:id/logpath
//	GET    /services/:id/usage
//	POST   /logs/export               query: service, level, limit
//	DELETE /logs                      query: service (empty clears all)
//	POST   /tick
//	GET    /snapshot
//	POST   /auth/token                basic credentials, returns a JWT (auth only)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
	configs  supervisor.ConfigProvider
	metrics  bool
	auth     *auth.Service
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithConfigProvider makes start and restart without a body use the persisted override.
func WithConfigProvider(p supervisor.ConfigProvider) RouterOption {
	return func(r *Router) { r.configs = p }
}

// WithMetrics exposes the Prometheus handler at {basePath}/metrics.
func WithMetrics() RouterOption {
	return func(r *Router) { r.metrics = true }
}

// WithAuth requires credentials on every endpoint except /auth/token and /metrics.
func WithAuth(a *auth.Service) RouterOption {
	return func(r *Router) { r.auth = a }
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/services, /api/tick, ...
func NewRouter(sup *supervisor.Supervisor, basePath string, opts ...RouterOption) *Router {
	r := &Router{sup: sup, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	open := g.Group(r.basePath)
	group := open
	if r.auth != nil {
		open.POST("/auth/token", r.auth.GinLogin())
		group = open.Group("", r.auth.GinAuth())
	}
	group.GET("/services", r.handleList)
	svc := group.Group("/services/:id", r.requireSafeID)
	svc.POST("/start", r.handleStart)
	svc.POST("/stop", r.handleStop)
	svc.POST("/restart", r.handleRestart)
	svc.POST("/config", r.handleApplyConfig)
	svc.GET("/health", r.handleHealth)
	svc.GET("/logs", r.handleLogs)
	svc.GET("/logpath", r.handleLogPath)
	svc.GET("/usage", r.handleUsage)
	group.POST("/logs/export", r.handleExportLogs)
	group.DELETE("/logs", r.handleClearLogs)
	group.POST("/tick", r.handleTick)
	group.GET("/snapshot", r.handleSnapshot)
	if r.metrics {
		open.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down with http.Server's Shutdown or Close.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// start waits for health probes and crash backoff under the lock
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string         `json:"error"`
	State *service.State `json:"state,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type pathResp struct {
	Path string `json:"path"`
}

type healthResp struct {
	Status string `json:"status"`
}

func (r *Router) requireSafeID(c *gin.Context) {
	if !isSafeName(c.Param("id")) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service id: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		c.Abort()
		return
	}
	c.Next()
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.List())
}

// override decodes an optional Override body. Missing fields keep the
// defaults, so an absent "enabled" means enabled.
func (r *Router) override(c *gin.Context, id string) (*service.Override, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if r.configs == nil {
			return nil, true
		}
		o, err := r.configs.LoadServiceConfig(id)
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: "load service config: " + err.Error()})
			return nil, false
		}
		return &o, true
	}
	o := service.DefaultOverride()
	if err := decodeJSON(body, &o); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return nil, false
	}
	return &o, true
}

func (r *Router) handleStart(c *gin.Context) {
	id := c.Param("id")
	o, ok := r.override(c, id)
	if !ok {
		return
	}
	var st service.State
	var err error
	if o != nil {
		st, err = r.sup.StartWithConfig(id, *o)
	} else {
		st, err = r.sup.Start(id)
	}
	writeState(c, st, err)
}

func (r *Router) handleStop(c *gin.Context) {
	st, err := r.sup.Stop(c.Param("id"))
	writeState(c, st, err)
}

func (r *Router) handleRestart(c *gin.Context) {
	id := c.Param("id")
	o, ok := r.override(c, id)
	if !ok {
		return
	}
	var st service.State
	var err error
	if o != nil {
		st, err = r.sup.RestartWithConfig(id, *o)
	} else {
		st, err = r.sup.Restart(id)
	}
	writeState(c, st, err)
}

func (r *Router) handleApplyConfig(c *gin.Context) {
	o := service.DefaultOverride()
	body, err := io.ReadAll(c.Request.Body)
	if err == nil {
		err = decodeJSON(body, &o)
	}
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	st, err := r.sup.ApplyConfig(c.Param("id"), o)
	writeState(c, st, err)
}

func (r *Router) handleHealth(c *gin.Context) {
	status, err := r.sup.Health(c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	writeJSON(c, http.StatusOK, healthResp{Status: status})
}

func (r *Router) handleLogs(c *gin.Context) {
	tail, ok := intQuery(c, "tail")
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r.sup.Logs(c.Param("id"), tail))
}

func (r *Router) handleLogPath(c *gin.Context) {
	writeJSON(c, http.StatusOK, pathResp{Path: r.sup.LogPath(c.Param("id"))})
}

func (r *Router) handleUsage(c *gin.Context) {
	u, err := r.sup.Usage(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	writeJSON(c, http.StatusOK, u)
}

func (r *Router) handleExportLogs(c *gin.Context) {
	svc := c.Query("service")
	if svc != "" && !isSafeName(svc) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service"})
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	p, err := r.sup.ExportLogs(svc, c.Query("level"), limit)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	writeJSON(c, http.StatusOK, pathResp{Path: p})
}

func (r *Router) handleClearLogs(c *gin.Context) {
	svc := c.Query("service")
	if svc != "" && !isSafeName(svc) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service"})
		return
	}
	if err := r.sup.ClearLogs(svc); err != nil {
		writeError(c, err, nil)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleTick(c *gin.Context) {
	r.sup.Tick()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleSnapshot(c *gin.Context) {
	snap, err := r.sup.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err, nil)
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func intQuery(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid " + key + ": must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func writeState(c *gin.Context, st service.State, err error) {
	if err != nil {
		var sp *service.State
		if st.ID != "" {
			sp = &st
		}
		writeError(c, err, sp)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func writeError(c *gin.Context, err error, st *service.State) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error(), State: st})
}

// statusFor maps supervisor errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrCycleDetected),
		errors.Is(err, supervisor.ErrDisabled),
		errors.Is(err, supervisor.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, health.ErrHealthCheckFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
