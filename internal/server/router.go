package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/backup"
	"github.com/gatewarden/gatewarden/internal/health"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/state"
	"github.com/gatewarden/gatewarden/internal/supervisor"
)

// Router provides embeddable HTTP handlers for gateway supervision and
// the backup/restore engine.
// Endpoints:
//   POST {basePath}/gateway/ensure
//   GET  {basePath}/gateway/process
//   POST {basePath}/gateway/restart
//   POST {basePath}/sync
//   GET  {basePath}/backups
//   POST {basePath}/backups/golden
//   POST {basePath}/backups/restore   body: {"name": "..."}
//   GET  {basePath}/healthz
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	sup      *supervisor.Supervisor
	engine   *backup.Engine
	layout   state.Layout
	gate     health.Gate
	mw       *auth.Middleware
	basePath string
}

// NewRouter constructs a new Router with configurable basePath. mw may be
// nil, disabling authentication.
func NewRouter(sup *supervisor.Supervisor, engine *backup.Engine, layout state.Layout, mw *auth.Middleware, basePath string) *Router {
	if mw == nil {
		mw = auth.NewMiddleware(nil)
	}
	return &Router{
		sup:      sup,
		engine:   engine,
		layout:   layout,
		mw:       mw,
		basePath: sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))

	authed := group.Group("", r.mw.GinAuth())
	authed.POST("/gateway/ensure", r.handleEnsure)
	authed.GET("/gateway/process", r.handleProcess)
	authed.POST("/gateway/restart", r.handleRestart)
	authed.POST("/sync", r.handleSync)
	authed.GET("/backups", r.handleListBackups)
	authed.POST("/backups/golden", r.handleGoldenBackup)
	authed.POST("/backups/restore", r.handleRestore)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	res := r.gate.Check(r.layout)
	code := http.StatusOK
	if !res.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, res)
}

func (r *Router) handleEnsure(c *gin.Context) {
	if err := r.sup.EnsureRunning(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleProcess(c *gin.Context) {
	ref := r.sup.FindExisting(c.Request.Context())
	if ref == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no gateway process found"})
		return
	}
	writeJSON(c, http.StatusOK, ref)
}

func (r *Router) handleRestart(c *gin.Context) {
	res := r.sup.Restart(c.Request.Context())
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleSync(c *gin.Context) {
	res := r.engine.SyncToDurable(c.Request.Context())
	// A refused sync is a deliberate outcome, not a server error.
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleListBackups(c *gin.Context) {
	list, err := r.engine.ListBackups()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, list)
}

func (r *Router) handleGoldenBackup(c *gin.Context) {
	res := r.engine.CreateGoldenBackup(c.Request.Context())
	code := http.StatusOK
	if !res.Success {
		code = http.StatusConflict
	}
	writeJSON(c, code, res)
}

type restoreReq struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

func (r *Router) handleRestore(c *gin.Context) {
	var req restoreReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Kind == "" {
		req.Kind = backup.KindVersioned
	}
	if req.Kind != backup.KindVersioned && req.Kind != backup.KindGolden {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "kind must be versioned or golden"})
		return
	}
	if req.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	if !isSafeName(req.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if err := r.engine.RestoreFromBackup(c.Request.Context(), req.Kind, req.Name); err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
