package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neuronlabs/botregistry/internal/integrity"
	"github.com/neuronlabs/botregistry/internal/metrics"
	"github.com/neuronlabs/botregistry/internal/registry"
)

// Runner is the part of *registry.Controller the API drives.
type Runner interface {
	Run(ctx context.Context) (registry.Summary, error)
	Start(ctx context.Context) (<-chan registry.Summary, error)
	Running() bool
	State() (registry.State, int)
	LastSummary() (registry.Summary, bool)
}

// Router provides embeddable HTTP handlers for the registry.
// Endpoints:
//
//	GET    {basePath}/health
//	GET    {basePath}/state
//	POST   {basePath}/runs          ?wait=true blocks and returns the summary
//	GET    {basePath}/runs/last
//	GET    {basePath}/bots          integrity records
//	GET    {basePath}/bots/:name
//	DELETE {basePath}/bots/:name    forget a bot's baseline
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	runner   Runner
	store    integrity.Store
	basePath string
	// runCtx parents runs started over HTTP so they outlive the request.
	runCtx context.Context
	log    *slog.Logger

	MetricsPath string
}

// NewRouter constructs a Router. Runs triggered over HTTP use ctx, so
// cancelling it stops new audits the same way SIGINT does on the CLI.
func NewRouter(ctx context.Context, runner Runner, store integrity.Store, basePath string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{runner: runner, store: store, basePath: sanitizeBase(basePath), runCtx: ctx, log: log}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Mount(g)
	if r.MetricsPath != "" {
		g.GET(r.MetricsPath, gin.WrapH(metrics.Handler()))
	}
	return g
}

// Mount registers the registry routes on an existing gin engine.
func (r *Router) Mount(g gin.IRouter) {
	group := g.Group(r.basePath)
	group.GET("/health", r.handleHealth)
	group.GET("/state", r.handleState)
	group.POST("/runs", r.handleRun)
	group.GET("/runs/last", r.handleLastRun)
	group.GET("/bots", r.handleListBots)
	group.GET("/bots/:name", r.handleGetBot)
	group.DELETE("/bots/:name", r.handleForgetBot)
}

// NewServer starts a standalone server on addr serving h, over HTTPS when
// tlsConfig is non-nil.
func NewServer(addr string, h http.Handler, tlsConfig *tls.Config, log *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		var err error
		if tlsConfig != nil {
			// certificates come from TLSConfig.GetCertificate
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped", "addr", addr, "error", err)
		}
	}()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type stateResp struct {
	State   registry.State `json:"state"`
	Index   int            `json:"index"`
	Running bool           `json:"running"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleState(c *gin.Context) {
	st, idx := r.runner.State()
	writeJSON(c, http.StatusOK, stateResp{State: st, Index: idx, Running: r.runner.Running()})
}

func (r *Router) handleRun(c *gin.Context) {
	if c.Query("wait") != "true" {
		done, err := r.runner.Start(r.runCtx)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, registry.ErrRunInProgress) {
				code = http.StatusConflict
			}
			writeJSON(c, code, errorResp{Error: err.Error()})
			return
		}
		go func() {
			if sum := <-done; sum.Err != nil {
				r.log.Error("Triggered run failed", "run", sum.RunID, "error", sum.Err)
			}
		}()
		writeJSON(c, http.StatusAccepted, okResp{OK: true})
		return
	}
	sum, err := r.runner.Run(r.runCtx)
	if errors.Is(err, registry.ErrRunInProgress) {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	// run-level errors travel inside the summary
	writeJSON(c, http.StatusOK, sum)
}

func (r *Router) handleLastRun(c *gin.Context) {
	sum, ok := r.runner.LastSummary()
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no run completed yet"})
		return
	}
	writeJSON(c, http.StatusOK, sum)
}

func (r *Router) handleListBots(c *gin.Context) {
	recs, err := r.store.List(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []integrity.Record{}
	}
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) botName(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid bot name: allowed [A-Za-z0-9._-] and no '..'"})
		return "", false
	}
	return name, true
}

func (r *Router) handleGetBot(c *gin.Context) {
	name, ok := r.botName(c)
	if !ok {
		return
	}
	rec, found, err := r.store.Lookup(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if !found {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no integrity record for " + name})
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleForgetBot(c *gin.Context) {
	name, ok := r.botName(c)
	if !ok {
		return
	}
	err := r.store.Delete(c.Request.Context(), name)
	switch {
	case errors.Is(err, integrity.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no integrity record for " + name})
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		r.log.Info("Integrity record removed by operator", "bot", name, "via", "http")
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}
