package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/supervisor"
)

// Router provides embeddable HTTP handlers mirroring the control protocol.
// Endpoints under basePath:
//
//	GET  /status           full snapshot, or ?id=... for one record
//	POST /start?id=...
//	POST /stop?id=...
//	POST /restart?id=...
//	POST /apply            re-reads the program list
//
// The unix socket stays the canonical control channel; this surface exists
// for embedding and remote management.
type Router struct {
	sup      *supervisor.Supervisor
	programs string
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, programsPath, basePath string) *Router {
	return &Router{sup: sup, programs: programsPath, basePath: sanitizeBase(basePath)}
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/apply", r.handleApply)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, programsPath string) *http.Server {
	r := NewRouter(sup, programsPath, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	if id := c.Query("id"); id != "" {
		st, err := r.sup.SnapshotOne(id)
		if err != nil {
			c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
		return
	}
	c.JSON(http.StatusOK, r.sup.Snapshot())
}

func (r *Router) handleStart(c *gin.Context) {
	r.mutate(c, r.sup.Spawn, "started")
}

func (r *Router) handleStop(c *gin.Context) {
	r.mutate(c, r.sup.RequestStop, "stop requested")
}

func (r *Router) handleRestart(c *gin.Context) {
	r.mutate(c, r.sup.RequestRestart, "restart requested")
}

func (r *Router) mutate(c *gin.Context, op func(string) error, verb string) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "id query param required"})
		return
	}
	if err := op(id); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true, Message: verb + " for " + id})
}

func (r *Router) handleApply(c *gin.Context) {
	progs, err := config.LoadPrograms(r.programs)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	started := r.sup.Apply(progs)
	c.JSON(http.StatusOK, okResp{OK: true, Message: fmt.Sprintf("applied %d programs, started %d", len(progs), started)})
}
