package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lodomo/EscapeWright/internal/clock"
	"github.com/lodomo/EscapeWright/internal/events"
	"github.com/lodomo/EscapeWright/internal/fleet"
	"github.com/lodomo/EscapeWright/internal/metrics"
	"github.com/lodomo/EscapeWright/internal/room"
	"github.com/lodomo/EscapeWright/internal/store"
)

// Fleet is the node view the control API needs.
type Fleet interface {
	Nodes(ctx context.Context) []fleet.NodeRecord
	RefreshAll(ctx context.Context) error
	Relay(ctx context.Context, name, message string) error
}

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

type dependency struct {
	check    Check
	optional bool
}

// Server is the operator and node-facing control API.
type Server struct {
	room  *room.Service
	fleet Fleet

	history store.EventLog

	mu   sync.RWMutex
	deps map[string]dependency
}

func NewServer(r *room.Service, f Fleet) *Server {
	return &Server{room: r, fleet: f, deps: make(map[string]dependency)}
}

// SetEventLog enables /events/history backed by a persistent log.
func (s *Server) SetEventLog(l store.EventLog) {
	s.history = l
}

// AddCheck registers a readiness dependency. Optional dependencies are
// reported but never make /ready fail.
func (s *Server) AddCheck(name string, check Check, optional bool) {
	s.mu.Lock()
	s.deps[name] = dependency{check: check, optional: optional}
	s.mu.Unlock()
}

// Handler returns the gin engine with every route mounted.
func (s *Server) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), countRequests())

	g.POST("/start", s.handleStart)
	g.POST("/start/:guide/:players", s.handleStart)
	g.POST("/toggle", s.handleToggle)
	g.POST("/stop", s.handleStop)
	g.POST("/reset", s.handleReset)

	g.POST("/trigger/:message", s.handleTrigger)
	g.POST("/update_status/:name/:status", s.handleUpdateStatus)

	g.GET("/time_remaining", s.handleTimeRemaining)
	g.GET("/room_status", s.handleRoomStatus)
	g.GET("/nodes", s.handleNodes)
	g.POST("/refresh", s.handleRefresh)
	g.POST("/relay/:name/:message", s.handleRelay)

	g.GET("/health", healthHandler)
	g.GET("/ready", s.handleReady)
	g.GET("/events", eventsHandler)
	g.GET("/events/history", s.handleHistory)
	g.GET("/ws/events", gin.WrapF(wsEventsHandler))
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewHTTPServer wraps Handler in an http.Server listening on port.
func (s *Server) NewHTTPServer(port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTPRequest(route, c.Writer.Status())
	}
}

// --- Operator ---

func (s *Server) handleStart(c *gin.Context) {
	if err := s.room.Start(c.Request.Context(), c.Param("guide"), c.Param("players")); err != nil {
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, "Room Started")
}

func (s *Server) handleToggle(c *gin.Context) {
	msg, err := s.room.Toggle(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	switch msg {
	case room.MessageStart:
		c.String(http.StatusOK, "Room Started")
	case room.MessagePause:
		c.String(http.StatusOK, "Room Paused")
	default:
		c.String(http.StatusOK, "Room Resumed")
	}
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.room.Stop(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, "Room Stopped")
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.room.Reset(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, "Room Reset")
}

// --- Node push channel ---

func (s *Server) handleTrigger(c *gin.Context) {
	msg := c.Param("message")
	if err := s.room.Trigger(c.Request.Context(), msg); err != nil {
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, "Trigger Received: %s", msg)
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	name, status := c.Param("name"), c.Param("status")
	if err := s.room.UpdateStatus(c.Request.Context(), name, status); err != nil {
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, "Status Updated: %s %s", name, status)
}

// --- Views ---

func (s *Server) handleTimeRemaining(c *gin.Context) {
	c.String(http.StatusOK, s.room.Clock().Render(c.Request.Context()))
}

func (s *Server) handleRoomStatus(c *gin.Context) {
	c.String(http.StatusOK, string(s.room.Status(c.Request.Context())))
}

func (s *Server) handleNodes(c *gin.Context) {
	c.JSON(http.StatusOK, s.fleet.Nodes(c.Request.Context()))
}

func (s *Server) handleRefresh(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.fleet.RefreshAll(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.fleet.Nodes(ctx))
}

func (s *Server) handleRelay(c *gin.Context) {
	name, msg := c.Param("name"), c.Param("message")
	if err := s.fleet.Relay(c.Request.Context(), name, msg); err != nil {
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, "Relayed %s to %s", msg, name)
}

// --- Service ---

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(c *gin.Context) {
	host, _ := os.Hostname()
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "control",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type CheckResult struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ReadinessResponse struct {
	Ready  bool                   `json:"ready"`
	Checks map[string]CheckResult `json:"checks"`
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := ReadinessResponse{Ready: true, Checks: make(map[string]CheckResult, len(s.deps))}
	for name, dep := range s.deps {
		res := CheckResult{Status: "ok", Optional: dep.optional}
		if err := dep.check(ctx); err != nil {
			res.Status = "unavailable"
			res.Error = err.Error()
			if !dep.optional {
				resp.Ready = false
			}
		}
		resp.Checks[name] = res
	}

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// eventsHandler serves the in-memory journal: ?limit=N for the newest N,
// ?since=SEQ for everything after a sequence number, ?topic= to filter.
func eventsHandler(c *gin.Context) {
	sq, err := parseStreamQuery(c.Request.URL.Query())
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	if sq.resume {
		c.JSON(http.StatusOK, sq.backlog())
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.String(http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, events.RecentEvents(limit, sq.topics...))
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.String(http.StatusNotFound, "event history not configured")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := s.history.QueryEvents(c.Request.Context(), store.ClampLimit(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// writeError maps domain errors to status codes. Precondition failures are
// conflicts, unknown nodes are not found.
func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, fleet.ErrUnknownNode):
		code = http.StatusNotFound
	case errors.Is(err, room.ErrEmptyMessage):
		code = http.StatusBadRequest
	case errors.Is(err, clock.ErrAlreadyStarted),
		errors.Is(err, clock.ErrNotStarted),
		errors.Is(err, clock.ErrAlreadyPaused),
		errors.Is(err, clock.ErrNotPaused),
		errors.Is(err, clock.ErrStopped):
		code = http.StatusConflict
	default:
		log.Printf("api: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		if c.FullPath() == "/relay/:name/:message" {
			code = http.StatusBadGateway
		}
	}
	c.String(code, err.Error())
}
