package nodeapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lodomo/EscapeWright/internal/metrics"
	"github.com/lodomo/EscapeWright/internal/role"
	"github.com/lodomo/EscapeWright/internal/transmit"
)

// FatalFunc is called when the role can no longer be trusted, currently only
// after a join timeout. The node process is expected to exit non-zero.
type FatalFunc func(err error)

// Info is the JSON served at GET /.
type Info struct {
	Name     string   `json:"name"`
	Location string   `json:"location,omitempty"`
	Role     string   `json:"role"`
	Status   string   `json:"status"`
	Running  bool     `json:"running"`
	Uptime   string   `json:"uptime"`
	LastBoot string   `json:"last_boot"`
	Triggers []string `json:"triggers"`
}

// Server exposes one node's Machine over HTTP.
type Server struct {
	name     string
	location string
	machine  *role.Machine
	fatal    FatalFunc
	boot     time.Time
}

func New(name, location string, m *role.Machine, fatal FatalFunc) *Server {
	if fatal == nil {
		fatal = func(err error) { log.Printf("node %s: fatal: %v", name, err) }
	}
	return &Server{name: name, location: location, machine: m, fatal: fatal, boot: time.Now()}
}

// Echo builds the router.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLog())

	e.GET("/", s.handleInfo)
	e.GET("/status", s.handleStatus)
	e.POST("/relay/:message", s.handleRelay)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	return e
}

// NewHTTPServer wraps the router in an http.Server on port.
func (s *Server) NewHTTPServer(port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Echo(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func requestLog() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			metrics.IncHTTPRequest(c.Path(), status)
			if c.Path() != "/status" {
				log.Printf("node: %s %s - %d", c.Request().Method, c.Request().URL.Path, status)
			}
			return nil
		}
	}
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.String(http.StatusOK, string(s.machine.Status()))
}

func (s *Server) handleInfo(c echo.Context) error {
	triggers := s.machine.Triggers()
	if triggers == nil {
		triggers = []string{}
	}
	return c.JSON(http.StatusOK, Info{
		Name:     s.name,
		Location: s.location,
		Role:     s.machine.Role().Name(),
		Status:   string(s.machine.Status()),
		Running:  s.machine.Running(),
		Uptime:   time.Since(s.boot).Truncate(time.Second).String(),
		LastBoot: s.boot.Format(time.RFC3339),
		Triggers: triggers,
	})
}

func (s *Server) handleRelay(c echo.Context) error {
	msg := c.Param("message")
	taken, err := s.Relay(c.Request().Context(), msg)
	if errors.Is(err, role.ErrJoinTimeout) {
		c.Response().Header().Set(transmit.FatalHeader, "join-timeout")
		return c.String(http.StatusInternalServerError, fmt.Sprintf("Relay Failed: %s: %v", msg, err))
	}
	if taken {
		return c.String(http.StatusOK, "Relay Received, Action Taken: "+msg)
	}
	return c.String(http.StatusOK, "Relay Received, No Action Taken: "+msg)
}

// Relay hands message to the machine. A join timeout is passed to the fatal
// hook; other transition errors only mean no action was taken.
func (s *Server) Relay(ctx context.Context, message string) (bool, error) {
	taken, err := s.machine.Process(ctx, message)
	switch {
	case errors.Is(err, role.ErrJoinTimeout):
		go s.fatal(err)
		return false, err
	case err != nil:
		log.Printf("node %s: %q not applied: %v", s.name, message, err)
		return false, nil
	}
	return taken, nil
}

// HandleMQTT adapts Relay to an MQTT relay subscription.
func (s *Server) HandleMQTT(ctx context.Context, _ string, payload string) {
	if _, err := s.Relay(ctx, payload); err != nil {
		log.Printf("node %s: mqtt relay %q: %v", s.name, payload, err)
	}
}
