// Package server exposes the operator HTTP surface for the governance layer.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps the echo instance serving health, metrics and the ops API.
type Server struct {
	e    *echo.Echo
	addr string
}

// New builds the HTTP server. The ops group is mounted under /ops behind JWT
// auth when a secret is configured; without one the ops API is left open,
// which is only acceptable on loopback deployments.
func New(addr string, jwtSecret []byte, ops *OpsHandler, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	group := e.Group("/ops")
	if len(jwtSecret) > 0 {
		group.Use(AuthMiddleware(jwtSecret))
	} else {
		logger.Printf("warn: ops API mounted without authentication")
	}
	ops.Register(group)

	return &Server{e: e, addr: addr}
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	return s.e.Start(s.addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}
