// Package server exposes the push and pull channels over HTTP: the
// WebSocket connect endpoint, the pull-sync endpoint, and observability
// routes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/clinicware/syncd/internal/auth"
	"github.com/clinicware/syncd/internal/broadcast"
	"github.com/clinicware/syncd/internal/config"
	"github.com/clinicware/syncd/internal/scope"
	syncsvc "github.com/clinicware/syncd/internal/sync"
)

type healthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	gate      auth.Gate
	hub       *broadcast.Hub
	router    *scope.Router
	sync      *syncsvc.Service
	pgHealth  healthChecker
	rdHealth  healthChecker
	startTime time.Time
}

func NewServer(cfg *config.Config, gate auth.Gate, hub *broadcast.Hub, router *scope.Router, sync *syncsvc.Service, pgHealth, rdHealth healthChecker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// Hijacked websocket connections manage their own deadlines, so this
	// only bounds plain HTTP responses.
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(requestID)

	srv := &Server{
		echo:      e,
		config:    cfg,
		gate:      gate,
		hub:       hub,
		router:    router,
		sync:      sync,
		pgHealth:  pgHealth,
		rdHealth:  rdHealth,
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
