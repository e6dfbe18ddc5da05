package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Push channel: authenticated WebSocket connect
	s.echo.GET("/ws", s.handleWebSocket)

	// Pull channel: authenticated, rate-limited cursor sync
	s.echo.POST("/sync", s.handleSync, s.requireAuth, newRateLimiter(s.config.SyncRateLimit, s.config.SyncRateBurst))

	// Event ingestion: backend services report committed mutations here
	s.echo.POST("/events", s.handleEvent, s.requireAuth)
}
