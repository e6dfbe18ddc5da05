package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicware/syncd/internal/version"
)

type healthStatus struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Build  *version.Info     `json:"build,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleLiveness(c echo.Context) error {
	build := version.Get()
	return c.JSON(http.StatusOK, healthStatus{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		Build:  &build,
	})
}

// handleReadiness pings the backing stores. A failing dependency means the
// instance should be rotated out of the load balancer, not restarted.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for name, checker := range map[string]healthChecker{
		"postgres": s.pgHealth,
		"redis":    s.rdHealth,
	} {
		if checker == nil {
			continue
		}
		if err := checker.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	result := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		result = "degraded"
	}
	return c.JSON(status, healthStatus{Status: result, Checks: checks})
}
