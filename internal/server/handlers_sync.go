package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/clinicware/syncd/internal/errors"
	syncsvc "github.com/clinicware/syncd/internal/sync"
)

// handleSync serves the pull channel. The session's branch from the auth
// gate overrides whatever the request claims, so a client can never sync a
// branch it does not belong to.
func (s *Server) handleSync(c echo.Context) error {
	identity, ok := identityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing identity"})
	}

	var req syncsvc.Request
	if err := c.Bind(&req); err != nil {
		structured := apperrors.ValidationError("malformed sync request")
		return c.JSON(structured.HTTPStatus(), structured.ToResponse())
	}
	req.BranchID = identity.BranchID

	resp, err := s.sync.Sync(c.Request().Context(), req)
	if err != nil {
		structured := apperrors.AsStructuredError(err)
		return c.JSON(structured.HTTPStatus(), structured.ToResponse())
	}
	return c.JSON(http.StatusOK, resp)
}
