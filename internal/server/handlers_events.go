package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicware/syncd/internal/domain"
	apperrors "github.com/clinicware/syncd/internal/errors"
	"github.com/clinicware/syncd/internal/scope"
)

type eventRequest struct {
	EventKind      domain.EventKind `json:"eventKind"`
	BranchID       int64            `json:"branchId"`
	EmployeeID     int64            `json:"employeeId,omitempty"`
	TargetEntityID int64            `json:"targetEntityId,omitempty"`
}

// handleEvent accepts a committed mutation from a backend service and routes
// it through the scope router. The caller's branch claim bounds the blast
// radius: a backend token for branch 7 cannot publish into branch 9 rooms.
func (s *Server) handleEvent(c echo.Context) error {
	identity, ok := identityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing identity"})
	}

	var req eventRequest
	if err := c.Bind(&req); err != nil {
		structured := apperrors.ValidationError("malformed event request")
		return c.JSON(structured.HTTPStatus(), structured.ToResponse())
	}

	if req.BranchID != identity.BranchID {
		structured := apperrors.AuthError("branch mismatch", nil).
			WithContext("branch_id", req.BranchID)
		return c.JSON(structured.HTTPStatus(), structured.ToResponse())
	}

	change := scope.Change{
		Kind:           req.EventKind,
		BranchID:       req.BranchID,
		EmployeeID:     req.EmployeeID,
		TargetEntityID: req.TargetEntityID,
	}
	if err := s.router.ChangeOccurred(change); err != nil {
		structured := apperrors.ValidationError("unknown event kind")
		return c.JSON(structured.HTTPStatus(), structured.ToResponse())
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"accepted": true})
}
