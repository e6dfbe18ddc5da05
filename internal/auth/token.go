package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clinicware/syncd/internal/domain"
)

// NewToken signs an HS256 token for an identity. Token minting proper lives
// with the auth service; this helper exists for tooling and tests.
func NewToken(secret string, identity domain.Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":    identity.EmployeeID,
		"branch": identity.BranchID,
		"role":   identity.Role,
		"jti":    uuid.NewString(),
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}
