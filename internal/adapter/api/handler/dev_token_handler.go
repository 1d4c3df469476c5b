package handler

import (
	"time"

	"github.com/labstack/echo/v4"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/auth"
	"marketchat/pkg/errors"
	"marketchat/pkg/response"
)

// DevTokenHandler issues HS256 tokens for local testing.
type DevTokenHandler struct {
	secret string
	issuer string
}

func NewDevTokenHandler(secret, issuer string) *DevTokenHandler {
	return &DevTokenHandler{secret: secret, issuer: issuer}
}

type devTokenRequest struct {
	Subject string `json:"subject" validate:"required"`
	Role    string `json:"role" validate:"required"`
	TTL     string `json:"ttl"`
}

func (h *DevTokenHandler) IssueToken(c echo.Context) error {
	var req devTokenRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}
	role, ok := entity.ParseRole(req.Role)
	if !ok {
		return response.Error(c, errors.Validation("role must be customer or store_operator"))
	}

	ttl := 24 * time.Hour
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			return response.Error(c, errors.Validation("ttl must be a duration such as 1h"))
		}
		ttl = parsed
	}

	token, err := auth.IssueHS256(h.secret, h.issuer, req.Subject, string(role), ttl)
	if err != nil {
		return response.Error(c, errors.Internal("Failed to sign token", err))
	}
	return response.Success(c, map[string]interface{}{
		"token":      token,
		"subject":    req.Subject,
		"role":       role,
		"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
	})
}
