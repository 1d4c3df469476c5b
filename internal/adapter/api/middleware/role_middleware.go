package middleware

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
	"marketchat/pkg/response"
)

// RequireRole rejects authenticated participants of any other role.
func RequireRole(role entity.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := ParticipantFrom(c)
			if err != nil {
				return response.Error(c, err)
			}
			if p.Role != role {
				return response.Error(c, errors.Forbidden("This endpoint requires the "+string(role)+" role", nil))
			}
			return next(c)
		}
	}
}
