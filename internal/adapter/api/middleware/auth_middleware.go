package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"marketchat/internal/domain/entity"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
	"marketchat/pkg/response"
)

const participantKey = "participant"

// AccessTokenCookie is the cookie carrier for credentials.
const AccessTokenCookie = "access_token"

type AuthMiddleware struct {
	gateway *usecase.GatewayUseCase
}

func NewAuthMiddleware(gateway *usecase.GatewayUseCase) *AuthMiddleware {
	return &AuthMiddleware{
		gateway: gateway,
	}
}

// Authenticate resolves the participant from the bearer header or the access
// token cookie and stores it on the context.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		participant, err := m.gateway.Authenticate(c.Request().Context(), CredentialsFrom(c, false))
		if err != nil {
			return response.Error(c, err)
		}
		c.Set(participantKey, participant)
		return next(c)
	}
}

// CredentialsFrom collects the carriers present on the request. The query
// string token is only honored for WebSocket upgrades.
func CredentialsFrom(c echo.Context, includeQuery bool) usecase.Credentials {
	var creds usecase.Credentials
	if includeQuery {
		creds.Payload = c.QueryParam("token")
	}
	if header := c.Request().Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			creds.Bearer = strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil {
		creds.Cookie = cookie.Value
	}
	return creds
}

// ParticipantFrom returns the participant set by Authenticate.
func ParticipantFrom(c echo.Context) (entity.Participant, error) {
	p, ok := c.Get(participantKey).(entity.Participant)
	if !ok || p.ID == "" {
		return entity.Participant{}, errors.Unauthenticated(errors.ReasonMissingCredential, nil)
	}
	return p, nil
}

// SetParticipant is used by tests that bypass token verification.
func SetParticipant(c echo.Context, p entity.Participant) {
	c.Set(participantKey, p)
}
