package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/middleware"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// authFrameLimit caps frames read before the connection is authenticated.
const authFrameLimit = 8 * 1024

type WebSocketConfig struct {
	AuthTimeout    time.Duration
	AllowedOrigins []string
	Client         ws.ClientOptions
}

type WebSocketHandler struct {
	manager  *ws.Manager
	gateway  *usecase.GatewayUseCase
	upgrader gorillaws.Upgrader
	cfg      WebSocketConfig
}

func NewWebSocketHandler(manager *ws.Manager, gateway *usecase.GatewayUseCase, cfg WebSocketConfig) *WebSocketHandler {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	return &WebSocketHandler{
		manager: manager,
		gateway: gateway,
		cfg:     cfg,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWebSocket upgrades the request, authenticates the connection within
// the auth timeout and serves it until it closes.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("WebSocket: upgrade failed from %s: %v", c.RealIP(), err)
		return nil
	}
	conn.SetReadLimit(authFrameLimit)

	ctx := c.Request().Context()
	deadline := time.Now().Add(h.cfg.AuthTimeout)
	authCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	creds := middleware.CredentialsFrom(c, true)
	if creds.Token() == "" {
		token, err := awaitAuthenticateFrame(conn, deadline)
		if stderrors.Is(err, gorillaws.ErrReadLimit) {
			logger.Warn("WebSocket: oversized handshake frame from %s", c.RealIP())
			_ = conn.Close()
			return nil
		}
		if err != nil {
			logger.Debug("WebSocket: no credential from %s before deadline: %v", c.RealIP(), err)
			rejectConnection(conn, errors.ReasonMissingCredential)
			return nil
		}
		creds.Payload = token
	}

	participant, err := h.gateway.Authenticate(authCtx, creds)
	if err != nil {
		if errors.Is(err, errors.CodeUnauthenticated) {
			rejectConnection(conn, errors.MessageOf(err))
		} else {
			logger.ErrorCtx(ctx, "WebSocket: authentication failed", err)
			closeConnection(conn, gorillaws.CloseInternalServerErr, "authentication unavailable")
		}
		return nil
	}
	_ = conn.SetReadDeadline(time.Time{})

	client := ws.NewClient(conn, participant, h.cfg.Client)
	h.manager.Serve(ctx, client)
	return nil
}

// awaitAuthenticateFrame reads the first frame, which must be authenticate.
func awaitAuthenticateFrame(conn *gorillaws.Conn, deadline time.Time) (string, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}

	var in ws.Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return "", err
	}
	if in.Type != ws.EventAuthenticate {
		return "", errors.BadRequest("first frame must be authenticate", nil)
	}
	var data ws.AuthenticateData
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return "", err
		}
	}
	return data.Token, nil
}

func rejectConnection(conn *gorillaws.Conn, reason string) {
	if payload, err := ws.NewEnvelope(ws.EventAuthError, "", ws.AuthErrorData{Reason: reason}).Encode(); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = conn.WriteMessage(gorillaws.TextMessage, payload)
	}
	closeConnection(conn, ws.CloseUnauthenticated, reason)
}

func closeConnection(conn *gorillaws.Conn, code int, reason string) {
	_ = conn.WriteControl(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(code, reason), time.Now().Add(5*time.Second))
	_ = conn.Close()
}
