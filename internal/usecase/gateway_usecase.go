package usecase

import (
	"context"
	"strings"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/auth"
	"marketchat/internal/infrastructure/metrics"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// Credentials collects every carrier a client may present a token in.
type Credentials struct {
	// Payload is the token from the query string or an authenticate frame.
	Payload string
	Bearer  string
	Cookie  string
}

// Token returns the first carrier present: payload, then bearer, then cookie.
func (c Credentials) Token() string {
	for _, candidate := range []string{c.Payload, c.Bearer, c.Cookie} {
		if t := strings.TrimSpace(candidate); t != "" {
			return t
		}
	}
	return ""
}

// PresenceView answers presence queries.
type PresenceView struct {
	ParticipantID string     `json:"participant_id"`
	Online        bool       `json:"online"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
}

// GatewayUseCase authenticates connections and owns their presence lifecycle.
type GatewayUseCase struct {
	verifier   auth.TokenVerifier
	identities repository.IdentityRepository
	presence   ws.PresenceRegistry
	rooms      ws.RoomTracker
	fanout     ws.Fanout
	router     *NotificationRouter
}

func NewGatewayUseCase(
	verifier auth.TokenVerifier,
	identities repository.IdentityRepository,
	presence ws.PresenceRegistry,
	rooms ws.RoomTracker,
	fanout ws.Fanout,
	router *NotificationRouter,
) *GatewayUseCase {
	return &GatewayUseCase{
		verifier:   verifier,
		identities: identities,
		presence:   presence,
		rooms:      rooms,
		fanout:     fanout,
		router:     router,
	}
}

// Authenticate verifies the first present credential and resolves the
// participant behind it.
func (uc *GatewayUseCase) Authenticate(ctx context.Context, creds Credentials) (entity.Participant, error) {
	token := creds.Token()
	if token == "" {
		metrics.AuthFailure(errors.ReasonMissingCredential)
		return entity.Participant{}, errors.Unauthenticated(errors.ReasonMissingCredential, nil)
	}

	claims, err := uc.verifier.Verify(ctx, token)
	if err != nil {
		metrics.AuthFailure(errors.MessageOf(err))
		return entity.Participant{}, err
	}

	participant, err := uc.resolve(ctx, claims)
	if err != nil {
		metrics.AuthFailure(errors.MessageOf(err))
		return entity.Participant{}, err
	}
	return participant, nil
}

// resolve looks the subject up in the store the role hint points at, then in
// the other one.
func (uc *GatewayUseCase) resolve(ctx context.Context, claims auth.Claims) (entity.Participant, error) {
	order := []entity.Role{entity.RoleCustomer, entity.RoleStoreOperator}
	if hint, ok := entity.ParseRole(claims.RoleHint); ok && hint == entity.RoleStoreOperator {
		order = []entity.Role{entity.RoleStoreOperator, entity.RoleCustomer}
	}

	for _, role := range order {
		p, err := uc.lookup(ctx, role, claims.Subject)
		if err == nil {
			if p.Name == "" {
				p.Name = claims.Name
			}
			return p, nil
		}
		if !errors.Is(err, errors.CodeNotFound) {
			return entity.Participant{}, errors.Persistence("Failed to resolve identity", err)
		}
	}
	return entity.Participant{}, errors.Unauthenticated(errors.ReasonUnknownIdentity, nil)
}

func (uc *GatewayUseCase) lookup(ctx context.Context, role entity.Role, id string) (entity.Participant, error) {
	if role == entity.RoleCustomer {
		customer, err := uc.identities.GetCustomer(ctx, id)
		if err != nil {
			return entity.Participant{}, err
		}
		return entity.Participant{ID: customer.ID, Role: entity.RoleCustomer, Name: customer.Name}, nil
	}

	operator, err := uc.identities.GetOperator(ctx, id)
	if err != nil {
		return entity.Participant{}, err
	}
	return entity.Participant{
		ID:       operator.ID,
		Role:     entity.RoleStoreOperator,
		Name:     operator.Name,
		StoreIDs: append([]string(nil), operator.StoreIDs...),
	}, nil
}

// OnConnect registers c in presence, announces the participant if this is its
// first live connection and greets the client.
func (uc *GatewayUseCase) OnConnect(ctx context.Context, c *ws.Client) {
	first := uc.presence.SetOnline(c)
	if first {
		report := uc.router.RoutePresence(ctx, c.Participant, true, time.Time{})
		logger.Debug("Gateway: %s online, presence reached %d connections", c.Participant.ID, report.RoomDeliveries+report.DirectDeliveries)
	}

	uc.fanout.ToClient(c, ws.NewEnvelope(ws.EventConnected, "", ws.ConnectedData{
		ConnectionID:  c.ID,
		ParticipantID: c.Participant.ID,
		Role:          string(c.Participant.Role),
		StoreIDs:      c.Participant.StoreIDs,
	}))
}

// OnDisconnect leaves every room, then drops c from presence. The last
// connection of a participant records last-seen and announces it offline.
func (uc *GatewayUseCase) OnDisconnect(ctx context.Context, c *ws.Client) {
	left := uc.rooms.LeaveAll(c)
	for _, conversationID := range left {
		uc.fanout.ToRoom(conversationID, ws.NewEnvelope(ws.EventUserLeftChat, conversationID, ws.MembershipData{
			ParticipantID: c.Participant.ID,
			Role:          string(c.Participant.Role),
		}), c.ID)
	}

	if uc.presence.SetOffline(c) {
		lastSeen, _ := uc.presence.LastSeen(c.Participant.ID)
		uc.router.RoutePresence(ctx, c.Participant, false, lastSeen)
	}
}

func (uc *GatewayUseCase) Presence(participantID string) PresenceView {
	view := PresenceView{ParticipantID: participantID, Online: uc.presence.IsOnline(participantID)}
	if !view.Online {
		if t, ok := uc.presence.LastSeen(participantID); ok {
			view.LastSeen = &t
		}
	}
	return view
}
