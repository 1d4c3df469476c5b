package usecase

import (
	"context"
	"sort"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/logger"
)

// presenceFanoutLimit caps how many conversations a presence change is
// announced to.
const presenceFanoutLimit = 100

// NotifyReport describes the best-effort side of an operation. It never
// affects the durable result.
type NotifyReport struct {
	RoomDeliveries   int      `json:"room_deliveries"`
	DirectDeliveries int      `json:"direct_deliveries"`
	OnlineRecipients []string `json:"online_recipients,omitempty"`
	// OfflineRecipients only get their unread counter bumped.
	OfflineRecipients []string `json:"offline_recipients,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

func (r *NotifyReport) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// ConversationSummary is what conversation_list_update carries.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	CustomerID     string    `json:"customer_id"`
	StoreID        string    `json:"store_id"`
	LastMessage    string    `json:"last_message"`
	LastMessageAt  time.Time `json:"last_message_at"`
	UnreadCount    int       `json:"unread_count"`
}

// NotificationRouter decides who must hear about an event and pushes it.
type NotificationRouter struct {
	convRepo   repository.ConversationRepository
	identities repository.IdentityRepository
	presence   ws.PresenceRegistry
	fanout     ws.Fanout
}

func NewNotificationRouter(
	convRepo repository.ConversationRepository,
	identities repository.IdentityRepository,
	presence ws.PresenceRegistry,
	fanout ws.Fanout,
) *NotificationRouter {
	return &NotificationRouter{
		convRepo:   convRepo,
		identities: identities,
		presence:   presence,
		fanout:     fanout,
	}
}

// Route announces a stored message: new_message to the room except the
// originating connection, plus new_message and conversation_list_update to
// every live connection of the other side.
func (r *NotificationRouter) Route(ctx context.Context, message *entity.Message, conv *entity.Conversation, originConnID string) NotifyReport {
	var report NotifyReport
	visible := message.Redacted()

	report.RoomDeliveries = r.fanout.ToRoom(conv.ID, ws.NewEnvelope(ws.EventNewMessage, conv.ID, visible), originConnID)

	recipientRole := message.SenderRole.Opposite()
	for _, recipientID := range r.recipients(ctx, conv, recipientRole, &report) {
		if !r.presence.IsOnline(recipientID) {
			report.OfflineRecipients = append(report.OfflineRecipients, recipientID)
			continue
		}
		report.OnlineRecipients = append(report.OnlineRecipients, recipientID)
		report.DirectDeliveries += r.fanout.ToParticipant(recipientID, ws.NewEnvelope(ws.EventNewMessage, conv.ID, visible))

		summary := ConversationSummary{
			ConversationID: conv.ID,
			CustomerID:     conv.CustomerID,
			StoreID:        conv.StoreID,
			LastMessage:    conv.LastMessage,
			LastMessageAt:  conv.LastMessageAt,
			UnreadCount:    conv.UnreadFor(recipientRole),
		}
		r.fanout.ToParticipant(recipientID, ws.NewEnvelope(ws.EventConversationListUpdate, conv.ID, summary))
	}
	return report
}

// recipients lists the participant ids on side role of conv. Operator lookup
// falls back to the live store index when the identity store fails.
func (r *NotificationRouter) recipients(ctx context.Context, conv *entity.Conversation, role entity.Role, report *NotifyReport) []string {
	if role == entity.RoleCustomer {
		return []string{conv.CustomerID}
	}

	operators, err := r.identities.ListStoreOperators(ctx, conv.StoreID)
	if err == nil {
		return operators
	}
	logger.ErrorCtx(ctx, "notification router: operator lookup failed, using live connections", err, "store_id", conv.StoreID)
	report.warn("operator lookup failed: " + err.Error())

	seen := make(map[string]struct{})
	var ids []string
	for _, c := range r.presence.ResolveStore(conv.StoreID) {
		if _, ok := seen[c.Participant.ID]; ok {
			continue
		}
		seen[c.Participant.ID] = struct{}{}
		ids = append(ids, c.Participant.ID)
	}
	sort.Strings(ids)
	return ids
}

// RoutePresence announces a participant going online or offline to the rooms
// of its conversations and directly to the counterpart side.
func (r *NotificationRouter) RoutePresence(ctx context.Context, p entity.Participant, online bool, lastSeen time.Time) NotifyReport {
	var report NotifyReport

	var (
		convs []*entity.Conversation
		err   error
	)
	switch p.Role {
	case entity.RoleCustomer:
		convs, _, err = r.convRepo.ListConversationsByCustomer(ctx, p.ID, presenceFanoutLimit, 0)
	case entity.RoleStoreOperator:
		if len(p.StoreIDs) > 0 {
			convs, _, err = r.convRepo.ListConversationsByStores(ctx, p.StoreIDs, presenceFanoutLimit, 0)
		}
	}
	if err != nil {
		logger.ErrorCtx(ctx, "notification router: listing conversations for presence failed", err, "participant_id", p.ID)
		report.warn("conversation lookup failed: " + err.Error())
		return report
	}

	data := ws.PresenceData{ParticipantID: p.ID, Online: online}
	if !online && !lastSeen.IsZero() {
		data.LastSeen = lastSeen.UTC().Format(time.RFC3339)
	}

	notified := make(map[string]struct{})
	for _, conv := range convs {
		env := ws.NewEnvelope(ws.EventPresenceUpdate, conv.ID, data)
		report.RoomDeliveries += r.fanout.ToRoom(conv.ID, env, "")

		if p.Role == entity.RoleCustomer {
			if _, ok := notified["store:"+conv.StoreID]; ok {
				continue
			}
			notified["store:"+conv.StoreID] = struct{}{}
			report.DirectDeliveries += r.fanout.ToStore(conv.StoreID, env)
			continue
		}
		if _, ok := notified[conv.CustomerID]; ok {
			continue
		}
		notified[conv.CustomerID] = struct{}{}
		report.DirectDeliveries += r.fanout.ToParticipant(conv.CustomerID, env)
	}
	return report
}
