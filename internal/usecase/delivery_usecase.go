package usecase

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/metrics"
	"marketchat/internal/infrastructure/ratelimit"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const (
	typingTTL     = 5 * time.Second
	previewLength = 120
)

type DeliveryConfig struct {
	MaxContentLength int
}

// DeliveryUseCase owns every mutation of conversations and messages. All work
// on one conversation runs under its lock, so room events leave in order.
type DeliveryUseCase struct {
	convRepo    repository.ConversationRepository
	rooms       ws.RoomTracker
	fanout      ws.Fanout
	router      *NotificationRouter
	rateLimiter *ratelimit.RateLimiter
	locks       *conversationLocks
	maxContent  int
	now         func() time.Time
}

func NewDeliveryUseCase(
	convRepo repository.ConversationRepository,
	rooms ws.RoomTracker,
	fanout ws.Fanout,
	router *NotificationRouter,
	rateLimiter *ratelimit.RateLimiter,
	cfg DeliveryConfig,
) *DeliveryUseCase {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 4000
	}
	return &DeliveryUseCase{
		convRepo:    convRepo,
		rooms:       rooms,
		fanout:      fanout,
		router:      router,
		rateLimiter: rateLimiter,
		locks:       newConversationLocks(),
		maxContent:  cfg.MaxContentLength,
		now:         time.Now,
	}
}

type SendMessageInput struct {
	Content        string
	Kind           entity.MessageKind
	AttachmentRefs []string
}

type SendResult struct {
	Message      *entity.Message      `json:"message"`
	Conversation *entity.Conversation `json:"-"`
	Notify       NotifyReport         `json:"notify"`
}

type ReadResult struct {
	ConversationID string       `json:"conversation_id"`
	MessageIDs     []string     `json:"message_ids"`
	Notify         NotifyReport `json:"notify"`
}

type StartConversationResult struct {
	Conversation *entity.Conversation `json:"conversation"`
	Created      bool                 `json:"created"`
	Message      *entity.Message      `json:"message,omitempty"`
}

// ConversationResponse is a conversation as seen by one participant.
type ConversationResponse struct {
	*entity.Conversation
	Unread int `json:"unread"`
}

func (uc *DeliveryUseCase) validateContent(content string, kind entity.MessageKind, attachments []string) error {
	if !kind.Valid() {
		return errors.Validation("Unknown message kind")
	}
	if kind == entity.KindSystem {
		return errors.Validation("System messages cannot be sent by participants")
	}
	if strings.TrimSpace(content) == "" && !(kind == entity.KindMedia && len(attachments) > 0) {
		return errors.Validation("Message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > uc.maxContent {
		return errors.Validation("Message content is too long")
	}
	return nil
}

// authorize loads the conversation and resolves p's side in it.
func (uc *DeliveryUseCase) authorize(ctx context.Context, p entity.Participant, conversationID string) (*entity.Conversation, entity.Author, error) {
	conv, err := uc.convRepo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, nil, err
		}
		return nil, nil, errors.Persistence("Failed to load conversation", err)
	}
	author, ok := entity.AuthorFor(p, conv)
	if !ok {
		return nil, nil, errors.Forbidden("You are not a participant of this conversation", nil)
	}
	return conv, author, nil
}

// Send stores a message from p and notifies the other side. When the write
// fails the returned result carries the message with status failed and
// nothing is broadcast.
func (uc *DeliveryUseCase) Send(ctx context.Context, p entity.Participant, originConnID, conversationID string, input SendMessageInput) (*SendResult, error) {
	if input.Kind == "" {
		input.Kind = entity.KindText
	}
	if err := uc.validateContent(input.Content, input.Kind, input.AttachmentRefs); err != nil {
		return nil, err
	}

	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	conv, author, err := uc.authorize(ctx, p, conversationID)
	if err != nil {
		return nil, err
	}

	if allowed, wait := uc.rateLimiter.Allow(p.ID, ratelimit.ActionSendMessage); !allowed {
		logger.Debug("Send rate limited: %s must wait %v", p.ID, wait)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please slow down")
	}

	message := entity.NewMessage(conv.ID, author, input.Content, input.Kind, uc.now())
	message.ID = uuid.NewString()
	message.AttachmentRefs = input.AttachmentRefs

	if err := uc.convRepo.CreateMessage(ctx, message); err != nil {
		message.Status = entity.StatusFailed
		metrics.MessageAccepted(string(entity.StatusFailed))
		logger.ErrorCtx(ctx, "send: storing message failed", err, "conversation_id", conv.ID)
		return &SendResult{Message: message, Conversation: conv}, errors.Persistence("Failed to store message", err)
	}

	recipientKey := conv.SideKey(author.Role().Opposite())
	touched, err := uc.convRepo.TouchConversation(ctx, conv.ID, message.CreatedAt, preview(message.Content), recipientKey)
	if err != nil {
		logger.ErrorCtx(ctx, "send: updating conversation failed", err, "conversation_id", conv.ID, "message_id", message.ID)
		if _, markErr := uc.convRepo.UpdateMessageStatus(ctx, conv.ID, message.ID, entity.StatusFailed); markErr != nil {
			logger.ErrorCtx(ctx, "send: marking message failed", markErr, "message_id", message.ID)
		}
		message.Status = entity.StatusFailed
		metrics.MessageAccepted(string(entity.StatusFailed))
		return &SendResult{Message: message, Conversation: conv}, errors.Persistence("Failed to update conversation", err)
	}
	metrics.MessageAccepted(string(entity.StatusSent))

	report := uc.router.Route(ctx, message, touched, originConnID)

	if uc.rooms.HasMember(conv.ID, otherSideOf(touched, author)) {
		changed, err := uc.convRepo.UpdateMessageStatus(ctx, conv.ID, message.ID, entity.StatusDelivered)
		switch {
		case err != nil:
			logger.ErrorCtx(ctx, "send: marking message delivered failed", err, "message_id", message.ID)
			report.warn("delivered status not stored: " + err.Error())
		case changed:
			message.Advance(entity.StatusDelivered)
			metrics.StatusTransitions(string(entity.StatusDelivered), 1)
			uc.fanout.ToRoom(conv.ID, ws.NewEnvelope(ws.EventMessageStatusUpdate, conv.ID, ws.StatusUpdateData{
				MessageID: message.ID,
				Status:    string(entity.StatusDelivered),
			}), "")
		}
	}

	return &SendResult{Message: message, Conversation: touched, Notify: report}, nil
}

// otherSideOf matches live connections that belong to the side opposite author.
func otherSideOf(conv *entity.Conversation, author entity.Author) func(*ws.Client) bool {
	return func(c *ws.Client) bool {
		side, ok := entity.AuthorFor(c.Participant, conv)
		return ok && side.Role() != author.Role()
	}
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	return string([]rune(content)[:previewLength]) + "…"
}

// MarkRead moves every message from the other side that is not yet read to
// read in one write, resets the reader's unread counter and emits a single
// messages_read event.
func (uc *DeliveryUseCase) MarkRead(ctx context.Context, p entity.Participant, conversationID string) (*ReadResult, error) {
	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	conv, reader, err := uc.authorize(ctx, p, conversationID)
	if err != nil {
		return nil, err
	}

	ids, err := uc.convRepo.AdvanceMessages(ctx, conv.ID, repository.MessageFilter{
		AuthorRole: reader.Role().Opposite(),
		Statuses:   []entity.DeliveryStatus{entity.StatusSent, entity.StatusDelivered},
	}, entity.StatusRead)
	if err != nil {
		return nil, errors.Persistence("Failed to mark messages as read", err)
	}
	metrics.StatusTransitions(string(entity.StatusRead), len(ids))

	result := &ReadResult{ConversationID: conv.ID, MessageIDs: ids}
	if err := uc.convRepo.ResetUnread(ctx, conv.ID, reader.SideKey()); err != nil {
		logger.ErrorCtx(ctx, "mark read: resetting unread counter failed", err, "conversation_id", conv.ID)
		result.Notify.warn("unread counter not reset: " + err.Error())
	}

	if len(ids) > 0 {
		result.Notify.RoomDeliveries = uc.fanout.ToRoom(conv.ID, ws.NewEnvelope(ws.EventMessagesRead, conv.ID, ws.ReadData{
			ConversationID: conv.ID,
			ReaderID:       p.ID,
			Count:          len(ids),
		}), "")
	}
	return result, nil
}

// advanceOnJoin marks the other side's sent messages delivered once p is in
// the room. The caller holds the conversation lock.
func (uc *DeliveryUseCase) advanceOnJoin(ctx context.Context, conv *entity.Conversation, joiner entity.Author) []string {
	ids, err := uc.convRepo.AdvanceMessages(ctx, conv.ID, repository.MessageFilter{
		AuthorRole: joiner.Role().Opposite(),
		Statuses:   []entity.DeliveryStatus{entity.StatusSent},
	}, entity.StatusDelivered)
	if err != nil {
		logger.ErrorCtx(ctx, "join: advancing delivery failed", err, "conversation_id", conv.ID)
		return nil
	}
	if len(ids) == 0 {
		return nil
	}
	metrics.StatusTransitions(string(entity.StatusDelivered), len(ids))

	for _, id := range ids {
		uc.fanout.ToRoom(conv.ID, ws.NewEnvelope(ws.EventMessageStatusUpdate, conv.ID, ws.StatusUpdateData{
			MessageID: id,
			Status:    string(entity.StatusDelivered),
		}), "")
	}
	uc.fanout.ToRoom(conv.ID, ws.NewEnvelope(ws.EventMessagesDelivered, conv.ID, ws.DeliveredData{
		ConversationID: conv.ID,
		Count:          len(ids),
	}), "")
	return ids
}

// Join puts connection c in the conversation room after checking it belongs
// to a participant. Unauthorized attempts leave the room untouched.
func (uc *DeliveryUseCase) Join(ctx context.Context, c *ws.Client, conversationID string) error {
	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	conv, author, err := uc.authorize(ctx, c.Participant, conversationID)
	if err != nil {
		return err
	}

	added := uc.rooms.Join(conv.ID, c)
	uc.fanout.ToClient(c, ws.NewEnvelope(ws.EventJoined, conv.ID, ConversationResponse{
		Conversation: conv,
		Unread:       conv.UnreadFor(author.Role()),
	}))
	if !added {
		return nil
	}

	uc.fanout.ToRoom(conv.ID, ws.NewEnvelope(ws.EventUserJoinedChat, conv.ID, ws.MembershipData{
		ParticipantID: c.Participant.ID,
		Role:          string(c.Participant.Role),
	}), c.ID)
	uc.advanceOnJoin(ctx, conv, author)
	return nil
}

func (uc *DeliveryUseCase) Leave(ctx context.Context, c *ws.Client, conversationID string) error {
	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	if uc.rooms.Leave(conversationID, c) {
		uc.fanout.ToRoom(conversationID, ws.NewEnvelope(ws.EventUserLeftChat, conversationID, ws.MembershipData{
			ParticipantID: c.Participant.ID,
			Role:          string(c.Participant.Role),
		}), c.ID)
	}
	uc.fanout.ToClient(c, ws.NewEnvelope(ws.EventLeft, conversationID, nil))
	return nil
}

// Typing relays typing_start / typing_stop to the rest of the room. Only
// room members may type.
func (uc *DeliveryUseCase) Typing(ctx context.Context, c *ws.Client, conversationID string, started bool) error {
	member := uc.rooms.HasMember(conversationID, func(m *ws.Client) bool { return m.ID == c.ID })
	if !member {
		return errors.Forbidden("Join the conversation before typing", nil)
	}
	if allowed, _ := uc.rateLimiter.Allow(c.Participant.ID, ratelimit.ActionTyping); !allowed {
		return errors.TooManyRequests("Too many typing events")
	}

	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	eventType := ws.EventTypingStop
	data := ws.TypingData{ParticipantID: c.Participant.ID, Role: string(c.Participant.Role)}
	if started {
		eventType = ws.EventTypingStart
		data.ExpiresAt = uc.now().Add(typingTTL).UTC().Format(time.RFC3339)
	}
	uc.fanout.ToRoom(conversationID, ws.NewEnvelope(eventType, conversationID, data), c.ID)
	return nil
}

// loadOwnMessage returns a message p authored and may still change.
func (uc *DeliveryUseCase) loadOwnMessage(ctx context.Context, p entity.Participant, conversationID, messageID string) (*entity.Message, error) {
	_, author, err := uc.authorize(ctx, p, conversationID)
	if err != nil {
		return nil, err
	}
	message, err := uc.convRepo.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, err
		}
		return nil, errors.Persistence("Failed to load message", err)
	}
	if message.SenderID != p.ID || message.SenderRole != author.Role() {
		return nil, errors.Forbidden("Only the sender can change this message", nil)
	}
	if message.IsDeleted() {
		return nil, errors.Conflict("Message has been deleted")
	}
	return message, nil
}

func (uc *DeliveryUseCase) EditMessage(ctx context.Context, p entity.Participant, conversationID, messageID, content string) (*entity.Message, error) {
	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	message, err := uc.loadOwnMessage(ctx, p, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if err := uc.validateContent(content, message.Kind, message.AttachmentRefs); err != nil {
		return nil, err
	}

	now := uc.now()
	message.Content = content
	message.EditedAt = &now
	if err := uc.convRepo.UpdateMessage(ctx, message); err != nil {
		if errors.Is(err, errors.CodeConflict) {
			return nil, err
		}
		return nil, errors.Persistence("Failed to update message", err)
	}

	uc.fanout.ToRoom(conversationID, ws.NewEnvelope(ws.EventMessageEdited, conversationID, message.Redacted()), "")
	return message, nil
}

// DeleteMessage soft-deletes a message. Its content is cleared in storage.
func (uc *DeliveryUseCase) DeleteMessage(ctx context.Context, p entity.Participant, conversationID, messageID string) (*entity.Message, error) {
	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	message, err := uc.loadOwnMessage(ctx, p, conversationID, messageID)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	message.DeletedAt = &now
	message.Content = ""
	message.AttachmentRefs = nil
	if err := uc.convRepo.UpdateMessage(ctx, message); err != nil {
		if errors.Is(err, errors.CodeConflict) {
			return nil, err
		}
		return nil, errors.Persistence("Failed to delete message", err)
	}

	uc.fanout.ToRoom(conversationID, ws.NewEnvelope(ws.EventMessageDeleted, conversationID, map[string]interface{}{
		"message_id": message.ID,
		"deleted_at": now.UTC().Format(time.RFC3339),
	}), "")
	return message.Redacted(), nil
}

// StartConversation finds or creates the conversation between customer p and
// storeID and optionally sends a first message.
func (uc *DeliveryUseCase) StartConversation(ctx context.Context, p entity.Participant, originConnID, storeID, initialMessage string) (*StartConversationResult, error) {
	if p.Role != entity.RoleCustomer {
		return nil, errors.Forbidden("Only customers can start conversations", nil)
	}
	if strings.TrimSpace(storeID) == "" {
		return nil, errors.Validation("store_id is required")
	}
	if initialMessage != "" {
		if err := uc.validateContent(initialMessage, entity.KindText, nil); err != nil {
			return nil, err
		}
	}

	if allowed, _ := uc.rateLimiter.Allow(p.ID, ratelimit.ActionCreateChat); !allowed {
		return nil, errors.TooManyRequests("Too many conversations opened. Please wait")
	}

	conv, created, err := uc.convRepo.FindOrCreateConversation(ctx, p.ID, storeID)
	if err != nil {
		if errors.Is(err, errors.CodeConflict) {
			return nil, err
		}
		return nil, errors.Persistence("Failed to open conversation", err)
	}
	if !conv.Pairs(p.ID, storeID) {
		return nil, errors.Conflict("Conversation key is held by another pair")
	}
	if created {
		logger.Info("Conversation %s created between customer %s and store %s", conv.ID, p.ID, storeID)
	}

	result := &StartConversationResult{Conversation: conv, Created: created}
	if initialMessage == "" {
		return result, nil
	}

	sent, err := uc.Send(ctx, p, originConnID, conv.ID, SendMessageInput{Content: initialMessage, Kind: entity.KindText})
	if sent != nil {
		result.Message = sent.Message
		result.Conversation = sent.Conversation
	}
	return result, err
}

func (uc *DeliveryUseCase) GetConversation(ctx context.Context, p entity.Participant, conversationID string) (*ConversationResponse, error) {
	conv, author, err := uc.authorize(ctx, p, conversationID)
	if err != nil {
		return nil, err
	}
	return &ConversationResponse{Conversation: conv, Unread: conv.UnreadFor(author.Role())}, nil
}

// ListConversations returns p's conversations, most recent activity first.
func (uc *DeliveryUseCase) ListConversations(ctx context.Context, p entity.Participant, limit, offset int) ([]*ConversationResponse, int64, error) {
	var (
		convs []*entity.Conversation
		total int64
		err   error
	)
	switch p.Role {
	case entity.RoleCustomer:
		convs, total, err = uc.convRepo.ListConversationsByCustomer(ctx, p.ID, limit, offset)
	case entity.RoleStoreOperator:
		if len(p.StoreIDs) == 0 {
			return []*ConversationResponse{}, 0, nil
		}
		convs, total, err = uc.convRepo.ListConversationsByStores(ctx, p.StoreIDs, limit, offset)
	default:
		return nil, 0, errors.Forbidden("Unknown participant role", nil)
	}
	if err != nil {
		return nil, 0, errors.Persistence("Failed to list conversations", err)
	}

	out := make([]*ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, &ConversationResponse{Conversation: conv, Unread: conv.UnreadFor(p.Role)})
	}
	return out, total, nil
}

// ListMessages returns messages newest first with deleted content withheld.
func (uc *DeliveryUseCase) ListMessages(ctx context.Context, p entity.Participant, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	if _, _, err := uc.authorize(ctx, p, conversationID); err != nil {
		return nil, 0, err
	}

	messages, total, err := uc.convRepo.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, 0, errors.Persistence("Failed to list messages", err)
	}
	out := make([]*entity.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Redacted())
	}
	return out, total, nil
}
