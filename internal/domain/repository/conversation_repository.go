package repository

import (
	"context"
	"time"

	"marketchat/internal/domain/entity"
)

// MessageFilter selects messages of one conversation by author side and status.
type MessageFilter struct {
	AuthorRole entity.Role
	Statuses   []entity.DeliveryStatus
}

type ConversationRepository interface {
	// FindConversation returns a NOT_FOUND AppError when the pair has no conversation.
	FindConversation(ctx context.Context, customerID, storeID string) (*entity.Conversation, error)
	// FindOrCreateConversation is idempotent: concurrent calls for the same
	// pair yield one conversation. created reports whether this call created it.
	FindOrCreateConversation(ctx context.Context, customerID, storeID string) (conv *entity.Conversation, created bool, err error)
	GetConversation(ctx context.Context, id string) (*entity.Conversation, error)
	ListConversationsByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*entity.Conversation, int64, error)
	ListConversationsByStores(ctx context.Context, storeIDs []string, limit, offset int) ([]*entity.Conversation, int64, error)
	// TouchConversation records a new message: last-message-at never moves
	// backwards and the counter under recipientKey is incremented.
	TouchConversation(ctx context.Context, id string, at time.Time, preview, recipientKey string) (*entity.Conversation, error)
	ResetUnread(ctx context.Context, id, key string) error

	CreateMessage(ctx context.Context, message *entity.Message) error
	GetMessage(ctx context.Context, conversationID, messageID string) (*entity.Message, error)
	// UpdateMessage writes the editable fields of message: content, attachment
	// refs, edited-at and deleted-at. Status is never written here. A message
	// already deleted in storage yields a Conflict error.
	UpdateMessage(ctx context.Context, message *entity.Message) error
	// UpdateMessageStatus advances one message; a non-forward transition is a no-op
	// and reports changed=false.
	UpdateMessageStatus(ctx context.Context, conversationID, messageID string, status entity.DeliveryStatus) (changed bool, err error)
	// AdvanceMessages moves every message matching filter to status in a single
	// write and returns the ids that changed.
	AdvanceMessages(ctx context.Context, conversationID string, filter MessageFilter, status entity.DeliveryStatus) ([]string, error)
	// ListMessages returns newest first.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error)
}
