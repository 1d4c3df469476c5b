package entity

import "time"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindMedia  MessageKind = "media"
	KindSystem MessageKind = "system"
)

func (k MessageKind) Valid() bool {
	return k == KindText || k == KindMedia || k == KindSystem
}

type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// CanAdvanceTo reports whether s may move to next. Status only moves forward
// along sent -> delivered -> read; sent may also fail, and failed is terminal.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return s == StatusSent
	}
	return next.rank() > s.rank()
}

// Message belongs to exactly one conversation.
type Message struct {
	ID             string         `json:"id" firestore:"id"`
	ConversationID string         `json:"conversation_id" firestore:"conversationId"`
	SenderID       string         `json:"sender_id" firestore:"senderId"`
	SenderRole     Role           `json:"sender_role" firestore:"senderRole"`
	StoreID        string         `json:"store_id,omitempty" firestore:"storeId,omitempty"`
	Content        string         `json:"content" firestore:"content"`
	Kind           MessageKind    `json:"kind" firestore:"kind"`
	Status         DeliveryStatus `json:"status" firestore:"status"`
	AttachmentRefs []string       `json:"attachment_refs,omitempty" firestore:"attachmentRefs,omitempty"`
	CreatedAt      time.Time      `json:"created_at" firestore:"createdAt"`
	EditedAt       *time.Time     `json:"edited_at,omitempty" firestore:"editedAt,omitempty"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty" firestore:"deletedAt,omitempty"`
}

// NewMessage stamps a message for author in conversation convID with status sent.
func NewMessage(convID string, author Author, content string, kind MessageKind, now time.Time) *Message {
	m := &Message{
		ConversationID: convID,
		SenderID:       author.SenderID(),
		SenderRole:     author.Role(),
		Content:        content,
		Kind:           kind,
		Status:         StatusSent,
		CreatedAt:      now,
	}
	if sa, ok := author.(StoreAuthor); ok {
		m.StoreID = sa.StoreID
	}
	return m
}

// Author rebuilds the tagged sender from stored fields.
func (m *Message) Author() Author {
	if m.SenderRole == RoleStoreOperator {
		return StoreAuthor{OperatorID: m.SenderID, StoreID: m.StoreID}
	}
	return CustomerAuthor{CustomerID: m.SenderID}
}

func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Redacted returns a copy safe to expose: soft-deleted messages lose their content.
func (m *Message) Redacted() *Message {
	cp := *m
	if cp.DeletedAt != nil {
		cp.Content = ""
		cp.AttachmentRefs = nil
	}
	return &cp
}

// Advance moves the status forward; it reports false and leaves the message
// untouched when the transition is not allowed.
func (m *Message) Advance(next DeliveryStatus) bool {
	if !m.Status.CanAdvanceTo(next) {
		return false
	}
	m.Status = next
	return true
}
