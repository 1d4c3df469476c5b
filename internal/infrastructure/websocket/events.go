package websocket

import (
	"encoding/json"
	"time"
)

// Client -> server frame types.
const (
	EventAuthenticate      = "authenticate"
	EventPing              = "ping"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMessageRead       = "message_read"
	EventEditMessage       = "edit_message"
	EventDeleteMessage     = "delete_message"
)

// Server -> client frame types.
const (
	EventConnected              = "connected"
	EventPong                   = "pong"
	EventError                  = "error"
	EventAuthError              = "auth_error"
	EventSendAck                = "send_ack"
	EventNewMessage             = "new_message"
	EventMessageStatusUpdate    = "message_status_update"
	EventMessagesDelivered      = "messages_delivered"
	EventMessagesRead           = "messages_read"
	EventUserJoinedChat         = "user_joined_chat"
	EventUserLeftChat           = "user_left_chat"
	EventPresenceUpdate         = "presence_update"
	EventConversationListUpdate = "conversation_list_update"
	EventMessageEdited          = "message_edited"
	EventMessageDeleted         = "message_deleted"
	EventJoined                 = "joined"
	EventLeft                   = "left"
)

// Envelope is the frame written to clients.
type Envelope struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      string      `json:"timestamp"`
}

// Inbound is a frame read from a client. Data is decoded per type.
type Inbound struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(eventType, conversationID string, data interface{}) Envelope {
	return Envelope{
		Type:           eventType,
		ConversationID: conversationID,
		Data:           data,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

type AuthenticateData struct {
	Token string `json:"token"`
}

type SendMessageData struct {
	TempID         string   `json:"temp_id,omitempty"`
	Content        string   `json:"content"`
	Kind           string   `json:"kind,omitempty"`
	AttachmentRefs []string `json:"attachment_refs,omitempty"`
}

type EditMessageData struct {
	MessageID string `json:"message_id" validate:"required"`
	Content   string `json:"content"`
}

type DeleteMessageData struct {
	MessageID string `json:"message_id" validate:"required"`
}

type SendAckData struct {
	TempID    string `json:"temp_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AuthErrorData struct {
	Reason string `json:"reason"`
}

type ConnectedData struct {
	ConnectionID  string   `json:"connection_id"`
	ParticipantID string   `json:"participant_id"`
	Role          string   `json:"role"`
	StoreIDs      []string `json:"store_ids,omitempty"`
}

type StatusUpdateData struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type DeliveredData struct {
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
}

type ReadData struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	Count          int    `json:"count"`
}

type TypingData struct {
	ParticipantID string `json:"participantId"`
	Role          string `json:"role"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

type MembershipData struct {
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
}

type PresenceData struct {
	ParticipantID string `json:"participant_id"`
	Online        bool   `json:"online"`
	LastSeen      string `json:"last_seen,omitempty"`
}
