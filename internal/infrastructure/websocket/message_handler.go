package websocket

import (
	"context"
	"encoding/json"
	"time"

	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// HandleClientMessage decodes one inbound frame and dispatches it.
func (m *Manager) HandleClientMessage(ctx context.Context, c *Client, frame []byte) {
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		logger.Debug("WebSocket: malformed frame from %s: %v", c.ID, err)
		m.sendError(c, "", errors.BadRequest("Invalid message format", err))
		return
	}

	switch in.Type {
	case EventPing:
		m.sendTo(c, NewEnvelope(EventPong, "", map[string]string{"status": "alive"}))

	case EventAuthenticate:
		m.sendError(c, "", errors.BadRequest("Connection is already authenticated", nil))

	case EventJoinConversation:
		m.withConversation(ctx, c, in, func(id string) error {
			return m.service.JoinConversation(ctx, c, id)
		})

	case EventLeaveConversation:
		m.withConversation(ctx, c, in, func(id string) error {
			return m.service.LeaveConversation(ctx, c, id)
		})

	case EventSendMessage:
		m.handleSendMessage(ctx, c, in)

	case EventTypingStart, EventTypingStop:
		started := in.Type == EventTypingStart
		m.withConversation(ctx, c, in, func(id string) error {
			return m.service.Typing(ctx, c, id, started)
		})

	case EventMessageRead:
		m.withConversation(ctx, c, in, func(id string) error {
			return m.service.MarkRead(ctx, c, id)
		})

	case EventEditMessage:
		var data EditMessageData
		if !m.decode(c, in, &data) {
			return
		}
		m.withConversation(ctx, c, in, func(id string) error {
			return m.service.EditMessage(ctx, c, id, data)
		})

	case EventDeleteMessage:
		var data DeleteMessageData
		if !m.decode(c, in, &data) {
			return
		}
		m.withConversation(ctx, c, in, func(id string) error {
			return m.service.DeleteMessage(ctx, c, id, data)
		})

	default:
		logger.Debug("WebSocket: unknown message type '%s' from %s", in.Type, c.ID)
		m.sendError(c, in.ConversationID, errors.BadRequest("Unknown message type", nil))
	}
}

func (m *Manager) handleSendMessage(ctx context.Context, c *Client, in Inbound) {
	var data SendMessageData
	if !m.decode(c, in, &data) {
		return
	}
	if in.ConversationID == "" {
		m.sendError(c, "", errors.Validation("conversation_id is required"))
		return
	}

	message, err := m.service.SendMessage(ctx, c, in.ConversationID, data)
	if message != nil {
		ack := SendAckData{TempID: data.TempID, MessageID: message.ID, Status: string(message.Status)}
		if err != nil {
			ack.Error = errors.MessageOf(err)
		}
		m.sendTo(c, NewEnvelope(EventSendAck, in.ConversationID, ack))
		return
	}
	if err != nil {
		m.sendError(c, in.ConversationID, err)
	}
}

func (m *Manager) withConversation(ctx context.Context, c *Client, in Inbound, fn func(string) error) {
	if in.ConversationID == "" {
		m.sendError(c, "", errors.Validation("conversation_id is required"))
		return
	}
	if err := fn(in.ConversationID); err != nil {
		m.sendError(c, in.ConversationID, err)
	}
}

func (m *Manager) decode(c *Client, in Inbound, v interface{}) bool {
	if len(in.Data) == 0 {
		in.Data = []byte("{}")
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		m.sendError(c, in.ConversationID, errors.BadRequest("Invalid "+in.Type+" payload", err))
		return false
	}
	if err := m.validate.Struct(v); err != nil {
		m.sendError(c, in.ConversationID, errors.Validation(err.Error()))
		return false
	}
	return true
}

func (m *Manager) sendError(c *Client, conversationID string, err error) {
	m.sendTo(c, NewEnvelope(EventError, conversationID, ErrorData{
		Code:    errors.CodeOf(err),
		Message: errors.MessageOf(err),
	}))
}

func (m *Manager) sendTo(c *Client, env Envelope) {
	if env.Timestamp == "" {
		env.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	_ = c.SendEvent(env)
}
