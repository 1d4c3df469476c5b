package usecase

import (
	"context"

	"marketchat/internal/domain/entity"
	ws "marketchat/internal/infrastructure/websocket"
)

// RealtimeUseCase is what a WebSocket connection talks to. It binds frames to
// the gateway and delivery use cases on behalf of the connection's participant.
type RealtimeUseCase struct {
	gateway  *GatewayUseCase
	delivery *DeliveryUseCase
}

var _ ws.ChatService = (*RealtimeUseCase)(nil)

func NewRealtimeUseCase(gateway *GatewayUseCase, delivery *DeliveryUseCase) *RealtimeUseCase {
	return &RealtimeUseCase{gateway: gateway, delivery: delivery}
}

func (uc *RealtimeUseCase) OnConnect(ctx context.Context, c *ws.Client) {
	uc.gateway.OnConnect(ctx, c)
}

func (uc *RealtimeUseCase) OnDisconnect(ctx context.Context, c *ws.Client) {
	uc.gateway.OnDisconnect(ctx, c)
}

func (uc *RealtimeUseCase) JoinConversation(ctx context.Context, c *ws.Client, conversationID string) error {
	return uc.delivery.Join(ctx, c, conversationID)
}

func (uc *RealtimeUseCase) LeaveConversation(ctx context.Context, c *ws.Client, conversationID string) error {
	return uc.delivery.Leave(ctx, c, conversationID)
}

func (uc *RealtimeUseCase) SendMessage(ctx context.Context, c *ws.Client, conversationID string, data ws.SendMessageData) (*entity.Message, error) {
	result, err := uc.delivery.Send(ctx, c.Participant, c.ID, conversationID, SendMessageInput{
		Content:        data.Content,
		Kind:           entity.MessageKind(data.Kind),
		AttachmentRefs: data.AttachmentRefs,
	})
	if result == nil {
		return nil, err
	}
	return result.Message, err
}

func (uc *RealtimeUseCase) Typing(ctx context.Context, c *ws.Client, conversationID string, started bool) error {
	return uc.delivery.Typing(ctx, c, conversationID, started)
}

func (uc *RealtimeUseCase) MarkRead(ctx context.Context, c *ws.Client, conversationID string) error {
	_, err := uc.delivery.MarkRead(ctx, c.Participant, conversationID)
	return err
}

func (uc *RealtimeUseCase) EditMessage(ctx context.Context, c *ws.Client, conversationID string, data ws.EditMessageData) error {
	_, err := uc.delivery.EditMessage(ctx, c.Participant, conversationID, data.MessageID, data.Content)
	return err
}

func (uc *RealtimeUseCase) DeleteMessage(ctx context.Context, c *ws.Client, conversationID string, data ws.DeleteMessageData) error {
	_, err := uc.delivery.DeleteMessage(ctx, c.Participant, conversationID, data.MessageID)
	return err
}
