package handler

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/middleware"
	"marketchat/internal/domain/entity"
	"marketchat/internal/usecase"
	"marketchat/pkg/response"
	"marketchat/pkg/utils"
)

type ConversationHandler struct {
	delivery *usecase.DeliveryUseCase
}

func NewConversationHandler(delivery *usecase.DeliveryUseCase) *ConversationHandler {
	return &ConversationHandler{
		delivery: delivery,
	}
}

type createConversationRequest struct {
	StoreID        string `json:"store_id" validate:"required"`
	InitialMessage string `json:"initial_message"`
}

type sendMessageRequest struct {
	Content        string   `json:"content"`
	Kind           string   `json:"kind" validate:"omitempty,oneof=text media"`
	AttachmentRefs []string `json:"attachment_refs,omitempty"`
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// CreateConversation finds or creates the caller's conversation with a store.
func (h *ConversationHandler) CreateConversation(c echo.Context) error {
	p, err := middleware.ParticipantFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	result, err := h.delivery.StartConversation(c.Request().Context(), p, "", req.StoreID, req.InitialMessage)
	if err != nil {
		return response.Error(c, err)
	}
	if result.Created {
		return response.Created(c, result)
	}
	return response.Success(c, result)
}

func (h *ConversationHandler) ListConversations(c echo.Context) error {
	p, err := middleware.ParticipantFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	page := utils.GetPaginationParams(c, utils.DefaultLimit)
	conversations, total, err := h.delivery.ListConversations(c.Request().Context(), p, page.Limit, page.Offset)
	if err != nil {
		return response.Error(c, err)
	}
	return response.SuccessPaginated(c, conversations, total, page.Limit, page.Offset)
}

func (h *ConversationHandler) GetConversation(c echo.Context) error {
	p, err := middleware.ParticipantFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	conversation, err := h.delivery.GetConversation(c.Request().Context(), p, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, conversation)
}

func (h *ConversationHandler) ListMessages(c echo.Context) error {
	p, err := middleware.ParticipantFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	page := utils.GetPaginationParams(c, 50)
	messages, total, err := h.delivery.ListMessages(c.Request().Context(), p, c.Param("id"), page.Limit, page.Offset)
	if err != nil {
		return response.Error(c, err)
	}
	return response.SuccessPaginated(c, messages, total, page.Limit, page.Offset)
}

// SendMessage is the HTTP counterpart of the send_message frame. Live
// participants are notified the same way.
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	p, err := middleware.ParticipantFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	result, err := h.delivery.Send(c.Request().Context(), p, "", c.Param("id"), usecase.SendMessageInput{
		Content:        req.Content,
		Kind:           entity.MessageKind(req.Kind),
		AttachmentRefs: req.AttachmentRefs,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, result)
}

func (h *ConversationHandler) MarkRead(c echo.Context) error {
	p, err := middleware.ParticipantFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	result, err := h.delivery.MarkRead(c.Request().Context(), p, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, result)
}

func (h *ConversationHandler) EditMessage(c echo.Context) error {
	p, err := middleware.ParticipantFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	var req editMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	message, err := h.delivery.EditMessage(c.Request().Context(), p, c.Param("id"), c.Param("messageId"), req.Content)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, message.Redacted())
}

func (h *ConversationHandler) DeleteMessage(c echo.Context) error {
	p, err := middleware.ParticipantFrom(c)
	if err != nil {
		return response.Error(c, err)
	}

	message, err := h.delivery.DeleteMessage(c.Request().Context(), p, c.Param("id"), c.Param("messageId"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, message)
}
