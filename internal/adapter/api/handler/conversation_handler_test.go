package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/adapter/api"
	"marketchat/internal/adapter/api/middleware"
	repoimpl "marketchat/internal/adapter/repository"
	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/ratelimit"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
)

var (
	testCustomer = entity.Participant{ID: "cust-1", Role: entity.RoleCustomer}
	testOperator = entity.Participant{ID: "op-1", Role: entity.RoleStoreOperator, StoreIDs: []string{"store-1"}}
	testStranger = entity.Participant{ID: "cust-2", Role: entity.RoleCustomer}
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	e        *echo.Echo
	handler  *ConversationHandler
	presence *ws.Presence
}

func newTestServer() *testServer {
	convRepo := repoimpl.NewMemoryConversationRepository()
	identities := repoimpl.NewMemoryIdentityRepository()
	identities.AddCustomer(&entity.Customer{ID: "cust-1"})
	identities.AddOperator(&entity.Operator{ID: "op-1", StoreIDs: []string{"store-1"}})

	presence := ws.NewPresence()
	rooms := ws.NewRooms()
	fanout := ws.NewLocalFanout(rooms, presence)
	router := usecase.NewNotificationRouter(convRepo, identities, presence, fanout)
	limiter := ratelimit.NewRateLimiter(ratelimit.DefaultPolicies(1000, 1000))
	delivery := usecase.NewDeliveryUseCase(convRepo, rooms, fanout, router, limiter, usecase.DeliveryConfig{MaxContentLength: 200})

	e := echo.New()
	e.Validator = api.NewValidator()
	return &testServer{e: e, handler: NewConversationHandler(delivery), presence: presence}
}

func (s *testServer) call(t *testing.T, p entity.Participant, method, target, body string, names, values []string, h echo.HandlerFunc) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := s.e.NewContext(req, rec)
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	if p.ID != "" {
		middleware.SetParticipant(c, p)
	}

	require.NoError(t, h(c))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func (s *testServer) open(t *testing.T) {
	t.Helper()
	rec, _ := s.call(t, testCustomer, http.MethodPost, "/api/v1/conversations", `{"store_id":"store-1"}`, nil, nil, s.handler.CreateConversation)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateConversation(t *testing.T) {
	s := newTestServer()

	rec, env := s.call(t, testCustomer, http.MethodPost, "/api/v1/conversations",
		`{"store_id":"store-1","initial_message":"hello"}`, nil, nil, s.handler.CreateConversation)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)

	var result usecase.StartConversationResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.Created)
	assert.Equal(t, "cust-1_store-1", result.Conversation.ID)
	require.NotNil(t, result.Message)
	assert.Equal(t, "hello", result.Message.Content)

	rec, _ = s.call(t, testCustomer, http.MethodPost, "/api/v1/conversations", `{"store_id":"store-1"}`, nil, nil, s.handler.CreateConversation)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.call(t, testCustomer, http.MethodPost, "/api/v1/conversations", `{}`, nil, nil, s.handler.CreateConversation)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rec, _ = s.call(t, testOperator, http.MethodPost, "/api/v1/conversations", `{"store_id":"store-1"}`, nil, nil, s.handler.CreateConversation)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestConversationEndpointsRequireParticipant(t *testing.T) {
	s := newTestServer()

	rec, env := s.call(t, entity.Participant{}, http.MethodGet, "/api/v1/conversations", "", nil, nil, s.handler.ListConversations)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", env.Error.Code)
}

func TestSendAndListMessagesOverHTTP(t *testing.T) {
	s := newTestServer()
	s.open(t)
	params := []string{"cust-1_store-1"}

	rec, env := s.call(t, testOperator, http.MethodPost, "/api/v1/conversations/cust-1_store-1/messages",
		`{"content":"we ship tomorrow"}`, []string{"id"}, params, s.handler.SendMessage)
	require.Equal(t, http.StatusCreated, rec.Code)
	var sent usecase.SendResult
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, entity.StatusSent, sent.Message.Status)
	assert.Equal(t, []string{"cust-1"}, sent.Notify.OfflineRecipients)

	rec, env = s.call(t, testCustomer, http.MethodGet, "/api/v1/conversations/cust-1_store-1/messages?limit=10",
		"", []string{"id"}, params, s.handler.ListMessages)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []entity.Message `json:"items"`
		Total int64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "we ship tomorrow", page.Items[0].Content)

	rec, env = s.call(t, testCustomer, http.MethodGet, "/api/v1/conversations/cust-1_store-1",
		"", []string{"id"}, params, s.handler.GetConversation)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv usecase.ConversationResponse
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	assert.Equal(t, 1, conv.Unread)

	rec, env = s.call(t, testCustomer, http.MethodPost, "/api/v1/conversations/cust-1_store-1/read",
		"", []string{"id"}, params, s.handler.MarkRead)
	require.Equal(t, http.StatusOK, rec.Code)
	var read usecase.ReadResult
	require.NoError(t, json.Unmarshal(env.Data, &read))
	assert.Equal(t, []string{sent.Message.ID}, read.MessageIDs)
}

func TestSendMessageRejections(t *testing.T) {
	s := newTestServer()
	s.open(t)
	params := []string{"cust-1_store-1"}

	rec, env := s.call(t, testCustomer, http.MethodPost, "/", `{"content":"   "}`, []string{"id"}, params, s.handler.SendMessage)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rec, _ = s.call(t, testCustomer, http.MethodPost, "/", `{"content":"hi","kind":"system"}`, []string{"id"}, params, s.handler.SendMessage)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.call(t, testStranger, http.MethodPost, "/", `{"content":"hi"}`, []string{"id"}, params, s.handler.SendMessage)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	rec, _ = s.call(t, testCustomer, http.MethodPost, "/", `{"content":"hi"}`, []string{"id"}, []string{"cust-1_store-404"}, s.handler.SendMessage)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditAndDeleteOverHTTP(t *testing.T) {
	s := newTestServer()
	s.open(t)

	_, env := s.call(t, testCustomer, http.MethodPost, "/", `{"content":"helo"}`, []string{"id"}, []string{"cust-1_store-1"}, s.handler.SendMessage)
	var sent usecase.SendResult
	require.NoError(t, json.Unmarshal(env.Data, &sent))

	names := []string{"id", "messageId"}
	values := []string{"cust-1_store-1", sent.Message.ID}

	rec, env := s.call(t, testCustomer, http.MethodPatch, "/", `{"content":"hello"}`, names, values, s.handler.EditMessage)
	require.Equal(t, http.StatusOK, rec.Code)
	var edited entity.Message
	require.NoError(t, json.Unmarshal(env.Data, &edited))
	assert.Equal(t, "hello", edited.Content)

	rec, _ = s.call(t, testOperator, http.MethodDelete, "/", "", names, values, s.handler.DeleteMessage)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = s.call(t, testCustomer, http.MethodDelete, "/", "", names, values, s.handler.DeleteMessage)
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted entity.Message
	require.NoError(t, json.Unmarshal(env.Data, &deleted))
	assert.Empty(t, deleted.Content)
	assert.NotNil(t, deleted.DeletedAt)

	rec, _ = s.call(t, testCustomer, http.MethodPatch, "/", `{"content":"again"}`, names, values, s.handler.EditMessage)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPresenceEndpoint(t *testing.T) {
	s := newTestServer()
	// The presence handler only needs the gateway's registry view.
	gateway := usecase.NewGatewayUseCase(nil, nil, s.presence, ws.NewRooms(), nil, nil)
	h := NewPresenceHandler(gateway)

	c := ws.NewClient(nil, testOperator, ws.ClientOptions{})
	s.presence.SetOnline(c)

	rec, env := s.call(t, testCustomer, http.MethodGet, "/", "", []string{"participantId"}, []string{"op-1"}, h.GetPresence)
	require.Equal(t, http.StatusOK, rec.Code)
	var view usecase.PresenceView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.True(t, view.Online)
	assert.Nil(t, view.LastSeen)
}
