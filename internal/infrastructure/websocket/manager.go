package websocket

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/metrics"
	"marketchat/pkg/logger"
)

// ChatService is the application side of a connection: lifecycle hooks and
// the operations reachable from inbound frames.
type ChatService interface {
	OnConnect(ctx context.Context, c *Client)
	OnDisconnect(ctx context.Context, c *Client)

	JoinConversation(ctx context.Context, c *Client, conversationID string) error
	LeaveConversation(ctx context.Context, c *Client, conversationID string) error
	// SendMessage returns the stored message, which carries status failed when
	// persistence did not complete.
	SendMessage(ctx context.Context, c *Client, conversationID string, data SendMessageData) (*entity.Message, error)
	Typing(ctx context.Context, c *Client, conversationID string, started bool) error
	MarkRead(ctx context.Context, c *Client, conversationID string) error
	EditMessage(ctx context.Context, c *Client, conversationID string, data EditMessageData) error
	DeleteMessage(ctx context.Context, c *Client, conversationID string, data DeleteMessageData) error
}

// Manager owns every live connection of this instance.
type Manager struct {
	service  ChatService
	validate *validator.Validate

	mu      sync.RWMutex
	clients map[string]*Client
	closing bool
}

func NewManager(service ChatService) *Manager {
	return &Manager{
		service:  service,
		validate: validator.New(),
		clients:  make(map[string]*Client),
	}
}

// Start closes every connection once ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		m.Shutdown()
	}()
}

// Serve runs an authenticated connection until it closes. Presence and room
// membership are released before Serve returns.
func (m *Manager) Serve(ctx context.Context, c *Client) {
	if !m.add(c) {
		c.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	metrics.ConnectionOpened()
	logger.Info("WebSocket: client registered: %s (%s %s)", c.ID, c.Participant.Role, c.Participant.ID)

	m.service.OnConnect(ctx, c)
	go c.WritePump()
	c.ReadPump(func(frame []byte) {
		m.HandleClientMessage(ctx, c, frame)
	})

	// Cleanup must not be cut short by the request context ending.
	m.service.OnDisconnect(context.WithoutCancel(ctx), c)
	m.remove(c)
	metrics.ConnectionClosed()
	logger.Info("WebSocket: client unregistered: %s", c.ID)
}

func (m *Manager) add(c *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	m.clients[c.ID] = c
	return true
}

func (m *Manager) remove(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c.ID)
}

// Shutdown refuses new connections and closes the current ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closing = true
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	logger.Info("WebSocket: closed %d connections on shutdown", len(clients))
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
