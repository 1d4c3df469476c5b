package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/metrics"
	"marketchat/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	// CloseUnauthenticated is sent when the handshake fails.
	CloseUnauthenticated = 4401
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrBufferFull   = errors.New("client send buffer full")
)

// Client is one authenticated WebSocket connection. A participant may hold
// several clients at once. Send is safe for concurrent use.
type Client struct {
	ID          string
	Participant entity.Participant

	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	pongWait time.Duration
	readMax  int64
}

type ClientOptions struct {
	BufferSize int
	PongWait   time.Duration
	ReadLimit  int64
}

// NewClient wraps conn for participant. conn may be nil, in which case frames
// are only queued; tests read them through Outbound.
func NewClient(conn *websocket.Conn, participant entity.Participant, opts ClientOptions) *Client {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 * 1024
	}
	return &Client{
		ID:          uuid.NewString(),
		Participant: participant,
		conn:        conn,
		send:        make(chan []byte, opts.BufferSize),
		done:        make(chan struct{}),
		pongWait:    opts.PongWait,
		readMax:     opts.ReadLimit,
	}
}

func (c *Client) ParticipantID() string { return c.Participant.ID }

// Send queues payload. A client whose buffer is full is closed.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		metrics.FrameDropped()
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		metrics.FrameDropped()
		logger.Warn("WebSocket: send buffer full for connection %s, closing", c.ID)
		c.Close(websocket.ClosePolicyViolation, "send buffer full")
		return ErrBufferFull
	}
}

func (c *Client) SendEvent(env Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Outbound exposes the queued frames of a client that has no write pump.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close sends a close frame with code and reason and tears the socket down.
// It is idempotent.
func (c *Client) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.conn.Close()
	})
}

// ReadPump reads frames until the connection fails or is closed, passing each
// one to handle. It returns when the client is gone.
func (c *Client) ReadPump(handle func([]byte)) {
	defer c.Close(websocket.CloseNormalClosure, "")

	c.conn.SetReadLimit(c.readMax)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket: read error on connection %s: %v", c.ID, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		handle(message)
	}
}

// WritePump drains the send buffer and keeps the peer alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}
