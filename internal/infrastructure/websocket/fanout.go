package websocket

import (
	"marketchat/pkg/logger"
)

// Fanout pushes events to live connections. Every method returns the number of
// connections the frame was queued on.
type Fanout interface {
	ToRoom(conversationID string, env Envelope, exceptConnID string) int
	ToParticipant(participantID string, env Envelope) int
	// ToStore reaches every operator connection administering storeID.
	ToStore(storeID string, env Envelope) int
	ToClient(c *Client, env Envelope) bool
}

// LocalFanout delivers to the connections held by this instance.
type LocalFanout struct {
	rooms    RoomTracker
	presence PresenceRegistry
}

var _ Fanout = (*LocalFanout)(nil)

func NewLocalFanout(rooms RoomTracker, presence PresenceRegistry) *LocalFanout {
	return &LocalFanout{rooms: rooms, presence: presence}
}

func (f *LocalFanout) ToRoom(conversationID string, env Envelope, exceptConnID string) int {
	return f.deliver(f.rooms.MembersOf(conversationID), env, exceptConnID)
}

func (f *LocalFanout) ToParticipant(participantID string, env Envelope) int {
	return f.deliver(f.presence.Resolve(participantID), env, "")
}

func (f *LocalFanout) ToStore(storeID string, env Envelope) int {
	return f.deliver(f.presence.ResolveStore(storeID), env, "")
}

func (f *LocalFanout) ToClient(c *Client, env Envelope) bool {
	return f.deliver([]*Client{c}, env, "") == 1
}

func (f *LocalFanout) deliver(clients []*Client, env Envelope, exceptConnID string) int {
	if len(clients) == 0 {
		return 0
	}
	payload, err := env.Encode()
	if err != nil {
		logger.Error("WebSocket: failed to encode %s event: %v", env.Type, err)
		return 0
	}

	delivered := 0
	for _, c := range clients {
		if c.ID == exceptConnID {
			continue
		}
		if err := c.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}
