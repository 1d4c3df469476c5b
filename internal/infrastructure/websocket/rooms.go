package websocket

import (
	"sort"
	"sync"
)

// RoomTracker records which connections are joined to which conversations.
// Callers authorize a join before calling Join.
type RoomTracker interface {
	// Join adds c to the room and reports whether it was newly added.
	Join(conversationID string, c *Client) bool
	// Leave removes c from the room and reports whether it was a member.
	Leave(conversationID string, c *Client) bool
	// LeaveAll removes c from every room and returns the rooms it left.
	LeaveAll(c *Client) []string
	MembersOf(conversationID string) []*Client
	RoomsOf(connectionID string) []string
	HasMember(conversationID string, match func(*Client) bool) bool
}

type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]*Client // conversation -> connection id -> client
	joined  map[string]map[string]struct{} // connection id -> conversations
}

var _ RoomTracker = (*Rooms)(nil)

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]*Client),
		joined:  make(map[string]map[string]struct{}),
	}
}

func (r *Rooms) Join(conversationID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.members[conversationID]
	if !ok {
		room = make(map[string]*Client)
		r.members[conversationID] = room
	}
	if _, exists := room[c.ID]; exists {
		return false
	}
	room[c.ID] = c

	convs, ok := r.joined[c.ID]
	if !ok {
		convs = make(map[string]struct{})
		r.joined[c.ID] = convs
	}
	convs[conversationID] = struct{}{}
	return true
}

func (r *Rooms) Leave(conversationID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(conversationID, c.ID)
}

// leave must be called with mu held.
func (r *Rooms) leave(conversationID, connID string) bool {
	room, ok := r.members[conversationID]
	if !ok {
		return false
	}
	if _, exists := room[connID]; !exists {
		return false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.members, conversationID)
	}
	if convs, ok := r.joined[connID]; ok {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(r.joined, connID)
		}
	}
	return true
}

func (r *Rooms) LeaveAll(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for conversationID := range r.joined[c.ID] {
		left = append(left, conversationID)
	}
	sort.Strings(left)
	for _, conversationID := range left {
		r.leave(conversationID, c.ID)
	}
	return left
}

func (r *Rooms) MembersOf(conversationID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedClients(r.members[conversationID])
}

func (r *Rooms) RoomsOf(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for conversationID := range r.joined[connectionID] {
		out = append(out, conversationID)
	}
	sort.Strings(out)
	return out
}

func (r *Rooms) HasMember(conversationID string, match func(*Client) bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.members[conversationID] {
		if match(c) {
			return true
		}
	}
	return false
}
