package websocket

import (
	"sort"
	"sync"
	"time"
)

// PresenceRegistry tracks which participants have live connections on this
// instance.
type PresenceRegistry interface {
	// SetOnline registers c and reports whether it is the participant's first
	// live connection.
	SetOnline(c *Client) (first bool)
	// SetOffline removes c and reports whether the participant has no live
	// connection left. Last-seen is recorded in that case.
	SetOffline(c *Client) (last bool)
	IsOnline(participantID string) bool
	Resolve(participantID string) []*Client
	// ResolveStore returns the connections of every operator administering storeID.
	ResolveStore(storeID string) []*Client
	LastSeen(participantID string) (time.Time, bool)
	Count() int
}

type Presence struct {
	mu            sync.RWMutex
	byParticipant map[string]map[string]*Client
	byStore       map[string]map[string]*Client
	lastSeen      map[string]time.Time
	now           func() time.Time
}

var _ PresenceRegistry = (*Presence)(nil)

func NewPresence() *Presence {
	return &Presence{
		byParticipant: make(map[string]map[string]*Client),
		byStore:       make(map[string]map[string]*Client),
		lastSeen:      make(map[string]time.Time),
		now:           time.Now,
	}
}

func (p *Presence) SetOnline(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pid := c.Participant.ID
	conns, ok := p.byParticipant[pid]
	if !ok {
		conns = make(map[string]*Client)
		p.byParticipant[pid] = conns
	}
	first := len(conns) == 0
	conns[c.ID] = c

	for _, storeID := range c.Participant.StoreIDs {
		idx, ok := p.byStore[storeID]
		if !ok {
			idx = make(map[string]*Client)
			p.byStore[storeID] = idx
		}
		idx[c.ID] = c
	}
	if first {
		delete(p.lastSeen, pid)
	}
	return first
}

func (p *Presence) SetOffline(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pid := c.Participant.ID
	for _, storeID := range c.Participant.StoreIDs {
		if idx, ok := p.byStore[storeID]; ok {
			delete(idx, c.ID)
			if len(idx) == 0 {
				delete(p.byStore, storeID)
			}
		}
	}

	conns, ok := p.byParticipant[pid]
	if !ok {
		return false
	}
	if _, present := conns[c.ID]; !present {
		return false
	}
	delete(conns, c.ID)
	if len(conns) > 0 {
		return false
	}
	delete(p.byParticipant, pid)
	p.lastSeen[pid] = p.now()
	return true
}

func (p *Presence) IsOnline(participantID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byParticipant[participantID]) > 0
}

func (p *Presence) Resolve(participantID string) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sortedClients(p.byParticipant[participantID])
}

func (p *Presence) ResolveStore(storeID string) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sortedClients(p.byStore[storeID])
}

func (p *Presence) LastSeen(participantID string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.lastSeen[participantID]
	return t, ok
}

// Count returns the number of live connections.
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, conns := range p.byParticipant {
		n += len(conns)
	}
	return n
}

// sortedClients snapshots a connection set in a stable order.
func sortedClients(set map[string]*Client) []*Client {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
