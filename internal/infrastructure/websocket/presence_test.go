package websocket

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"marketchat/internal/domain/entity"
)

func newTestClient(p entity.Participant) *Client {
	return NewClient(nil, p, ClientOptions{BufferSize: 16})
}

func TestPresenceTracksMultipleConnections(t *testing.T) {
	p := NewPresence()
	seen := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return seen }

	customer := entity.Participant{ID: "cust-1", Role: entity.RoleCustomer}
	phone := newTestClient(customer)
	laptop := newTestClient(customer)

	assert.True(t, p.SetOnline(phone))
	assert.False(t, p.SetOnline(laptop))
	assert.True(t, p.IsOnline("cust-1"))
	assert.Len(t, p.Resolve("cust-1"), 2)
	assert.Equal(t, 2, p.Count())

	assert.False(t, p.SetOffline(phone))
	assert.True(t, p.IsOnline("cust-1"))
	_, ok := p.LastSeen("cust-1")
	assert.False(t, ok)

	assert.True(t, p.SetOffline(laptop))
	assert.False(t, p.IsOnline("cust-1"))
	last, ok := p.LastSeen("cust-1")
	assert.True(t, ok)
	assert.Equal(t, seen, last)

	assert.False(t, p.SetOffline(laptop), "removing twice is a no-op")
}

func TestPresenceResolvesStoreOperators(t *testing.T) {
	p := NewPresence()
	op1 := newTestClient(entity.Participant{ID: "op-1", Role: entity.RoleStoreOperator, StoreIDs: []string{"store-1", "store-2"}})
	op2 := newTestClient(entity.Participant{ID: "op-2", Role: entity.RoleStoreOperator, StoreIDs: []string{"store-1"}})
	p.SetOnline(op1)
	p.SetOnline(op2)

	assert.Len(t, p.ResolveStore("store-1"), 2)
	assert.Len(t, p.ResolveStore("store-2"), 1)

	p.SetOffline(op1)
	assert.Len(t, p.ResolveStore("store-1"), 1)
	assert.Empty(t, p.ResolveStore("store-2"))
}

func TestPresenceConcurrentRegistration(t *testing.T) {
	p := NewPresence()
	customer := entity.Participant{ID: "cust-1", Role: entity.RoleCustomer}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		firsts int
	)
	clients := make([]*Client, 50)
	for i := range clients {
		clients[i] = newTestClient(customer)
	}
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if p.SetOnline(c) {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 1, firsts)
	assert.Equal(t, 50, p.Count())
}
