package redisbridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/websocket"
)

func remoteEvent(t *testing.T, origin, target, key, except string) []byte {
	t.Helper()
	payload, err := json.Marshal(wireEvent{
		Origin:       origin,
		Target:       target,
		Key:          key,
		ExceptConnID: except,
		Envelope:     websocket.NewEnvelope(websocket.EventNewMessage, "cust-1_store-1", map[string]string{"id": "msg-1"}),
	})
	require.NoError(t, err)
	return payload
}

func setupBridge() (*Fanout, *websocket.Rooms, *websocket.Presence) {
	rooms := websocket.NewRooms()
	presence := websocket.NewPresence()
	local := websocket.NewLocalFanout(rooms, presence)
	return NewFanout(local, nil, "marketchat:events", "instance-a"), rooms, presence
}

func TestHandleSkipsOwnEvents(t *testing.T) {
	bridge, rooms, _ := setupBridge()
	c := websocket.NewClient(nil, entity.Participant{ID: "cust-1", Role: entity.RoleCustomer}, websocket.ClientOptions{})
	rooms.Join("cust-1_store-1", c)

	assert.Equal(t, 0, bridge.handle(remoteEvent(t, "instance-a", targetRoom, "cust-1_store-1", "")))
	assert.Empty(t, c.Outbound())
}

func TestHandleDeliversRemoteEvents(t *testing.T) {
	bridge, rooms, presence := setupBridge()
	customer := websocket.NewClient(nil, entity.Participant{ID: "cust-1", Role: entity.RoleCustomer}, websocket.ClientOptions{})
	operator := websocket.NewClient(nil, entity.Participant{ID: "op-1", Role: entity.RoleStoreOperator, StoreIDs: []string{"store-1"}}, websocket.ClientOptions{})
	rooms.Join("cust-1_store-1", customer)
	rooms.Join("cust-1_store-1", operator)
	presence.SetOnline(customer)
	presence.SetOnline(operator)

	assert.Equal(t, 1, bridge.handle(remoteEvent(t, "instance-b", targetRoom, "cust-1_store-1", customer.ID)))
	assert.Equal(t, 1, bridge.handle(remoteEvent(t, "instance-b", targetParticipant, "cust-1", "")))
	assert.Equal(t, 1, bridge.handle(remoteEvent(t, "instance-b", targetStore, "store-1", "")))
	assert.Equal(t, 0, bridge.handle(remoteEvent(t, "instance-b", "galaxy", "x", "")))
	assert.Equal(t, 0, bridge.handle([]byte("{broken")))

	raw := <-customer.Outbound()
	var env struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, websocket.EventNewMessage, env.Type)
	assert.Equal(t, "msg-1", env.Data["id"])
	assert.Len(t, operator.Outbound(), 2)
}
