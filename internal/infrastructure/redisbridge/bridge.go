package redisbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/logger"
)

const (
	targetRoom        = "room"
	targetParticipant = "participant"
	targetStore       = "store"

	opTimeout = 2 * time.Second
)

// Connect parses url, pings the server and returns the client.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// wireEvent is what travels on the pub/sub channel.
type wireEvent struct {
	Origin       string             `json:"origin"`
	Target       string             `json:"target"`
	Key          string             `json:"key"`
	ExceptConnID string             `json:"except_conn_id,omitempty"`
	Envelope     websocket.Envelope `json:"envelope"`
}

// Fanout delivers locally and publishes every room, participant and store
// event so that other instances can deliver to the connections they hold.
type Fanout struct {
	local    websocket.Fanout
	client   *redis.Client
	channel  string
	instance string
}

var _ websocket.Fanout = (*Fanout)(nil)

func NewFanout(local websocket.Fanout, client *redis.Client, channel, instance string) *Fanout {
	return &Fanout{local: local, client: client, channel: channel, instance: instance}
}

func (f *Fanout) ToRoom(conversationID string, env websocket.Envelope, exceptConnID string) int {
	n := f.local.ToRoom(conversationID, env, exceptConnID)
	f.publish(wireEvent{Target: targetRoom, Key: conversationID, ExceptConnID: exceptConnID, Envelope: env})
	return n
}

func (f *Fanout) ToParticipant(participantID string, env websocket.Envelope) int {
	n := f.local.ToParticipant(participantID, env)
	f.publish(wireEvent{Target: targetParticipant, Key: participantID, Envelope: env})
	return n
}

func (f *Fanout) ToStore(storeID string, env websocket.Envelope) int {
	n := f.local.ToStore(storeID, env)
	f.publish(wireEvent{Target: targetStore, Key: storeID, Envelope: env})
	return n
}

// ToClient addresses a connection by identity, which only exists on this instance.
func (f *Fanout) ToClient(c *websocket.Client, env websocket.Envelope) bool {
	return f.local.ToClient(c, env)
}

func (f *Fanout) publish(ev wireEvent) {
	ev.Origin = f.instance
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Redis bridge: encode %s event: %v", ev.Envelope.Type, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		logger.Warn("Redis bridge: publish %s event: %v", ev.Envelope.Type, err)
	}
}

// Run subscribes to the channel and delivers events published by other
// instances until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", f.channel, err)
	}
	logger.Info("Redis bridge: subscribed to %s as %s", f.channel, f.instance)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis: subscription closed")
			}
			f.handle([]byte(msg.Payload))
		}
	}
}

// handle delivers one remote event to local connections. Events this
// instance published itself were already delivered.
func (f *Fanout) handle(payload []byte) int {
	var ev wireEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warn("Redis bridge: dropping malformed event: %v", err)
		return 0
	}
	if ev.Origin == f.instance {
		return 0
	}

	switch ev.Target {
	case targetRoom:
		return f.local.ToRoom(ev.Key, ev.Envelope, ev.ExceptConnID)
	case targetParticipant:
		return f.local.ToParticipant(ev.Key, ev.Envelope)
	case targetStore:
		return f.local.ToStore(ev.Key, ev.Envelope)
	}
	logger.Warn("Redis bridge: unknown target %q", ev.Target)
	return 0
}
