package redisbridge

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/logger"
)

const (
	instancesKey = "marketchat:presence:instances"
	onlinePrefix = "marketchat:presence:online:"
	lastSeenKey  = "marketchat:presence:last_seen"

	defaultPresenceTTL = 30 * time.Second
)

// Presence mirrors online counts and last-seen times into Redis so any
// instance can answer IsOnline and LastSeen. Connection lookups stay local.
//
// Each instance owns one hash of connection counts that expires unless the
// instance keeps refreshing it, so the participants of a dead instance go
// offline once its TTL lapses.
type Presence struct {
	websocket.PresenceRegistry
	client   *redis.Client
	instance string
	ttl      time.Duration
	now      func() time.Time
}

var _ websocket.PresenceRegistry = (*Presence)(nil)

func NewPresence(local websocket.PresenceRegistry, client *redis.Client, instance string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	return &Presence{
		PresenceRegistry: local,
		client:           client,
		instance:         instance,
		ttl:              ttl,
		now:              time.Now,
	}
}

func onlineKey(instance string) string {
	return onlinePrefix + instance
}

func (p *Presence) SetOnline(c *websocket.Client) bool {
	first := p.PresenceRegistry.SetOnline(c)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	pipe := p.client.TxPipeline()
	pipe.HIncrBy(ctx, onlineKey(p.instance), c.Participant.ID, 1)
	pipe.PExpire(ctx, onlineKey(p.instance), p.ttl)
	pipe.SAdd(ctx, instancesKey, p.instance)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("Redis presence: mark %s online: %v", c.Participant.ID, err)
	}
	return first
}

func (p *Presence) SetOffline(c *websocket.Client) bool {
	last := p.PresenceRegistry.SetOffline(c)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	n, err := p.client.HIncrBy(ctx, onlineKey(p.instance), c.Participant.ID, -1).Result()
	if err != nil {
		logger.Warn("Redis presence: mark %s offline: %v", c.Participant.ID, err)
		return last
	}
	if n <= 0 {
		pipe := p.client.TxPipeline()
		pipe.HDel(ctx, onlineKey(p.instance), c.Participant.ID)
		pipe.HSet(ctx, lastSeenKey, c.Participant.ID, p.now().UTC().Format(time.RFC3339Nano))
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("Redis presence: record last seen for %s: %v", c.Participant.ID, err)
		}
	}
	return last
}

// IsOnline reports whether participantID holds a connection on this or any
// live instance.
func (p *Presence) IsOnline(participantID string) bool {
	if p.PresenceRegistry.IsOnline(participantID) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	instances, err := p.client.SMembers(ctx, instancesKey).Result()
	if err != nil {
		logger.Warn("Redis presence: list instances: %v", err)
		return false
	}
	if len(instances) == 0 {
		return false
	}

	pipe := p.client.Pipeline()
	counts := make([]*redis.StringCmd, 0, len(instances))
	for _, instance := range instances {
		counts = append(counts, pipe.HGet(ctx, onlineKey(instance), participantID))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		logger.Warn("Redis presence: lookup %s: %v", participantID, err)
	}
	for _, cmd := range counts {
		if n, err := cmd.Int64(); err == nil && n > 0 {
			return true
		}
	}
	return false
}

func (p *Presence) LastSeen(participantID string) (time.Time, bool) {
	if t, ok := p.PresenceRegistry.LastSeen(participantID); ok {
		return t, true
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	raw, err := p.client.HGet(ctx, lastSeenKey, participantID).Result()
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Heartbeat extends this instance's ownership of its online hash, stamps
// last-seen for everyone it holds and forgets instances whose hash expired.
func (p *Presence) Heartbeat(ctx context.Context) error {
	own := onlineKey(p.instance)
	held, err := p.client.HKeys(ctx, own).Result()
	if err != nil {
		return err
	}

	pipe := p.client.TxPipeline()
	pipe.PExpire(ctx, own, p.ttl)
	pipe.SAdd(ctx, instancesKey, p.instance)
	if len(held) > 0 {
		stamp := p.now().UTC().Format(time.RFC3339Nano)
		values := make([]interface{}, 0, len(held)*2)
		for _, id := range held {
			values = append(values, id, stamp)
		}
		pipe.HSet(ctx, lastSeenKey, values...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return p.pruneInstances(ctx)
}

func (p *Presence) pruneInstances(ctx context.Context) error {
	instances, err := p.client.SMembers(ctx, instancesKey).Result()
	if err != nil {
		return err
	}
	for _, instance := range instances {
		if instance == p.instance {
			continue
		}
		n, err := p.client.Exists(ctx, onlineKey(instance)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			if err := p.client.SRem(ctx, instancesKey, instance).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run refreshes the heartbeat at a third of the TTL until ctx is cancelled,
// then drops this instance's hash.
func (p *Presence) Run(ctx context.Context) {
	ticker := time.NewTicker(p.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.release()
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, opTimeout)
			if err := p.Heartbeat(hbCtx); err != nil {
				logger.Warn("Redis presence: heartbeat: %v", err)
			}
			cancel()
		}
	}
}

func (p *Presence) release() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, onlineKey(p.instance))
	pipe.SRem(ctx, instancesKey, p.instance)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("Redis presence: release %s: %v", p.instance, err)
	}
}
