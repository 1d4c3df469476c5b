package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Actions with their own buckets.
const (
	ActionSendMessage = "send_message"
	ActionTyping      = "typing"
	ActionCreateChat  = "create_chat"
	ActionConnect     = "connect"
)

// Policy is a sustained rate with a burst allowance.
type Policy struct {
	PerMinute int
	Burst     int
}

func (p Policy) limit() rate.Limit {
	if p.PerMinute <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(p.PerMinute))
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per participant and action.
type RateLimiter struct {
	policies map[string]Policy
	fallback Policy
	buckets  map[string]*bucket
	mutex    sync.Mutex
	now      func() time.Time
}

func NewRateLimiter(policies map[string]Policy) *RateLimiter {
	p := make(map[string]Policy, len(policies))
	for action, policy := range policies {
		p[action] = policy
	}
	return &RateLimiter{
		policies: p,
		fallback: Policy{PerMinute: 20, Burst: 20},
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// DefaultPolicies builds the per-action limits from the configured rates.
func DefaultPolicies(messagesPerMinute, typingPerMinute int) map[string]Policy {
	return map[string]Policy{
		ActionSendMessage: {PerMinute: messagesPerMinute, Burst: burstFor(messagesPerMinute)},
		ActionTyping:      {PerMinute: typingPerMinute, Burst: burstFor(typingPerMinute)},
		ActionCreateChat:  {PerMinute: 5, Burst: 5},
		ActionConnect:     {PerMinute: 60, Burst: 20},
	}
}

func burstFor(perMinute int) int {
	if perMinute < 1 {
		return 1
	}
	if perMinute > 10 {
		return perMinute / 3
	}
	return perMinute
}

// Allow consumes a token for the participant's action. When denied it returns
// how long until the next token.
func (rl *RateLimiter) Allow(participantID, action string) (bool, time.Duration) {
	now := rl.now()
	b := rl.bucketFor(participantID, action, now)

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) bucketFor(participantID, action string, now time.Time) *bucket {
	key := participantID + ":" + action

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		policy, ok := rl.policies[action]
		if !ok {
			policy = rl.fallback
		}
		burst := policy.Burst
		if burst < 1 {
			burst = 1
		}
		b = &bucket{limiter: rate.NewLimiter(policy.limit(), burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// Cleanup drops buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine periodically drops idle buckets until ctx is done.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			}
		}
	}()
}
