package agent

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bucket is a per-agent token bucket gating operation rate, adapted from
// the teacher's containment-action rate limiter
// (internal/budget/token_bucket.go): same full-refill-on-a-ticker shape,
// generalized from a fixed per-state cost table to a caller-supplied cost
// per opcode, since agent operations don't fall into the teacher's five
// escalation severities.
type Bucket struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillPeriod time.Duration

	consumedTotal atomic.Uint64
	refillCount   atomic.Uint64

	stop chan struct{}
}

// NewBucket creates a Bucket with the given capacity and starts its refill
// goroutine. Call Close to stop it.
func NewBucket(capacity int, refillPeriod time.Duration) *Bucket {
	if capacity <= 0 {
		panic("agent.Bucket: capacity must be > 0")
	}
	if refillPeriod <= 0 {
		panic("agent.Bucket: refillPeriod must be > 0")
	}
	b := &Bucket{capacity: capacity, tokens: capacity, refillPeriod: refillPeriod, stop: make(chan struct{})}
	go b.refillLoop()
	return b
}

func (b *Bucket) refillLoop() {
	ticker := time.NewTicker(b.refillPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.mu.Unlock()
			b.refillCount.Add(1)
		case <-b.stop:
			return
		}
	}
}

// Consume attempts to debit cost tokens; reports whether it succeeded.
func (b *Bucket) Consume(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= cost {
		b.tokens -= cost
		b.consumedTotal.Add(uint64(cost))
		return true
	}
	return false
}

// Remaining returns the current token count.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns the bucket's maximum token count.
func (b *Bucket) Capacity() int { return b.capacity }

// ConsumedTotal returns the lifetime count of tokens consumed.
func (b *Bucket) ConsumedTotal() uint64 { return b.consumedTotal.Load() }

// Close stops the refill goroutine. Safe to call once.
func (b *Bucket) Close() { close(b.stop) }
