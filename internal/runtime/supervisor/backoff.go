package supervisor

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff is a jittered exponential delay sequence: min, 2*min, ... capped at
// max, each with up to 50% added jitter (never above max).
//
// It is safe for concurrent use.
type Backoff struct {
	mu  sync.Mutex
	min time.Duration
	max time.Duration
	cur time.Duration
	rng *rand.Rand
}

func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = 250 * time.Millisecond
	}
	if max < min {
		max = min
	}
	seed := time.Now().UnixNano()
	return &Backoff{min: min, max: max, cur: min, rng: rand.New(rand.NewSource(seed))}
}

// Next returns the next delay and advances the sequence.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	wait := b.cur + time.Duration(b.rng.Int63n(int64(b.cur/2)+1))
	if wait > b.max {
		wait = b.max
	}
	if b.cur < b.max {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	return wait
}

// Reset restarts the sequence at min.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.cur = b.min
	b.mu.Unlock()
}
