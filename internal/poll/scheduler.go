// Package poll runs the recurring snapshot fetch whose cadence follows push
// channel health: fast while the channel is down, slow while it is up.
package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "notisync/pkg/logx"
)

const (
	DefaultFast = 15 * time.Second
	DefaultSlow = 90 * time.Second
)

// FetchFunc performs one fetch cycle. Errors are logged; the next tick retries.
type FetchFunc func(ctx context.Context) error

type Options struct {
	Fast time.Duration
	Slow time.Duration
	// TriggerRate is the sustained rate of out-of-band fetches per second.
	TriggerRate  float64
	TriggerBurst int
	Log          logx.Logger
}

// Stats are best-effort counters.
type Stats struct {
	Fetches   uint64    `json:"fetches"`
	Failures  uint64    `json:"failures"`
	LastFetch time.Time `json:"last_fetch"`
}

// Scheduler drives fetch. Ticks, triggers and resyncs run serially on the
// Run goroutine, so at most one scheduled fetch is in flight.
type Scheduler struct {
	fetch   FetchFunc
	log     logx.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	fast      time.Duration
	slow      time.Duration
	connected bool
	lastFetch time.Time

	fetches  atomic.Uint64
	failures atomic.Uint64

	rearm   chan struct{}
	trigger chan struct{}
	resync  chan struct{}
}

func New(fetch FetchFunc, opts Options) *Scheduler {
	fast, slow := normalize(opts.Fast, opts.Slow)
	r, burst := normalizeTrigger(opts.TriggerRate, opts.TriggerBurst)
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		fetch:   fetch,
		log:     log.With(logx.String("comp", "poll")),
		limiter: rate.NewLimiter(r, burst),
		fast:    fast,
		slow:    slow,
		rearm:   make(chan struct{}, 1),
		trigger: make(chan struct{}, 1),
		resync:  make(chan struct{}, 1),
	}
}

func normalize(fast, slow time.Duration) (time.Duration, time.Duration) {
	if fast <= 0 {
		fast = DefaultFast
	}
	if slow <= 0 {
		slow = DefaultSlow
	}
	if slow < fast {
		slow = fast
	}
	return fast, slow
}

func normalizeTrigger(r float64, burst int) (rate.Limit, int) {
	if r <= 0 {
		r = 1
	}
	if burst <= 0 {
		burst = 2
	}
	return rate.Limit(r), burst
}

// Interval is the interval currently selected by channel health.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return s.slow
	}
	return s.fast
}

// Attach records the health of a channel that was already up when the
// consumer attached. It re-arms the timer but requests no resync: the start
// fetch covers it.
func (s *Scheduler) Attach(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()
	if changed {
		signal(s.rearm)
	}
}

// SetConnected records channel health. A flip re-arms the timer with the new
// interval; a flip to connected also requests an immediate resync.
func (s *Scheduler) SetConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()
	if !changed {
		return
	}
	s.log.Debug("channel health changed", logx.Bool("connected", connected))
	signal(s.rearm)
	if connected {
		signal(s.resync)
	}
}

// Trigger requests an out-of-band fetch. Triggers coalesce and are paced by
// the limiter; at least one fetch starts after the last trigger.
func (s *Scheduler) Trigger() { signal(s.trigger) }

// Apply swaps the intervals and trigger pacing. An interval change re-arms
// the timer. opts.Log is ignored.
func (s *Scheduler) Apply(opts Options) {
	fast, slow := normalize(opts.Fast, opts.Slow)
	r, burst := normalizeTrigger(opts.TriggerRate, opts.TriggerBurst)

	if s.limiter.Limit() != r || s.limiter.Burst() != burst {
		s.limiter.SetLimit(r)
		s.limiter.SetBurst(burst)
		s.log.Info("poll trigger pacing updated", logx.Float64("rate", float64(r)), logx.Int("burst", burst))
	}

	s.mu.Lock()
	changed := s.fast != fast || s.slow != slow
	s.fast, s.slow = fast, slow
	s.mu.Unlock()
	if changed {
		s.log.Info("poll intervals updated", logx.Duration("fast", fast), logx.Duration("slow", slow))
		signal(s.rearm)
	}
}

// TriggerPacing returns the out-of-band fetch rate and burst.
func (s *Scheduler) TriggerPacing() (float64, int) {
	return float64(s.limiter.Limit()), s.limiter.Burst()
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	last := s.lastFetch
	s.mu.Unlock()
	return Stats{Fetches: s.fetches.Load(), Failures: s.failures.Load(), LastFetch: last}
}

// Run fetches immediately, then on every tick, trigger and resync until ctx
// is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runFetch(ctx, "start")

	t := time.NewTimer(s.Interval())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.runFetch(ctx, "tick")
		case <-s.rearm:
		case <-s.resync:
			s.runFetch(ctx, "resync")
		case <-s.trigger:
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
			// Triggers that arrived while waiting are served by this fetch.
			drain(s.trigger)
			s.runFetch(ctx, "trigger")
		}
		resetTimer(t, s.Interval())
	}
}

func (s *Scheduler) runFetch(ctx context.Context, reason string) {
	if ctx.Err() != nil || s.fetch == nil {
		return
	}
	start := time.Now()
	err := s.fetch(ctx)
	s.fetches.Add(1)
	s.mu.Lock()
	s.lastFetch = start
	s.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failures.Add(1)
		s.log.Warn("fetch failed", logx.String("reason", reason), logx.Err(err))
		return
	}
	s.log.Trace("fetch done", logx.String("reason", reason), logx.Duration("took", time.Since(start)))
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
