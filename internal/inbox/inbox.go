// Package inbox is the consumer-facing notification state: one Inbox per
// mounted consumer. It ties the push channel, the poll scheduler, the
// aggregator and the preference broadcasts together, owns the merged list
// and is the only writer of read state.
package inbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"notisync/internal/aggregate"
	"notisync/internal/eventbus"
	"notisync/internal/feed"
	"notisync/internal/notification"
	"notisync/internal/poll"
	"notisync/internal/prefs"
	"notisync/internal/push"
	"notisync/internal/runtime/supervisor"
	"notisync/internal/sound"
	logx "notisync/pkg/logx"
)

// TopicChanged is published on the inbox's private bus after every state change.
const TopicChanged = "inbox.changed"

const (
	writeTimeout = 10 * time.Second
	playTimeout  = 5 * time.Second
	closeTimeout = 5 * time.Second
)

// Fetcher returns the merged, unfiltered list of every source.
type Fetcher interface {
	Collect(ctx context.Context) ([]notification.Notification, error)
}

// channel is the part of a push connection an inbox uses. Both
// *push.Handle and *push.Client satisfy it.
type channel interface {
	On(name string, fn push.Handler) (off func())
	Connected() bool
}

type Options struct {
	UserID  string
	Fetcher Fetcher
	// Writer receives read-state writes; nil keeps them local.
	Writer feed.Writer
	Prefs  *prefs.Store

	// Registry shares the push connection. When nil the inbox opens a private
	// client over Transport and closes it on Close.
	Registry   *push.Registry
	Transport  push.Transport
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// Events lists the push events that trigger a refetch. Empty means
	// push.DefaultRefetchEvents.
	Events []string

	Poll poll.Options
	Cue  sound.Cue
	Log  logx.Logger
}

// Status is a point-in-time summary.
type Status struct {
	ID          string        `json:"id"`
	Connected   bool          `json:"connected"`
	Loading     bool          `json:"loading"`
	LastUpdated time.Time     `json:"last_updated"`
	Unread      int           `json:"unread"`
	Total       int           `json:"total"`
	Hidden      int           `json:"hidden"`
	Muted       []string      `json:"muted"`
	Interval    time.Duration `json:"poll_interval"`
	Poll        poll.Stats    `json:"poll"`
}

// Inbox is safe for concurrent use.
type Inbox struct {
	id    string
	opts  Options
	log   logx.Logger
	bus   eventbus.Bus
	sup   *supervisor.Supervisor
	sched *poll.Scheduler

	ch         channel
	handle     *push.Handle
	client     *push.Client
	offs       []func()
	prefCancel func()

	seq atomic.Uint64

	mu          sync.Mutex
	all         []notification.Notification
	filtered    []notification.Notification
	readIDs     map[string]struct{}
	cur         prefs.Prefs
	novelty     aggregate.Novelty
	applied     uint64
	loading     bool
	lastUpdated time.Time
	closed      bool

	// cues counts cues handed to the player.
	cues atomic.Uint64

	closeOnce sync.Once
}

// New mounts an inbox: it subscribes to preference broadcasts, attaches to
// the push channel and starts polling with an immediate first fetch.
func New(opts Options) (*Inbox, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("inbox: nil fetcher")
	}
	if opts.Prefs == nil {
		return nil, errors.New("inbox: nil preference store")
	}
	if opts.Cue == nil {
		opts.Cue = sound.None{}
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	id := uuid.NewString()
	log = log.With(logx.String("comp", "inbox"), logx.String("inbox", id[:8]))

	ib := &Inbox{
		id:      id,
		opts:    opts,
		log:     log,
		bus:     eventbus.New(),
		sup:     supervisor.New(context.Background(), supervisor.WithLogger(log)),
		readIDs: make(map[string]struct{}),
		loading: true,
	}

	// Preferences first, so the first apply already filters with them.
	prefCh, prefCancel := opts.Prefs.Subscribe()
	ib.prefCancel = prefCancel
	ib.cur = opts.Prefs.Get()
	ib.sup.Go0("inbox.prefs", func(ctx context.Context) { ib.followPrefs(ctx, prefCh) })

	popts := opts.Poll
	popts.Log = log
	ib.sched = poll.New(ib.fetch, popts)

	if opts.Registry != nil {
		ib.handle = opts.Registry.Acquire(opts.UserID)
		ib.ch = ib.handle
	} else {
		ib.client = push.NewClient(push.Options{
			Transport:  opts.Transport,
			UserID:     opts.UserID,
			MinBackoff: opts.MinBackoff,
			MaxBackoff: opts.MaxBackoff,
			Log:        log,
		})
		ib.ch = ib.client
	}
	ib.offs = append(ib.offs,
		ib.ch.On(push.EventConnected, func(push.Event) { ib.sched.SetConnected(true) }),
		ib.ch.On(push.EventDisconnected, func(push.Event) { ib.sched.SetConnected(false) }),
	)
	for _, name := range refetchEvents(opts.Events) {
		ib.offs = append(ib.offs, ib.ch.On(name, func(push.Event) { ib.sched.Trigger() }))
	}
	if ib.client != nil {
		ib.client.Start()
	}
	// A shared connection may already be up; no transition event will come.
	// The start fetch already covers the resync.
	if ib.ch.Connected() {
		ib.sched.Attach(true)
	}

	ib.sup.Go("inbox.poll", ib.sched.Run)
	return ib, nil
}

func (ib *Inbox) ID() string { return ib.id }

func refetchEvents(names []string) []string {
	if len(names) == 0 {
		return push.DefaultRefetchEvents
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || push.Reserved(n) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func (ib *Inbox) followPrefs(ctx context.Context, ch <-chan prefs.Prefs) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			ib.mu.Lock()
			ib.cur = p
			ib.filtered = aggregate.Filter(ib.all, p.Allows)
			ib.mu.Unlock()
			ib.log.Debug("preferences applied", logx.Strings("muted", p.Muted()))
			ib.changed()
		}
	}
}

// fetch runs one collection and applies it unless a fresher one already
// landed.
func (ib *Inbox) fetch(ctx context.Context) error {
	seq := ib.seq.Add(1)
	list, err := ib.opts.Fetcher.Collect(ctx)
	if err != nil {
		ib.mu.Lock()
		wasLoading := ib.loading
		ib.loading = false
		ib.mu.Unlock()
		if wasLoading {
			ib.changed()
		}
		return err
	}
	ib.apply(seq, list)
	return nil
}

func (ib *Inbox) apply(seq uint64, list []notification.Notification) {
	ib.mu.Lock()
	if seq < ib.applied {
		ib.mu.Unlock()
		ib.log.Debug("discarding stale fetch result", logx.Uint64("seq", seq))
		return
	}
	ib.applied = seq
	list = append([]notification.Notification(nil), list...)

	present := make(map[string]struct{}, len(list))
	for i := range list {
		id := list[i].ID
		present[id] = struct{}{}
		if _, ok := ib.readIDs[id]; ok {
			list[i].Read = true
		} else if list[i].Read {
			ib.readIDs[id] = struct{}{}
		}
	}
	for id := range ib.readIDs {
		if _, ok := present[id]; !ok {
			delete(ib.readIDs, id)
		}
	}

	fresh := ib.novelty.Observe(list)
	ib.all = list
	ib.filtered = aggregate.Filter(list, ib.cur.Allows)
	ib.loading = false
	ib.lastUpdated = time.Now()

	ring := false
	for _, n := range fresh {
		if !n.Read && ib.cur.Allows(n.Type) {
			ring = true
			break
		}
	}
	ib.mu.Unlock()

	if len(fresh) > 0 {
		ib.log.Debug("new notifications", logx.Int("count", len(fresh)))
	}
	ib.changed()
	if ring {
		ib.cue()
	}
}

// cue plays at most one sound, gated by the toggle as read now.
func (ib *Inbox) cue() {
	if !ib.opts.Prefs.SoundEnabled() {
		return
	}
	started := ib.spawn("inbox.sound", func(ctx context.Context) {
		cctx, cancel := context.WithTimeout(ctx, playTimeout)
		defer cancel()
		if err := ib.opts.Cue.Play(cctx); err != nil {
			ib.log.Warn("sound cue failed", logx.Err(err))
		}
	})
	if started {
		ib.cues.Add(1)
	}
}

// spawn runs fn on the supervisor unless the inbox is closed.
func (ib *Inbox) spawn(name string, fn func(ctx context.Context)) bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if ib.closed {
		return false
	}
	ib.sup.Go0(name, fn)
	return true
}

// CuesPlayed reports how many cues were handed to the player.
func (ib *Inbox) CuesPlayed() uint64 { return ib.cues.Load() }

// MarkRead flips id to read locally and then tells the server. A failed
// server write is logged and not rolled back. Unknown or already-read ids
// are no-ops; the result reports whether anything changed.
func (ib *Inbox) MarkRead(id string) bool {
	ib.mu.Lock()
	if !markIn(ib.all, id) {
		ib.mu.Unlock()
		return false
	}
	markIn(ib.filtered, id)
	ib.readIDs[id] = struct{}{}
	ib.mu.Unlock()

	ib.changed()
	if ib.opts.Writer != nil {
		ib.spawn("inbox.markread", func(context.Context) {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := ib.opts.Writer.MarkRead(ctx, id); err != nil {
				ib.log.Warn("mark read not confirmed by server; keeping local state", logx.String("id", id), logx.Err(err))
			}
		})
	}
	return true
}

// MarkAllRead flips every known notification and sends one bulk write.
// It returns the number of items that changed.
func (ib *Inbox) MarkAllRead() int {
	ib.mu.Lock()
	n := 0
	for i := range ib.all {
		ib.readIDs[ib.all[i].ID] = struct{}{}
		if !ib.all[i].Read {
			ib.all[i].Read = true
			n++
		}
	}
	for i := range ib.filtered {
		ib.filtered[i].Read = true
	}
	ib.mu.Unlock()

	if n > 0 {
		ib.changed()
	}
	if ib.opts.Writer != nil {
		ib.spawn("inbox.markallread", func(context.Context) {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := ib.opts.Writer.MarkAllRead(ctx); err != nil {
				ib.log.Warn("mark all read not confirmed by server; keeping local state", logx.Err(err))
			}
		})
	}
	return n
}

func markIn(list []notification.Notification, id string) bool {
	for i := range list {
		if list[i].ID == id {
			if list[i].Read {
				return false
			}
			list[i].Read = true
			return true
		}
	}
	return false
}

// Notifications returns a copy of the preference-filtered list.
func (ib *Inbox) Notifications() []notification.Notification {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return append([]notification.Notification(nil), ib.filtered...)
}

// All returns a copy of the unfiltered list.
func (ib *Inbox) All() []notification.Notification {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return append([]notification.Notification(nil), ib.all...)
}

// ByCategory returns the filtered items of category c.
func (ib *Inbox) ByCategory(c notification.Category) []notification.Notification {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return aggregate.ByCategory(ib.filtered, c)
}

// UnreadCount counts unread items in the filtered list.
func (ib *Inbox) UnreadCount() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return unread(ib.filtered)
}

func unread(list []notification.Notification) int {
	n := 0
	for _, it := range list {
		if !it.Read {
			n++
		}
	}
	return n
}

func (ib *Inbox) Loading() bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.loading
}

func (ib *Inbox) LastUpdated() time.Time {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.lastUpdated
}

func (ib *Inbox) Connected() bool { return ib.ch.Connected() }

// Prefs returns the inbox's copy of the preferences.
func (ib *Inbox) Prefs() prefs.Prefs {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.cur.Clone()
}

// Refresh fetches now, outside the schedule.
func (ib *Inbox) Refresh(ctx context.Context) error { return ib.fetch(ctx) }

// Scheduler exposes the poll scheduler for interval reloads.
func (ib *Inbox) Scheduler() *poll.Scheduler { return ib.sched }

func (ib *Inbox) Status() Status {
	ib.mu.Lock()
	st := Status{
		ID:          ib.id,
		Loading:     ib.loading,
		LastUpdated: ib.lastUpdated,
		Unread:      unread(ib.filtered),
		Total:       len(ib.filtered),
		Hidden:      len(ib.all) - len(ib.filtered),
		Muted:       ib.cur.Muted(),
	}
	ib.mu.Unlock()
	st.Connected = ib.ch.Connected()
	st.Interval = ib.sched.Interval()
	st.Poll = ib.sched.Stats()
	return st
}

// Subscribe returns a change signal. Signals coalesce; read the accessors
// after each one.
func (ib *Inbox) Subscribe() (<-chan struct{}, func()) {
	events, unsub := ib.bus.Subscribe(1, TopicChanged)
	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			unsub()
		})
	}
}

func (ib *Inbox) changed() {
	ib.bus.Publish(eventbus.Event{Topic: TopicChanged, Time: time.Now(), Data: ib.id})
}

// Close unmounts the inbox: it stops polling, drops the preference
// subscription and releases the push connection. Pending server writes get
// a bounded grace period.
func (ib *Inbox) Close() {
	ib.closeOnce.Do(func() {
		ib.mu.Lock()
		ib.closed = true
		ib.mu.Unlock()

		ib.prefCancel()
		for _, off := range ib.offs {
			off()
		}
		if ib.handle != nil {
			ib.handle.Release()
		}
		if ib.client != nil {
			ib.client.Close()
		}

		ib.sup.Cancel()
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout+writeTimeout)
		defer cancel()
		if err := ib.sup.Wait(ctx); err != nil {
			ib.log.Warn("inbox close incomplete", logx.Err(err))
		}
		ib.log.Debug("inbox closed")
	})
}
