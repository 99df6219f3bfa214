package push

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"notisync/internal/runtime/supervisor"
	logx "notisync/pkg/logx"
)

// Options configures a Client.
type Options struct {
	Transport  Transport
	UserID     string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Log        logx.Logger
}

type listener struct {
	id uint64
	fn Handler
}

// Client is a single reconnecting push connection.
//
// Transport failures never surface to callers; they only move the state to
// disconnected and schedule a reconnect.
type Client struct {
	opts Options
	log  logx.Logger

	state atomic.Int32

	mu        sync.Mutex
	listeners map[string][]listener
	nextID    uint64

	startOnce sync.Once
	closeOnce sync.Once
	sup       *supervisor.Supervisor
}

func NewClient(opts Options) *Client {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
		if opts.MaxBackoff < opts.MinBackoff {
			opts.MaxBackoff = opts.MinBackoff
		}
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		opts:      opts,
		log:       log.With(logx.String("comp", "push"), logx.String("user_id", opts.UserID)),
		listeners: make(map[string][]listener),
	}
}

// Start launches the connection loop. Calling it more than once is a no-op.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		c.sup = supervisor.New(context.Background(), supervisor.WithLogger(c.log))
		c.sup.Go0("push.loop", c.loop)
	})
}

// Close stops the loop and closes any open stream. It is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.startOnce.Do(func() {})
		if c.sup == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.sup.Stop(ctx); err != nil {
			c.log.Warn("push client stop incomplete", logx.Err(err))
		}
	})
}

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) Connected() bool { return c.State() == StateConnected }

// On registers fn for events named name. The returned func unregisters it.
func (c *Client) On(name string, fn Handler) (off func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[name] = append(c.listeners[name], listener{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			ls := c.listeners[name]
			for i, l := range ls {
				if l.id == id {
					c.listeners[name] = append(ls[:i:i], ls[i+1:]...)
					break
				}
			}
			if len(c.listeners[name]) == 0 {
				delete(c.listeners, name)
			}
		})
	}
}

func (c *Client) loop(ctx context.Context) {
	if c.opts.Transport == nil {
		c.log.Info("push disabled; polling only")
		return
	}
	b := supervisor.NewBackoff(c.opts.MinBackoff, c.opts.MaxBackoff)
	for ctx.Err() == nil {
		c.setState(StateConnecting)
		st, err := c.opts.Transport.Dial(ctx, c.opts.UserID)
		if errors.Is(err, ErrDisabled) {
			c.setState(StateDisconnected)
			c.log.Info("push disabled; polling only")
			return
		}
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			wait := b.Next()
			c.log.Debug("push dial failed", logx.Err(err), logx.Duration("retry_in", wait))
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}

		b.Reset()
		c.setState(StateConnected)
		c.read(ctx, st)
		_ = st.Close()
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		wait := b.Next()
		c.log.Debug("push reconnect scheduled", logx.Duration("retry_in", wait))
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

func (c *Client) read(ctx context.Context, st Stream) {
	for {
		ev, err := st.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Info("push connection lost", logx.Err(err))
			}
			return
		}
		if Reserved(ev.Name) {
			c.log.Debug("ignoring reserved event from server", logx.String("event", ev.Name))
			continue
		}
		c.dispatch(ev)
	}
}

// setState records s and dispatches the reserved transition events.
func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	switch {
	case s == StateConnected:
		c.log.Info("push connected")
		c.dispatch(Event{Name: EventConnected})
	case prev == StateConnected:
		c.log.Info("push disconnected")
		c.dispatch(Event{Name: EventDisconnected})
	}
}

func (c *Client) dispatch(ev Event) {
	c.mu.Lock()
	ls := append([]listener(nil), c.listeners[ev.Name]...)
	c.mu.Unlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("push handler panicked", logx.String("event", ev.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			l.fn(ev)
		}()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
