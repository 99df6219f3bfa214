package push

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	logx "notisync/pkg/logx"
)

// Factory builds the (unstarted) client for a user.
type Factory func(userID string) *Client

type entry struct {
	client *Client
	refs   int
}

// Registry shares one Client per user. The first Acquire opens the
// connection; the last Release closes it.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory Factory
	log     logx.Logger
}

func NewRegistry(factory Factory, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		factory: factory,
		log:     log.With(logx.String("comp", "push.registry")),
	}
}

// Acquire returns a handle on the user's shared connection.
func (r *Registry) Acquire(userID string) *Handle {
	userID = strings.TrimSpace(userID)

	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{client: r.factory(userID)}
		r.entries[userID] = e
	}
	e.refs++
	refs := e.refs
	r.mu.Unlock()

	if !ok {
		e.client.Start()
	}
	h := &Handle{ID: uuid.NewString(), UserID: userID, reg: r, client: e.client}
	r.log.Debug("handle acquired", logx.String("user_id", userID), logx.String("handle", h.ID), logx.Int("refs", refs))
	return h
}

// Refs reports the live handle count for userID.
func (r *Registry) Refs(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[strings.TrimSpace(userID)]; ok {
		return e.refs
	}
	return 0
}

func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	e, ok := r.entries[h.UserID]
	if !ok || e.client != h.client {
		r.mu.Unlock()
		return
	}
	e.refs--
	refs := e.refs
	if refs <= 0 {
		delete(r.entries, h.UserID)
	}
	r.mu.Unlock()

	r.log.Debug("handle released", logx.String("user_id", h.UserID), logx.String("handle", h.ID), logx.Int("refs", refs))
	if refs <= 0 {
		e.client.Close()
	}
}

// Handle is one consumer's claim on a shared connection.
type Handle struct {
	ID     string
	UserID string

	reg    *Registry
	client *Client

	mu       sync.Mutex
	offs     []func()
	released bool
}

// On registers fn on the shared client. Listeners registered through the
// handle are removed on Release.
func (h *Handle) On(name string, fn Handler) (off func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return func() {}
	}
	off = h.client.On(name, fn)
	h.offs = append(h.offs, off)
	return off
}

func (h *Handle) Connected() bool { return h.client.Connected() }

func (h *Handle) State() State { return h.client.State() }

// Release drops the claim. It is idempotent.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	offs := h.offs
	h.offs = nil
	h.mu.Unlock()

	for _, off := range offs {
		off()
	}
	h.reg.release(h)
}
