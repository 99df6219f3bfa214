// Package prefs owns the user's per-type notification preferences and the
// global sound toggle.
//
// State is persisted through storage.Store and every mutation is broadcast
// on the eventbus with the full new state. Consumers keep their own copy and
// resync from the broadcast; nothing shares a mutable preference object.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"notisync/internal/eventbus"
	"notisync/internal/notification"
	"notisync/internal/storage"
	logx "notisync/pkg/logx"
)

// Fixed storage keys.
const (
	KeyTypePrefs    = "notifications.type_prefs"
	KeySoundEnabled = "notifications.sound_enabled"
)

// Eventbus topics.
const (
	TopicChanged = "prefs.changed"
	TopicSound   = "prefs.sound"
)

const ioTimeout = 2 * time.Second

// Prefs maps a preference key to "surface this". Missing keys are allowed.
type Prefs map[string]bool

// Enabled reports the flag for key, defaulting to true.
func (p Prefs) Enabled(key string) bool {
	v, ok := p[key]
	return !ok || v
}

// Allows reports whether a notification of type typ passes the filter.
// Types without a preference key are always allowed.
func (p Prefs) Allows(typ string) bool {
	key, ok := notification.PrefKey(typ)
	if !ok {
		return true
	}
	return p.Enabled(key)
}

// Muted returns the keys currently set to false, sorted.
func (p Prefs) Muted() []string {
	out := make([]string, 0, len(p))
	for k, v := range p {
		if !v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (p Prefs) Clone() Prefs {
	out := make(Prefs, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Defaults returns every known key set to true.
func Defaults() Prefs {
	out := make(Prefs, len(notification.PrefKeys))
	for _, k := range notification.PrefKeys {
		out[k] = true
	}
	return out
}

// Store is the single writer of persisted preference state.
//
// It is safe for concurrent use.
type Store struct {
	// writeMu is held across a mutation's persist and broadcast so storage
	// and subscribers end on the latest state. mu guards the fields.
	writeMu sync.Mutex
	mu      sync.Mutex

	st    storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	cur   Prefs
	sound bool
}

// Open loads persisted state. Missing or unreadable state falls back to
// defaults (all allowed, sound on); an unreadable record is logged, not fatal.
func Open(ctx context.Context, st storage.Store, bus eventbus.Bus, log logx.Logger) (*Store, error) {
	if st == nil {
		return nil, errors.New("prefs: nil storage")
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{st: st, bus: bus, log: log, cur: Defaults(), sound: true}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads persisted state and broadcasts it when it differs from the
// in-memory copy.
func (s *Store) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, sound, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	changed := !equalPrefs(s.cur, cur)
	soundChanged := s.sound != sound
	s.cur = cur
	s.sound = sound
	s.mu.Unlock()

	if changed {
		s.bus.Publish(eventbus.Event{Topic: TopicChanged, Data: cur.Clone()})
	}
	if soundChanged {
		s.bus.Publish(eventbus.Event{Topic: TopicSound, Data: sound})
	}
	return nil
}

func (s *Store) load(ctx context.Context) (Prefs, bool, error) {
	cur := Defaults()
	sound := true

	cctx, cancel := context.WithTimeout(ctx, ioTimeout)
	defer cancel()

	b, err := s.st.Get(cctx, KeyTypePrefs)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, false, fmt.Errorf("prefs: load %s: %w", KeyTypePrefs, err)
	default:
		var stored map[string]bool
		if jerr := json.Unmarshal(b, &stored); jerr != nil {
			s.log.Warn("stored preferences unreadable; using defaults", logx.Err(jerr))
		}
		for k, v := range stored {
			cur[k] = v
		}
	}

	b, err = s.st.Get(cctx, KeySoundEnabled)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, false, fmt.Errorf("prefs: load %s: %w", KeySoundEnabled, err)
	default:
		if v, perr := strconv.ParseBool(strings.TrimSpace(string(b))); perr == nil {
			sound = v
		} else {
			s.log.Warn("stored sound flag unreadable; using default", logx.String("raw", string(b)))
		}
	}
	return cur, sound, nil
}

// Get returns a copy of the current preferences.
func (s *Store) Get() Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Clone()
}

// Set merges partial into the current state, persists it and broadcasts the
// full result. A persistence error is returned, but the new state is still
// applied and broadcast so the user's choice takes effect in this process.
func (s *Store) Set(ctx context.Context, partial Prefs) (Prefs, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	next := s.cur.Clone()
	for k, v := range partial {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		next[k] = v
	}
	s.cur = next
	out := next.Clone()
	s.mu.Unlock()

	var perr error
	b, err := json.Marshal(out)
	if err == nil {
		cctx, cancel := context.WithTimeout(ctx, ioTimeout)
		err = s.st.Put(cctx, KeyTypePrefs, b)
		cancel()
	}
	if err != nil {
		perr = fmt.Errorf("prefs: persist: %w", err)
		s.log.Warn("preference persist failed", logx.Err(err))
	}

	s.bus.Publish(eventbus.Event{Topic: TopicChanged, Data: out.Clone()})
	s.log.Debug("preferences updated", logx.Strings("muted", out.Muted()))
	return out, perr
}

// SoundEnabled reports the global sound toggle.
func (s *Store) SoundEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sound
}

// SetSoundEnabled persists and broadcasts the global sound toggle.
func (s *Store) SetSoundEnabled(ctx context.Context, enabled bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.sound = enabled
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, ioTimeout)
	err := s.st.Put(cctx, KeySoundEnabled, []byte(strconv.FormatBool(enabled)))
	cancel()

	s.bus.Publish(eventbus.Event{Topic: TopicSound, Data: enabled})
	if err != nil {
		s.log.Warn("sound flag persist failed", logx.Err(err))
		return fmt.Errorf("prefs: persist sound flag: %w", err)
	}
	return nil
}

// Subscribe returns preference broadcasts. The channel always ends on the
// latest state even for slow readers.
func (s *Store) Subscribe() (<-chan Prefs, func()) {
	events, unsub := s.bus.Subscribe(4, TopicChanged)
	out := make(chan Prefs, 1)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				p, ok := e.Data.(Prefs)
				if !ok {
					continue
				}
				// Latest wins: replace an undelivered state.
				select {
				case out <- p:
				default:
					select {
					case <-out:
					default:
					}
					select {
					case out <- p:
					case <-done:
						return
					}
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

func equalPrefs(a, b Prefs) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
