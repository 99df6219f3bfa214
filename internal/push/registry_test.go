package push

import (
	"sync/atomic"
	"testing"
	"time"

	logx "notisync/pkg/logx"
)

func newTestRegistry(tr *fakeTransport) *Registry {
	return NewRegistry(func(userID string) *Client {
		return NewClient(Options{Transport: tr, UserID: userID, MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	}, logx.Nop())
}

func TestRegistrySharesOneConnection(t *testing.T) {
	tr := newFakeTransport()
	reg := newTestRegistry(tr)

	a := reg.Acquire("u1")
	b := reg.Acquire("u1")
	s := tr.next(t)
	waitFor(t, "connected", a.Connected)

	if a.ID == b.ID {
		t.Fatal("handles share an id")
	}
	if n := tr.dials.Load(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
	if reg.Refs("u1") != 2 {
		t.Fatalf("refs = %d, want 2", reg.Refs("u1"))
	}

	a.Release()
	a.Release()
	if reg.Refs("u1") != 1 {
		t.Fatalf("refs after one release = %d, want 1", reg.Refs("u1"))
	}
	if s.isClosed() || !b.Connected() {
		t.Fatal("connection closed while a handle is live")
	}

	b.Release()
	if reg.Refs("u1") != 0 {
		t.Fatalf("refs = %d, want 0", reg.Refs("u1"))
	}
	waitFor(t, "stream closed", s.isClosed)
}

func TestRegistryReopensAfterLastRelease(t *testing.T) {
	tr := newFakeTransport()
	reg := newTestRegistry(tr)

	h := reg.Acquire("u1")
	s1 := tr.next(t)
	h.Release()
	waitFor(t, "first stream closed", s1.isClosed)

	h2 := reg.Acquire("u1")
	defer h2.Release()
	tr.next(t)
	waitFor(t, "reconnected", h2.Connected)
	if n := tr.dials.Load(); n != 2 {
		t.Fatalf("dials = %d, want 2", n)
	}
}

func TestRegistrySeparatesUsers(t *testing.T) {
	tr := newFakeTransport()
	reg := newTestRegistry(tr)
	a := reg.Acquire("u1")
	b := reg.Acquire("u2")
	defer a.Release()
	defer b.Release()
	tr.next(t)
	tr.next(t)
	if n := tr.dials.Load(); n != 2 {
		t.Fatalf("dials = %d, want 2", n)
	}
}

func TestHandleReleaseDropsItsListeners(t *testing.T) {
	tr := newFakeTransport()
	reg := newTestRegistry(tr)
	a := reg.Acquire("u1")
	b := reg.Acquire("u1")
	defer b.Release()

	var aHits, bHits atomic.Int32
	a.On(EventNotification, func(Event) { aHits.Add(1) })
	b.On(EventNotification, func(Event) { bHits.Add(1) })
	s := tr.next(t)

	a.Release()
	s.events <- Event{Name: EventNotification}
	waitFor(t, "b receives", func() bool { return bHits.Load() == 1 })
	if aHits.Load() != 0 {
		t.Fatal("released handle still receives events")
	}
	if off := a.On(EventNotification, func(Event) {}); off == nil {
		t.Fatal("On after Release must return a no-op off")
	}
}
