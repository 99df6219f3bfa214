package push

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStream struct {
	events chan Event
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan Event, 16), closed: make(chan struct{})}
}

func (s *fakeStream) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.closed:
		return Event{}, io.ErrClosedPipe
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return ev, nil
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeTransport hands out a fresh stream per dial and publishes it on
// streams so tests can drive it.
type fakeTransport struct {
	dials   atomic.Int32
	failN   atomic.Int32
	streams chan *fakeStream
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{streams: make(chan *fakeStream, 8)}
}

func (t *fakeTransport) Dial(ctx context.Context, userID string) (Stream, error) {
	t.dials.Add(1)
	if t.failN.Load() > 0 {
		t.failN.Add(-1)
		return nil, errors.New("refused")
	}
	s := newFakeStream()
	t.streams <- s
	return s, nil
}

func (t *fakeTransport) next(tb testing.TB) *fakeStream {
	tb.Helper()
	select {
	case s := <-t.streams:
		return s
	case <-time.After(2 * time.Second):
		tb.Fatal("no dial")
	}
	return nil
}

func waitFor(tb testing.TB, what string, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	tb.Fatalf("timed out waiting for %s", what)
}

func newTestClient(tr Transport) *Client {
	return NewClient(Options{Transport: tr, UserID: "u1", MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
}

func TestClientConnectDispatchReconnect(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(tr)

	var mu sync.Mutex
	var seen []string
	record := func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Name)
		mu.Unlock()
	}
	c.On(EventConnected, record)
	c.On(EventDisconnected, record)
	c.On(EventNotification, record)

	c.Start()
	defer c.Close()

	s1 := tr.next(t)
	waitFor(t, "connected", c.Connected)
	s1.events <- Event{Name: EventNotification}
	waitFor(t, "notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})

	close(s1.events)
	tr.next(t)
	waitFor(t, "reconnected", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	})

	mu.Lock()
	got := append([]string(nil), seen...)
	mu.Unlock()
	want := []string{EventConnected, EventNotification, EventDisconnected, EventConnected}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestClientRetriesFailedDials(t *testing.T) {
	tr := newFakeTransport()
	tr.failN.Store(3)
	c := newTestClient(tr)
	c.Start()
	defer c.Close()

	tr.next(t)
	waitFor(t, "connected", c.Connected)
	if n := tr.dials.Load(); n != 4 {
		t.Fatalf("dials = %d, want 4", n)
	}
}

func TestClientIgnoresReservedEventsFromServer(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(tr)
	var connects atomic.Int32
	c.On(EventConnected, func(Event) { connects.Add(1) })
	var notes atomic.Int32
	c.On(EventNotification, func(Event) { notes.Add(1) })
	c.Start()
	defer c.Close()

	s := tr.next(t)
	s.events <- Event{Name: EventConnected}
	s.events <- Event{Name: EventNotification}
	waitFor(t, "notification", func() bool { return notes.Load() == 1 })
	if n := connects.Load(); n != 1 {
		t.Fatalf("connected dispatched %d times, want 1", n)
	}
}

func TestClientRecoversHandlerPanic(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(tr)
	c.On(EventNotification, func(Event) { panic("bad handler") })
	var got atomic.Int32
	c.On(EventNotification, func(Event) { got.Add(1) })
	c.Start()
	defer c.Close()

	s := tr.next(t)
	s.events <- Event{Name: EventNotification}
	s.events <- Event{Name: EventNotification}
	waitFor(t, "both events", func() bool { return got.Load() == 2 })
	if !c.Connected() {
		t.Fatal("panic should not drop the connection")
	}
}

func TestOffUnregisters(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(tr)
	var hits atomic.Int32
	off := c.On(EventNotification, func(Event) { hits.Add(1) })
	var other atomic.Int32
	c.On(EventNotification, func(Event) { other.Add(1) })
	c.Start()
	defer c.Close()

	s := tr.next(t)
	off()
	off()
	s.events <- Event{Name: EventNotification}
	waitFor(t, "remaining listener", func() bool { return other.Load() == 1 })
	if hits.Load() != 0 {
		t.Fatal("unregistered handler still called")
	}
}

func TestNoneTransportStaysDisconnected(t *testing.T) {
	c := newTestClient(None{})
	c.Start()
	defer c.Close()
	time.Sleep(20 * time.Millisecond)
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", c.State())
	}
}

func TestCloseStopsStream(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(tr)
	c.Start()
	s := tr.next(t)
	waitFor(t, "connected", c.Connected)
	c.Close()
	c.Close()
	if !s.isClosed() {
		t.Fatal("stream not closed")
	}
	if c.Connected() {
		t.Fatal("still connected after Close")
	}
}
