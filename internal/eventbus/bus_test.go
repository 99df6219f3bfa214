package eventbus

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishFanoutAndTopics(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	prefsOnly, unsubPrefs := b.Subscribe(4, "prefs.changed")
	defer unsubPrefs()

	b.Publish(Event{Topic: "health", Data: true})
	b.Publish(Event{Topic: "prefs.changed", Data: 1})

	if e := recv(t, all); e.Topic != "health" || e.Time.IsZero() {
		t.Fatalf("unexpected first event: %+v", e)
	}
	if e := recv(t, all); e.Topic != "prefs.changed" {
		t.Fatalf("unexpected second event: %+v", e)
	}
	if e := recv(t, prefsOnly); e.Topic != "prefs.changed" || e.Data.(int) != 1 {
		t.Fatalf("unexpected filtered event: %+v", e)
	}
	select {
	case e := <-prefsOnly:
		t.Fatalf("filtered subscriber got extra event %+v", e)
	default:
	}
}

func TestSlowSubscriberKeepsNewest(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(2)
	defer unsub()

	for i := 1; i <= 5; i++ {
		b.Publish(Event{Topic: "x", Data: i})
	}
	var last int
	for len(ch) > 0 {
		last = (<-ch).Data.(int)
	}
	if last != 5 {
		t.Fatalf("last delivered = %d, want 5", last)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Topic: "x"})
}
