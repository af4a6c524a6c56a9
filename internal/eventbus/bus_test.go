package eventbus

import "testing"

func TestPublishFanOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	Publish(b, StreamDropped, 3)

	for i, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != StreamDropped {
			t.Fatalf("subscriber %d: type=%q, want %q", i, e.Type, StreamDropped)
		}
		if e.Data != 3 {
			t.Fatalf("subscriber %d: data=%v, want 3", i, e.Data)
		}
		if e.Time.IsZero() {
			t.Fatalf("subscriber %d: event time not stamped", i)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})

	if len(ch) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(ch))
	}
	if e := <-ch; e.Type != "one" {
		t.Fatalf("expected the first event to survive, got %q", e.Type)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	b.Publish(Event{Type: "after"})
	Publish(nil, "x", nil)
}
