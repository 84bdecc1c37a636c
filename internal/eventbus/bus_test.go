package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	only, unsubOnly := b.Subscribe(4, TypeInventoryExhausted)
	defer unsubOnly()

	b.Publish(Event{Type: TypeLedgerRecorded})
	b.Publish(Event{Type: TypeInventoryExhausted, Data: "netflix"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(only); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-only
	if e.Data != "netflix" || e.Time.IsZero() {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeLedgerRecorded})
	b.Publish(Event{Type: TypeLedgerRecorded})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	b.Publish(Event{Type: TypeReportSent})
}
