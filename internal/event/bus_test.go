package event_test

import (
	"BucketClear/internal/event"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_FanOutInOrder(t *testing.T) {
	bus := event.NewBus()
	a := bus.Subscribe("a", 16, event.Blocking, nil)
	b := bus.Subscribe("b", 16, event.Blocking, nil)

	for i := uint64(1); i <= 5; i++ {
		bus.Publish(event.Envelope{Type: event.TypeClockTick, OrderbookID: "ob", Sequence: i})
	}

	for _, sub := range []*event.Subscription{a, b} {
		for want := uint64(1); want <= 5; want++ {
			got := <-sub.C
			if got.Sequence != want {
				t.Fatalf("%s: got sequence %d, want %d", sub.Name(), got.Sequence, want)
			}
		}
	}
}

func TestBus_Filters(t *testing.T) {
	bus := event.NewBus()
	byBook := bus.Subscribe("book", 8, event.Blocking, event.ByOrderbook("ob-1"))
	byType := bus.Subscribe("type", 8, event.Blocking, event.ByTypes(event.TypeOrderFilled))

	bus.Publish(event.Envelope{Type: event.TypeClockTick, OrderbookID: "ob-1"})
	bus.Publish(event.Envelope{Type: event.TypeOrderFilled, OrderbookID: "ob-2"})

	if len(byBook.C) != 1 {
		t.Errorf("orderbook filter: got %d envelopes, want 1", len(byBook.C))
	}
	if len(byType.C) != 1 {
		t.Errorf("type filter: got %d envelopes, want 1", len(byType.C))
	}
	if e := <-byType.C; e.OrderbookID != "ob-2" {
		t.Errorf("type filter delivered wrong envelope: %+v", e)
	}
}

func TestBus_LossyDropsWhenFull(t *testing.T) {
	bus := event.NewBus()
	var drops atomic.Int32
	bus.OnDrop(func(name string, _ *event.Envelope) {
		if name == "slow" {
			drops.Add(1)
		}
	})
	sub := bus.Subscribe("slow", 2, event.Lossy, nil)

	for i := 0; i < 5; i++ {
		bus.Publish(event.Envelope{Type: event.TypeClockTick})
	}

	if len(sub.C) != 2 {
		t.Errorf("buffer: got %d, want 2", len(sub.C))
	}
	if drops.Load() != 3 {
		t.Errorf("drops: got %d, want 3", drops.Load())
	}
}

func TestBus_CloseUnblocksBlockingPublish(t *testing.T) {
	bus := event.NewBus()
	sub := bus.Subscribe("stuck", 0, event.Blocking, nil)

	done := make(chan struct{})
	go func() {
		bus.Publish(event.Envelope{Type: event.TypeClockTick})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	sub.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish still blocked after subscriber closed")
	}

	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed")
	}
	if bus.Len() != 0 {
		t.Errorf("subscriber count: got %d, want 0", bus.Len())
	}
}

func TestBus_CloseClosesEverything(t *testing.T) {
	bus := event.NewBus()
	sub := bus.Subscribe("a", 1, event.Blocking, nil)
	bus.Close()

	if _, ok := <-sub.C; ok {
		t.Error("subscription should be closed")
	}

	late := bus.Subscribe("late", 1, event.Blocking, nil)
	if _, ok := <-late.C; ok {
		t.Error("subscribing after Close should yield a closed channel")
	}
	late.Close()
	bus.Publish(event.Envelope{Type: event.TypeClockTick})
}

func TestEnvelope_Subject(t *testing.T) {
	e := event.Envelope{Type: event.TypeOrderPlaced, OrderbookID: "price-range-2s"}
	if got := e.Subject("venue.events"); got != "venue.events.order_placed.price-range-2s" {
		t.Errorf("got %q", got)
	}
	ledgerEvt := event.Envelope{Type: event.TypeBalanceChanged}
	if got := ledgerEvt.Subject("venue.events"); got != "venue.events.balance_changed.ledger" {
		t.Errorf("got %q", got)
	}
}
