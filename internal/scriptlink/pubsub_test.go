package scriptlink_test

import (
	"testing"
	"time"

	"github.com/roah-benchmarks/refboxcore/internal/scriptlink"
)

func TestSubscribeReceivesLatchedValueImmediately(t *testing.T) {
	hub := scriptlink.NewHub()
	hub.Publish("refbox_state", "first")

	sub := hub.Subscribe("refbox_state")
	defer sub.Unsubscribe()

	select {
	case v := <-sub.C:
		if v != "first" {
			t.Fatalf("received %v, want 'first'", v)
		}
	case <-time.After(time.Second):
		t.Fatal("late subscriber did not receive the latched value")
	}
}

func TestSubscribeBeforeAnyPublishGetsNothingUntilPublish(t *testing.T) {
	hub := scriptlink.NewHub()
	sub := hub.Subscribe("bmbox_state")
	defer sub.Unsubscribe()

	select {
	case v := <-sub.C:
		t.Fatalf("received unexpected value %v before any publish", v)
	case <-time.After(50 * time.Millisecond):
	}

	hub.Publish("bmbox_state", "now")
	select {
	case v := <-sub.C:
		if v != "now" {
			t.Fatalf("received %v, want 'now'", v)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber missed a live publish")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	hub := scriptlink.NewHub()
	a := hub.Subscribe("topic")
	b := hub.Subscribe("topic")
	defer a.Unsubscribe()
	defer b.Unsubscribe()

	hub.Publish("topic", 42)

	for _, sub := range []*scriptlink.Subscription{a, b} {
		select {
		case v := <-sub.C:
			if v != 42 {
				t.Fatalf("received %v, want 42", v)
			}
		case <-time.After(time.Second):
			t.Fatal("a subscriber missed the fan-out")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := scriptlink.NewHub()
	sub := hub.Subscribe("topic")
	sub.Unsubscribe()

	if got := hub.SubscriberCount("topic"); got != 0 {
		t.Fatalf("SubscriberCount() after Unsubscribe = %d, want 0", got)
	}

	hub.Publish("topic", "value") // must not panic or block
}

func TestSubscriberCountReflectsLiveSubscriptions(t *testing.T) {
	hub := scriptlink.NewHub()
	if got := hub.SubscriberCount("topic"); got != 0 {
		t.Fatalf("SubscriberCount() on an untouched topic = %d, want 0", got)
	}

	a := hub.Subscribe("topic")
	if got := hub.SubscriberCount("topic"); got != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", got)
	}
	b := hub.Subscribe("topic")
	if got := hub.SubscriberCount("topic"); got != 2 {
		t.Fatalf("SubscriberCount() = %d, want 2", got)
	}
	a.Unsubscribe()
	b.Unsubscribe()
}

func TestLatchedReportsMostRecentValue(t *testing.T) {
	hub := scriptlink.NewHub()
	if _, ok := hub.Latched("topic"); ok {
		t.Fatal("Latched() reported a value before any publish")
	}

	hub.Publish("topic", "a")
	hub.Publish("topic", "b")

	v, ok := hub.Latched("topic")
	if !ok || v != "b" {
		t.Fatalf("Latched() = %v, %v, want 'b', true", v, ok)
	}
}
