package notify

import (
	"sync"
	"testing"
	"time"
)

func TestHub_DeliversInOrder(t *testing.T) {
	h := NewHub()
	defer h.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	h.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Message)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	h.Publish(TypeInfo, "sync", "first")
	h.Publish(TypeInfo, "sync", "second")
	h.Publish(TypeInfo, "sync", "third")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery order = %v, want %v", got, want)
		}
	}
}

func TestHub_PanickingListenerDoesNotStopOthers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	received := make(chan Event, 2)

	h.Subscribe(func(ev Event) {
		panic("listener bug")
	})
	h.Subscribe(func(ev Event) {
		received <- ev
	})

	h.Publish(TypeError, "sync failed", "network unreachable")
	h.Publish(TypeSuccess, "sync complete", "all items sent")

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("healthy listener did not receive event")
		}
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	defer h.Close()

	first := make(chan Event, 1)
	unsubscribe := h.Subscribe(func(ev Event) {
		first <- ev
	})

	h.Publish(TypeInfo, "t", "before unsubscribe")
	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery before unsubscribe")
	}

	unsubscribe()
	unsubscribe() // double unsubscribe is safe

	h.Publish(TypeInfo, "t", "after unsubscribe")
	select {
	case ev := <-first:
		t.Fatalf("unexpected delivery after unsubscribe: %q", ev.Message)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_NoRetroactiveDelivery(t *testing.T) {
	h := NewHub()
	defer h.Close()

	h.Publish(TypeInfo, "t", "emitted before subscribe")

	late := make(chan Event, 1)
	h.Subscribe(func(ev Event) {
		late <- ev
	})

	select {
	case ev := <-late:
		t.Fatalf("late subscriber received past event: %q", ev.Message)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_SlowListenerGetsEveryEventWithoutBlockingPublish(t *testing.T) {
	h := NewHub()
	defer h.Close()

	const total = 200

	block := make(chan struct{})
	received := make(chan Event, total)
	h.Subscribe(func(ev Event) {
		<-block
		received <- ev
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			h.Publish(TypeInfo, "t", "burst")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow listener")
	}

	// Once the listener wakes up, every published event reaches it.
	close(block)
	for i := 0; i < total; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("listener received %d of %d events", i, total)
		}
	}
}

func TestHub_EventFieldsPopulated(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ev := h.Publish(TypeWarning, "denied", "supervisor role required")
	if ev.ID == "" {
		t.Error("event id not assigned")
	}
	if ev.Type != TypeWarning || ev.Title != "denied" || ev.Message != "supervisor role required" {
		t.Errorf("event fields = %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}
