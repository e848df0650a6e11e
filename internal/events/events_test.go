package events

import (
	"testing"
	"time"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(4)
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer a.Close()
	defer b.Close()

	bus.Publish(Event{Kind: KindServerStarted, Port: 53317})

	select {
	case ev := <-a.Events():
		if ev.Kind != KindServerStarted || ev.Port != 53317 {
			t.Errorf("subscriber a got unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber a never received the event")
	}
	select {
	case ev := <-b.Events():
		if ev.Kind != KindServerStarted {
			t.Errorf("subscriber b got unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber b never received the event")
	}
}

func TestPublishDropsOldestOnFullBuffer(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(Event{Kind: KindProgress, TransferID: "1"})
	bus.Publish(Event{Kind: KindProgress, TransferID: "2"})
	bus.Publish(Event{Kind: KindProgress, TransferID: "3"}) // should evict "1"

	first := <-sub.Events()
	second := <-sub.Events()

	if first.TransferID != "2" || second.TransferID != "3" {
		t.Errorf("expected oldest event dropped, got %q then %q", first.TransferID, second.TransferID)
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus(1)
	sub := bus.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(Event{Kind: KindProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked despite a full, undrained subscriber channel")
	}
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	bus := NewBus(1)
	sub := bus.Subscribe()
	bus.Close()

	_, ok := <-sub.Events()
	if ok {
		t.Error("expected subscriber channel to be closed after bus.Close()")
	}

	// Subscribing after close should hand back an already-closed channel.
	late := bus.Subscribe()
	_, ok = <-late.Events()
	if ok {
		t.Error("expected late subscription after Close to receive a closed channel")
	}
}
