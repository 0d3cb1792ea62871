package events

import (
	"context"
	"testing"
	"time"
)

func TestSubscribeStartsSignalled(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("block")
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sub.Wait(ctx); err != nil {
		t.Fatalf("fresh gate should be signalled: %v", err)
	}
}

func TestNotifyWakesSubscriber(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("block")
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Drain the initial signal.
	if err := sub.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	hub.Notify("block")
	if err := sub.Wait(ctx); err != nil {
		t.Fatalf("notified gate should wake: %v", err)
	}
}

func TestNotifiesCoalesce(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("block")
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sub.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		hub.Notify("block")
	}
	if err := sub.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	// All ten edges collapsed into one wake; the gate must now be empty.
	short, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if err := sub.Wait(short); err == nil {
		t.Error("gate held more than one pending wake")
	}
}

func TestNotifyIgnoresOtherKinds(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("block")
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sub.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	hub.Notify("other")

	short, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if err := sub.Wait(short); err == nil {
		t.Error("gate woke for an unrelated kind")
	}
}

func TestClosedSubNotNotified(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("block")
	sub.Close()

	// Must not panic or block.
	hub.Notify("block")
}

func TestWaitHonoursCancellation(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("block")
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sub.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel2 := context.WithCancel(context.Background())
	cancel2()
	if err := sub.Wait(cancelled); err == nil {
		t.Error("Wait returned nil on a cancelled context")
	}
}
