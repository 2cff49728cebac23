package hub

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	h := New(nil)
	ctx := context.Background()

	first, err := h.Subscribe(ctx, "space-a", "alice", "Alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	second, err := h.Subscribe(ctx, "space-a", "alice", "Alice")
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same subscription back")
	}
	joins := 0
	for _, evt := range drain(first) {
		if evt.Type == EventPresenceJoin {
			joins++
		}
	}
	if joins != 1 {
		t.Fatalf("join events = %d, want 1", joins)
	}
	actors, err := h.Presence(ctx, "space-a", "alice")
	if err != nil {
		t.Fatalf("presence: %v", err)
	}
	if len(actors) != 1 {
		t.Fatalf("memberships = %d, want 1", len(actors))
	}
}

func TestPublishSpaceIsolation(t *testing.T) {
	h := New(nil)
	ctx := context.Background()

	subA, _ := h.Subscribe(ctx, "space-a", "alice", "Alice")
	subB, _ := h.Subscribe(ctx, "space-b", "bob", "Bob")
	drain(subA)
	drain(subB)

	if err := h.Publish(ctx, "space-a", "alice", Event{Type: EventTaskUpdated, TaskID: "t1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	gotA := drain(subA)
	if len(gotA) != 1 || gotA[0].Type != EventTaskUpdated || gotA[0].SpaceID != "space-a" {
		t.Fatalf("space-a events: %+v", gotA)
	}
	if gotB := drain(subB); len(gotB) != 0 {
		t.Fatalf("space-b observer saw foreign events: %+v", gotB)
	}
}

func TestUnauthorizedPublishDropped(t *testing.T) {
	denied := errors.New("not a member")
	h := New(func(ctx context.Context, spaceID, actorID string) error {
		if actorID == "mallory" {
			return denied
		}
		return nil
	})
	ctx := context.Background()
	sub, err := h.Subscribe(ctx, "space-a", "alice", "Alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	drain(sub)

	if _, err := h.Subscribe(ctx, "space-a", "mallory", "Mallory"); !errors.Is(err, denied) {
		t.Fatalf("expected subscribe denial, got %v", err)
	}
	if err := h.Publish(ctx, "space-a", "mallory", Event{Type: EventTypingStart}); !errors.Is(err, denied) {
		t.Fatalf("expected publish denial, got %v", err)
	}
	if got := drain(sub); len(got) != 0 {
		t.Fatalf("denied publish must not broadcast: %+v", got)
	}
}

func TestDisconnectLeavesEverySpace(t *testing.T) {
	h := New(nil)
	ctx := context.Background()

	_, _ = h.Subscribe(ctx, "space-a", "alice", "Alice")
	_, _ = h.Subscribe(ctx, "space-b", "alice", "Alice")
	watcherA, _ := h.Subscribe(ctx, "space-a", "carol", "Carol")
	watcherB, _ := h.Subscribe(ctx, "space-b", "dave", "Dave")
	drain(watcherA)
	drain(watcherB)

	h.Disconnect("alice")

	leaveSeen := func(evts []Event) bool {
		for _, evt := range evts {
			if evt.Type == EventPresenceLeave && evt.ActorID == "alice" {
				return true
			}
		}
		return false
	}
	if !leaveSeen(drain(watcherA)) {
		t.Fatalf("space-a never saw alice leave")
	}
	if !leaveSeen(drain(watcherB)) {
		t.Fatalf("space-b never saw alice leave")
	}
	for _, space := range []string{"space-a", "space-b"} {
		actors, err := h.Presence(ctx, space, "carol")
		if err != nil {
			t.Fatalf("presence: %v", err)
		}
		for _, id := range actors {
			if id == "alice" {
				t.Fatalf("alice still present in %s", space)
			}
		}
	}
}

func TestCloseLeavesOnlyThatSpace(t *testing.T) {
	h := New(nil)
	ctx := context.Background()

	subA, _ := h.Subscribe(ctx, "space-a", "alice", "Alice")
	_, _ = h.Subscribe(ctx, "space-b", "alice", "Alice")

	subA.Close()

	actorsA, err := h.Presence(ctx, "space-a", "alice")
	if err != nil {
		t.Fatalf("presence a: %v", err)
	}
	if len(actorsA) != 0 {
		t.Fatalf("space-a still lists %v after close", actorsA)
	}
	actorsB, err := h.Presence(ctx, "space-b", "alice")
	if err != nil {
		t.Fatalf("presence b: %v", err)
	}
	if len(actorsB) != 1 || actorsB[0] != "alice" {
		t.Fatalf("space-b presence = %v, want alice", actorsB)
	}
}

func TestSlowObserverNeverBlocksPublish(t *testing.T) {
	h := New(nil)
	ctx := context.Background()
	sub, _ := h.Subscribe(ctx, "space-a", "alice", "Alice")
	// Never read; overflow the buffer well past capacity.
	for i := 0; i < subscriberBuffer*3; i++ {
		if err := h.Publish(ctx, "space-a", "alice", Event{Type: EventTaskUpdated, TaskID: fmt.Sprintf("t%d", i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if got := drain(sub); len(got) > subscriberBuffer {
		t.Fatalf("buffered more than capacity: %d", len(got))
	}
}

func TestIndependentHubInstances(t *testing.T) {
	ctx := context.Background()
	h1 := New(nil)
	h2 := New(nil)
	sub1, _ := h1.Subscribe(ctx, "space-a", "alice", "Alice")
	sub2, _ := h2.Subscribe(ctx, "space-a", "alice", "Alice")
	drain(sub1)
	drain(sub2)
	_ = h1.Publish(ctx, "space-a", "alice", Event{Type: EventTaskUpdated})
	if got := drain(sub2); len(got) != 0 {
		t.Fatalf("event crossed hub instances: %+v", got)
	}
	h1.Close()
	h2.Close()
}
