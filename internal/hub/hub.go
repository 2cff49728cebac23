// Package hub tracks which actors are observing which space and fans
// lifecycle events out to them. Delivery is at-most-once and best-effort:
// a slow or disconnected observer misses events, it never fails the
// triggering mutation.
package hub

import (
	"context"
	"sync"
)

// Event is the payload fanned out to space observers.
type Event struct {
	Type      string         `json:"type"`
	SpaceID   string         `json:"space_id"`
	TaskID    string         `json:"task_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	ActorName string         `json:"actor_name,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Event types published by the engine and the hub itself.
const (
	EventTaskCreated   = "task-created"
	EventTaskUpdated   = "task-updated"
	EventTaskMoved     = "task-moved"
	EventTaskDeleted   = "task-deleted"
	EventCommentAdded  = "comment-added"
	EventPresenceJoin  = "presence-join"
	EventPresenceLeave = "presence-leave"
	EventTypingStart   = "typing-start"
	EventTypingStop    = "typing-stop"
)

// Authorizer checks that an actor may observe or publish into a space.
type Authorizer func(ctx context.Context, spaceID, actorID string) error

// Subscription is one actor's live feed for one space. Close the
// subscription (or call Hub.Unsubscribe) when the observer disconnects.
type Subscription struct {
	SpaceID   string
	ActorID   string
	ActorName string
	C         <-chan Event

	hub *Hub
	ch  chan Event
}

// Close removes the subscription from its hub.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s.SpaceID, s.ActorID)
}

// Hub is a process-wide registry, constructed once per server process and
// injected where needed so tests can run isolated instances.
type Hub struct {
	mu        sync.Mutex
	authorize Authorizer
	spaces    map[string]map[string]*Subscription
}

// New builds a hub. A nil authorizer permits every actor (used in tests).
func New(authorize Authorizer) *Hub {
	return &Hub{
		authorize: authorize,
		spaces:    map[string]map[string]*Subscription{},
	}
}

const subscriberBuffer = 64

// Subscribe registers an actor as an observer of a space and announces the
// join to the space. Subscribing an already-subscribed actor is idempotent:
// the existing subscription is returned and no second join is announced.
func (h *Hub) Subscribe(ctx context.Context, spaceID, actorID, actorName string) (*Subscription, error) {
	if err := h.check(ctx, spaceID, actorID); err != nil {
		return nil, err
	}
	h.mu.Lock()
	subs := h.spaces[spaceID]
	if subs == nil {
		subs = map[string]*Subscription{}
		h.spaces[spaceID] = subs
	}
	if existing, ok := subs[actorID]; ok {
		h.mu.Unlock()
		return existing, nil
	}
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{
		SpaceID:   spaceID,
		ActorID:   actorID,
		ActorName: actorName,
		C:         ch,
		hub:       h,
		ch:        ch,
	}
	subs[actorID] = sub
	h.broadcastLocked(spaceID, Event{
		Type:      EventPresenceJoin,
		SpaceID:   spaceID,
		ActorID:   actorID,
		ActorName: actorName,
	})
	h.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes an actor from one space, announcing the leave.
func (h *Hub) Unsubscribe(spaceID, actorID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(spaceID, actorID)
}

// Disconnect removes an actor from every space it observes, announcing a
// leave to each. Called when the actor's connection drops.
func (h *Hub) Disconnect(actorID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for spaceID, subs := range h.spaces {
		if _, ok := subs[actorID]; ok {
			h.removeLocked(spaceID, actorID)
		}
	}
}

func (h *Hub) removeLocked(spaceID, actorID string) {
	subs := h.spaces[spaceID]
	sub, ok := subs[actorID]
	if !ok {
		return
	}
	delete(subs, actorID)
	if len(subs) == 0 {
		delete(h.spaces, spaceID)
	}
	close(sub.ch)
	h.broadcastLocked(spaceID, Event{
		Type:      EventPresenceLeave,
		SpaceID:   spaceID,
		ActorID:   actorID,
		ActorName: sub.ActorName,
	})
}

// Publish fans an event out to every current observer of the space after
// checking the publishing actor's membership. Unauthorized publishes error
// to the caller and are never broadcast.
func (h *Hub) Publish(ctx context.Context, spaceID, actorID string, evt Event) error {
	if err := h.check(ctx, spaceID, actorID); err != nil {
		return err
	}
	evt.SpaceID = spaceID
	h.mu.Lock()
	h.broadcastLocked(spaceID, evt)
	h.mu.Unlock()
	return nil
}

// Presence lists the actor IDs currently observing a space.
func (h *Hub) Presence(ctx context.Context, spaceID, actorID string) ([]string, error) {
	if err := h.check(ctx, spaceID, actorID); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for id := range h.spaces[spaceID] {
		out = append(out, id)
	}
	return out, nil
}

// Close tears the hub down, closing every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.spaces {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	h.spaces = map[string]map[string]*Subscription{}
}

func (h *Hub) check(ctx context.Context, spaceID, actorID string) error {
	if h.authorize == nil {
		return nil
	}
	return h.authorize(ctx, spaceID, actorID)
}

func (h *Hub) broadcastLocked(spaceID string, evt Event) {
	for _, sub := range h.spaces[spaceID] {
		select {
		case sub.ch <- evt:
		default:
			// Observer buffer full; drop rather than block the mutation.
		}
	}
}
