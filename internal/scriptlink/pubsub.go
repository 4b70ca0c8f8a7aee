package scriptlink

import "sync"

// Hub is a small in-process publish/subscribe registry keyed by topic
// name, generalized from the teacher's session-ID-keyed ClientRegistry.
// Publish is latched: a late subscriber immediately receives the most
// recent value published on the topic, if any (see SPEC_FULL §9 decided
// Open Question on latched topic visibility).
type Hub struct {
	mu      sync.RWMutex
	latched map[string]any
	subs    map[string]map[int]chan any
	nextID  int
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		latched: make(map[string]any),
		subs:    make(map[string]map[int]chan any),
	}
}

// Publish latches value on topic and fans it out to every current
// subscriber. Subscribers that are not actively receiving are skipped
// (buffered channel, drop-if-full) rather than blocking the publisher.
func (h *Hub) Publish(topic string, value any) {
	h.mu.Lock()
	h.latched[topic] = value
	subs := make([]chan any, 0, len(h.subs[topic]))
	for _, ch := range h.subs[topic] {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- value:
		default:
		}
	}
}

// Subscription is a live subscription to a topic.
type Subscription struct {
	C      <-chan any
	hub    *Hub
	topic  string
	id     int
}

// Subscribe registers interest in topic. The returned subscription's
// channel immediately receives the latched value, if one exists.
func (h *Hub) Subscribe(topic string) *Subscription {
	ch := make(chan any, 8)

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]chan any)
	}
	h.nextID++
	id := h.nextID
	h.subs[topic][id] = ch
	latched, ok := h.latched[topic]
	h.mu.Unlock()

	if ok {
		select {
		case ch <- latched:
		default:
		}
	}

	return &Subscription{C: ch, hub: h, topic: topic, id: id}
}

// Unsubscribe removes the subscription. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if m := s.hub.subs[s.topic]; m != nil {
		delete(m, s.id)
	}
}

// SubscriberCount reports how many live subscriptions exist on topic —
// the basis for the Script Link's "script connected" predicate.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Latched returns the most recently published value on topic, if any.
func (h *Hub) Latched(topic string) (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.latched[topic]
	return v, ok
}
