package events

import (
	"sync"
)

const subscriberBuffer = 64

// Subscriber receives events over C until Hub.Unsubscribe closes it.
type Subscriber struct {
	C chan Event

	campaignID int64 // 0 means all campaigns
}

// Hub fans events out to currently connected subscribers. There is no
// persistence or replay: a subscriber only sees events published after it
// subscribed. Subscriptions are scoped to one campaign id, or to all
// campaigns for firehose consumers (the AMQP bridge, dashboards).
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers for events of a single campaign.
func (h *Hub) Subscribe(campaignID int64) *Subscriber {
	return h.add(campaignID)
}

// SubscribeAll registers for events of every campaign.
func (h *Hub) SubscribeAll() *Subscriber {
	return h.add(0)
}

func (h *Hub) add(campaignID int64) *Subscriber {
	s := &Subscriber{C: make(chan Event, subscriberBuffer), campaignID: campaignID}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if ok {
		close(s.C)
	}
}

// Publish delivers e to every matching subscriber. Delivery never blocks
// the publisher: a subscriber that has fallen subscriberBuffer events
// behind loses the event.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.campaignID != 0 && s.campaignID != e.CampaignID {
			continue
		}
		select {
		case s.C <- e:
		default:
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
