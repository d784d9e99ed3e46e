package events

import (
	"sync"
	"time"
)

// Event describes a state transition of one try-on request.
type Event struct {
	RequestID string    `json:"request_id"`
	State     string    `json:"state"`
	Kind      string    `json:"kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Terminal reports whether no further events follow for this request.
func (e Event) Terminal() bool {
	return e.State == "done" || e.State == "failed"
}

// Broker manages SSE subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Event]string
}

// NewBroker constructs a broker instance.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan Event]string),
	}
}

// Subscribe returns a channel that receives events for requestID, or every event when requestID is empty.
func (b *Broker) Subscribe(requestID string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	b.subscribers[ch] = requestID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel from the broker.
func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish fan-outs the event to matching subscribers.
func (b *Broker) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.RLock()
	for ch, filter := range b.subscribers {
		if filter != "" && filter != evt.RequestID {
			continue
		}
		select {
		case ch <- evt:
		default:
			// drop if subscriber is slow
		}
	}
	b.mu.RUnlock()
}
