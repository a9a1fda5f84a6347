package models

import (
	"sync"
	"time"
)

type EventType string

const (
	EventTypeImport       EventType = "import"
	EventTypeClear        EventType = "clear"
	EventTypeCombinedItem EventType = "combined_item"
)

// Event tells subscribers that committed data changed and their queries
// should be re-run.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
}

const subscriberBuffer = 10

// Notifier fans data-changed events out to every subscriber.
type Notifier struct {
	subMux      sync.RWMutex
	subscribers map[chan Event]bool
}

func NewNotifier() *Notifier {
	return &Notifier{subscribers: make(map[chan Event]bool)}
}

// Subscribe registers a new listener. The returned func unsubscribes and
// closes the channel; calling it more than once is harmless.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	n.subMux.Lock()
	n.subscribers[ch] = true
	n.subMux.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.subMux.Lock()
			defer n.subMux.Unlock()
			delete(n.subscribers, ch)
			close(ch)
		})
	}
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (n *Notifier) Publish(eventType EventType) {
	event := Event{Type: eventType, At: time.Now().UTC()}
	n.subMux.RLock()
	defer n.subMux.RUnlock()
	for ch := range n.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (n *Notifier) SubscriberCount() int {
	n.subMux.RLock()
	defer n.subMux.RUnlock()
	return len(n.subscribers)
}
