package driven

import (
	"sync"
	"time"

	"github.com/BetterCallFirewall/Intruder/internal/models"
)

// EventType classifies scheduler notifications
type EventType string

const (
	EventStatus   EventType = "status"
	EventResult   EventType = "result"
	EventProgress EventType = "progress"
)

// Event is pushed to subscribers whenever a campaign changes
type Event struct {
	Type       EventType               `json:"type"`
	CampaignID string                  `json:"campaign_id"`
	Status     models.CampaignStatus   `json:"status"`
	Progress   models.CampaignProgress `json:"progress"`
	Result     *models.CampaignResult  `json:"result,omitempty"`
	Timestamp  time.Time               `json:"timestamp"`
}

// broker fans events out to subscribers. A subscriber whose buffer is full misses the event;
// Progress stays available for polling.
type broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

func newBroker(buffer int) *broker {
	if buffer <= 0 {
		buffer = 256
	}
	return &broker{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

func (b *broker) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *broker) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
