package events

import (
	"sort"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"

	"raffle/internal/models"
)

// DefaultLogSize is how many events a Bus keeps for queries.
const DefaultLogSize = 1024

// Handler receives every emitted event.
type Handler func(models.Event)

// Bus records raffle notifications and fans them out to subscribers.
//
// Emit runs handlers on the caller's goroutine after the raffle has released
// its lock, so two concurrent changes can reach handlers in either order.
// Handlers that care about order use Event.Seq. The log kept for Events is
// always ordered by Seq.
type Bus struct {
	mu       sync.RWMutex
	log      []models.Event
	logSize  int
	handlers []Handler
	now      func() time.Time
}

// NewBus creates a Bus keeping the last logSize events.
func NewBus(logSize int) *Bus {
	if logSize <= 0 {
		logSize = DefaultLogSize
	}
	return &Bus{logSize: logSize, now: time.Now}
}

// Subscribe registers h for all future events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Emit records an event and delivers it to every subscriber in registration order.
func (b *Bus) Emit(seq uint64, name string, payload interface{}) {
	ev := models.Event{
		ID:      uuid.New(),
		Seq:     seq,
		Name:    name,
		At:      b.now(),
		Payload: payload,
	}

	b.mu.Lock()
	i := sort.Search(len(b.log), func(i int) bool { return b.log[i].Seq > seq })
	b.log = append(b.log, models.Event{})
	copy(b.log[i+1:], b.log[i:])
	b.log[i] = ev
	if over := len(b.log) - b.logSize; over > 0 {
		b.log = append([]models.Event(nil), b.log[over:]...)
	}
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.Unlock()

	logger.V(1).Infof("events: #%d %s %+v", seq, name, payload)
	for _, h := range handlers {
		h(ev)
	}
}

// Events returns logged events, oldest first. An empty name returns all of them.
func (b *Bus) Events(name string) []models.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.Event, 0, len(b.log))
	for _, ev := range b.log {
		if name == "" || ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
