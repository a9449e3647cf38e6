package webhook

import (
	"sync"
	"time"

	"wabridge/internal/metrics"
)

// Event names streamed to subscribers.
const (
	EventMessage = "message"
	EventAck     = "ack"
	EventStatus  = "status"
	EventState   = "state"
)

// Event is one notification on the live stream.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	Time  int64       `json:"time"`
}

// Hub fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64
	bufferSize  int
	closed      bool
	now         func() time.Time
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		subscribers: make(map[uint64]chan Event),
		bufferSize:  bufferSize,
		now:         time.Now,
	}
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.bufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	count := len(h.subscribers)
	h.mu.Unlock()
	metrics.SetGauge("event_subscribers", float64(count), nil, "Connected live event subscribers")

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(ch)
			}
			count := len(h.subscribers)
			h.mu.Unlock()
			metrics.SetGauge("event_subscribers", float64(count), nil, "Connected live event subscribers")
		})
	}
}

// Publish delivers an event to every subscriber.
func (h *Hub) Publish(name string, data interface{}) {
	if h == nil {
		return
	}
	evt := Event{Event: name, Data: data, Time: h.now().UnixMilli()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- evt:
		default:
			metrics.IncrementCounter("events_dropped_total", map[string]string{"event": name}, "Live events dropped for slow subscribers")
		}
	}
}

// Subscribers returns the number of connected listeners.
func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close ends every subscription and rejects new ones. Used on shutdown
// because hijacked websocket connections outlive http.Server.Shutdown.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
	metrics.SetGauge("event_subscribers", 0, nil, "Connected live event subscribers")
}
