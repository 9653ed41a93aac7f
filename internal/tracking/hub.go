package tracking

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/metrics"
	"github.com/fieldsales/backend/pkg/logger"
)

// Location is one marketer position as broadcast on the live feed.
type Location struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	LastUpdate time.Time `json:"last_update"`
}

type subscriber struct {
	ch chan Location
}

// Hub fans location updates out to websocket subscribers. Slow subscribers drop updates
// rather than blocking the publisher.
type Hub struct {
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan Location
	done       chan struct{}
	buffer     int

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan Location, buffer),
		done:        make(chan struct{}),
		buffer:      buffer,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Run owns the subscriber set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	logger.Info("Location hub started")
	defer logger.Info("Location hub stopped")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.subscribers {
				close(s.ch)
				delete(h.subscribers, s)
			}
			h.mu.Unlock()
			metrics.LiveSubscribers.Set(0)
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = struct{}{}
			n := len(h.subscribers)
			h.mu.Unlock()
			metrics.LiveSubscribers.Set(float64(n))

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				close(s.ch)
			}
			n := len(h.subscribers)
			h.mu.Unlock()
			metrics.LiveSubscribers.Set(float64(n))

		case loc := <-h.broadcast:
			h.mu.Lock()
			for s := range h.subscribers {
				select {
				case s.ch <- loc:
				default:
					logger.Debug("Dropping location update for slow subscriber", zap.Int64("marketer_id", loc.ID))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Subscribe returns a feed of updates and a cancel func. The channel closes on cancel or
// when the hub stops.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Location, func()) {
	s := &subscriber{ch: make(chan Location, h.buffer)}
	select {
	case h.register <- s:
	case <-h.done:
		close(s.ch)
		return s.ch, func() {}
	case <-ctx.Done():
		close(s.ch)
		return s.ch, func() {}
	}

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			select {
			case h.unregister <- s:
			case <-h.done:
			}
		})
	}
}

// Publish never blocks; updates are dropped when the hub is saturated.
func (h *Hub) Publish(loc Location) {
	select {
	case h.broadcast <- loc:
	default:
		logger.Warn("Location hub saturated, dropping update", zap.Int64("marketer_id", loc.ID))
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
