package notify

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
)

// EventImageDownloaded is the type tag of ImageDownloaded events.
const EventImageDownloaded = "avatar.downloaded"

// ImageDownloaded is emitted once per successful cache install.
type ImageDownloaded struct {
	EventID   string                 `json:"event_id"`
	Path      string                 `json:"path"`
	CommentID string                 `json:"comment_id"`
	Record    profiles.ProfileRecord `json:"record"`
	At        time.Time              `json:"at"`
}

// Dispatcher fans events out to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan ImageDownloaded
}

// NewDispatcher constructs a Dispatcher with a per-subscriber buffer.
func NewDispatcher(bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Dispatcher{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a stream that is closed once ctx is done or cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan ImageDownloaded, func()) {
	sub := &subscriber{stream: make(chan ImageDownloaded, d.bufferSize)}

	d.mu.Lock()
	d.nextID++
	sub.id = d.nextID
	d.subscribers[sub.id] = sub
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, sub.id)
			close(sub.stream)
			d.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to every subscriber with buffer space.
func (d *Dispatcher) Publish(event ImageDownloaded) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subscribers {
		select {
		case sub.stream <- event:
		default:
		}
	}
}
