package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"streamthumb/internal/logger"
)

// PreviewUpdate announces that a stream's preview thumbnail changed
type PreviewUpdate struct {
	ID           string    `json:"id"`
	StreamKey    string    `json:"stream_key"`
	ThumbnailURL string    `json:"thumbnail_url"`
	At           time.Time `json:"at"`
}

// Hub fans preview updates out to local observers. Publishing never blocks;
// slow subscribers drop updates.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan PreviewUpdate]struct{}
}

// NewHub creates a new preview update hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan PreviewUpdate]struct{}),
	}
}

// Subscribe registers a new observer channel
func (h *Hub) Subscribe() chan PreviewUpdate {
	ch := make(chan PreviewUpdate, 8)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	logger.WithComponent("dispatch").Debug().
		Int("subscribers", count).
		Msg("Observer subscribed")
	return ch
}

// Unsubscribe removes an observer channel and closes it
func (h *Hub) Unsubscribe(ch chan PreviewUpdate) {
	h.mu.Lock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// PublishPreview broadcasts a preview change to all observers
func (h *Hub) PublishPreview(streamKey, thumbnailURL string) {
	update := PreviewUpdate{
		ID:           uuid.NewString(),
		StreamKey:    streamKey,
		ThumbnailURL: thumbnailURL,
		At:           time.Now(),
	}

	h.mu.RLock()
	for ch := range h.subscribers {
		select {
		case ch <- update:
		default:
			// Subscriber is slow, skip this update
		}
	}
	h.mu.RUnlock()

	logger.WithComponent("dispatch").Debug().
		Str("stream_key", streamKey).
		Str("update_id", update.ID).
		Msg("Preview update published")
}
