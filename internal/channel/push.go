package channel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub fans real-time events out to per-user SSE streams. A user may hold
// several streams at once (one per open session); events address the user,
// not the stream.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[chan []byte]bool
	log     *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		streams: make(map[string]map[chan []byte]bool),
		log:     log,
	}
}

// Subscribe registers a stream for the user and returns the event channel
// plus a cancel function that must be called when the stream closes.
func (h *Hub) Subscribe(userID string) (<-chan []byte, func()) {
	ch := make(chan []byte, 8)

	h.mu.Lock()
	if h.streams[userID] == nil {
		h.streams[userID] = make(map[chan []byte]bool)
	}
	h.streams[userID][ch] = true
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if m := h.streams[userID]; m != nil {
			delete(m, ch)
			if len(m) == 0 {
				delete(h.streams, userID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// EmitToUser delivers an event to every open stream of the user. A user
// with no open streams is not an error; the push channel is best-effort.
// Slow streams are skipped rather than blocked on.
func (h *Hub) EmitToUser(userID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))

	h.mu.RLock()
	streams := h.streams[userID]
	for ch := range streams {
		select {
		case ch <- frame:
		default:
			h.log.WithField("user", userID).Warn("push stream backed up, dropping event")
		}
	}
	h.mu.RUnlock()
	return nil
}

// StreamCount reports how many open streams the user has.
func (h *Hub) StreamCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[userID])
}

// Serve streams events for the user over the response until the client
// disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.Subscribe(userID)
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-events:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
