package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sheetsync/internal/events"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/transfer"
)

// Queue is the part of [transfer.Queue] the status endpoint reads.
type Queue interface {
	Live() []transfer.Status
	Concurrency() int
}

// Subscriber is the part of [events.Bus] the event stream reads.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler events.Handler) (func(), error)
	SubscribeKey(ctx context.Context, topic string, key models.MediaKey, handler events.Handler) (func(), error)
}

// TransferView is the JSON form of one [transfer.Status].
type TransferView struct {
	Key         models.MediaKey `json:"key"`
	Title       string          `json:"title"`
	Artist      string          `json:"artist"`
	State       transfer.State  `json:"state"`
	Phase       transfer.Phase  `json:"phase,omitempty"`
	Progress    float64         `json:"progress"`
	Transferred int64           `json:"transferred"`
	Total       int64           `json:"total"`
}

// StatusView is the body of GET /status.
type StatusView struct {
	Concurrency int            `json:"concurrency"`
	Active      int            `json:"active"`
	Transfers   []TransferView `json:"transfers"`
}

// StatusHandler serves the live queue status.
type StatusHandler struct {
	queue Queue
}

func NewStatusHandler(queue Queue) *StatusHandler {
	return &StatusHandler{queue: queue}
}

func (h *StatusHandler) Routes() []string {
	return []string{"GET /status"}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	live := h.queue.Live()
	view := StatusView{Concurrency: h.queue.Concurrency(), Transfers: make([]TransferView, 0, len(live))}
	for _, s := range live {
		if !s.State.IsTerminal() {
			view.Active++
		}
		view.Transfers = append(view.Transfers, TransferView{
			Key:         s.Track.Key(),
			Title:       s.Track.Title,
			Artist:      s.Track.Artist,
			State:       s.State,
			Phase:       s.Phase,
			Progress:    s.Progress,
			Transferred: s.Transferred,
			Total:       s.Total,
		})
	}
	slices.SortFunc(view.Transfers, func(a, b TransferView) int { return strings.Compare(string(a.Key), string(b.Key)) })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// StreamHandler relays transfer events as Server-Sent Events.
type StreamHandler struct {
	bus    Subscriber
	logger *log.Logger
}

func NewStreamHandler(bus Subscriber, logger *log.Logger) *StreamHandler {
	return &StreamHandler{bus: bus, logger: logger}
}

func (h *StreamHandler) Routes() []string {
	return []string{"GET /events"}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	ch := make(chan events.Event, 64)
	// A client that cannot keep up loses events rather than stalling the bus.
	forward := func(e events.Event) {
		select {
		case ch <- e:
		default:
			h.logger.Debug("Dropping event for slow client", "id", e.ID, "key", e.Key)
		}
	}

	var unsubscribe func()
	var err error
	if key := r.URL.Query().Get("key"); key != "" {
		unsubscribe, err = h.bus.SubscribeKey(ctx, events.TopicTransferStatus, models.MediaKey(key), forward)
	} else {
		unsubscribe, err = h.bus.Subscribe(ctx, events.TopicTransferStatus, forward)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			if _, err := fmt.Fprintf(w, "id: %s\nevent: transfer\ndata: %s\n\n", e.ID, e.Payload); err != nil {
				h.logger.Debug("Event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// NewStatusRouter wires the status and event endpoints behind logging and panic recovery.
func NewStatusRouter(queue Queue, bus Subscriber, logger *log.Logger) *BasicRouter {
	r := NewBasicRouter()
	r.Use(Recoverer(logger), RequestLogger(logger))
	r.Handler(NewStatusHandler(queue))
	r.Handler(NewStreamHandler(bus, logger))
	return r
}
