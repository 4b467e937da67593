package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/sheetsync/internal/events"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/desertthunder/sheetsync/internal/transfer"
)

type fakeQueue struct {
	live []transfer.Status
}

func (f *fakeQueue) Live() []transfer.Status { return f.live }
func (f *fakeQueue) Concurrency() int        { return 3 }

type fakeBus struct {
	mu         sync.Mutex
	key        models.MediaKey
	handler    events.Handler
	subscribed chan struct{}
	released   chan struct{}
}

func newFakeBus() *fakeBus {
	return &fakeBus{subscribed: make(chan struct{}, 1), released: make(chan struct{}, 1)}
}

func (f *fakeBus) Subscribe(ctx context.Context, topic string, handler events.Handler) (func(), error) {
	return f.SubscribeKey(ctx, topic, "", handler)
}

func (f *fakeBus) SubscribeKey(_ context.Context, _ string, key models.MediaKey, handler events.Handler) (func(), error) {
	f.mu.Lock()
	f.key = key
	f.handler = handler
	f.mu.Unlock()
	f.subscribed <- struct{}{}
	return func() { f.released <- struct{}{} }, nil
}

func (f *fakeBus) publish(e events.Event) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	handler(e)
}

func TestBasicRouter(t *testing.T) {
	t.Run("applies middleware in order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		}))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
		if strings.Join(order, ",") != "first,second,handler" {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("rejects other methods", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ping", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("recovers panics", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Recoverer(shared.NewLogger(nil)))
		r.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestStatusHandler(t *testing.T) {
	b := models.NewRemoteTrack("qq", "b", "Song B", "Artist")
	a := models.NewRemoteTrack("qq", "a", "Song A", "Artist")
	queue := &fakeQueue{live: []transfer.Status{
		{Track: b, State: transfer.StateDone, Progress: 1},
		{Track: a, State: transfer.StateDownloading, Phase: transfer.PhaseDownload, Progress: 0.5, Transferred: 50, Total: 100},
	}}
	router := NewStatusRouter(queue, newFakeBus(), shared.NewLogger(nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %s", ct)
	}

	var view StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if view.Concurrency != 3 || view.Active != 1 || len(view.Transfers) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Transfers[0].Key != a.Key() || view.Transfers[0].Transferred != 50 {
		t.Errorf("expected transfers sorted by key, got %+v", view.Transfers)
	}
}

func TestStreamHandler(t *testing.T) {
	t.Run("relays events until the client leaves", func(t *testing.T) {
		bus := newFakeBus()
		srv := httptest.NewServer(NewStatusRouter(&fakeQueue{}, bus, shared.NewLogger(nil)))
		defer srv.Close()

		key := models.NewRemoteTrack("qq", "1", "Song", "Artist").Key()
		resp, err := http.Get(srv.URL + "/events?key=" + key.String())
		if err != nil {
			t.Fatalf("GET /events: %v", err)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("expected event stream, got %s", ct)
		}

		select {
		case <-bus.subscribed:
		case <-time.After(2 * time.Second):
			t.Fatal("handler never subscribed")
		}
		if bus.key != key {
			t.Errorf("expected subscription filtered to %s, got %s", key, bus.key)
		}

		bus.publish(events.Event{ID: "1", Topic: events.TopicTransferStatus, Key: key, Payload: []byte(`{"state":"done"}`)})

		lines := make(chan string, 8)
		go func() {
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()

		want := []string{"id: 1", "event: transfer", `data: {"state":"done"}`}
		for _, w := range want {
			select {
			case got := <-lines:
				if got != w {
					t.Errorf("expected %q, got %q", w, got)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for %q", w)
			}
		}

		resp.Body.Close()
		select {
		case <-bus.released:
		case <-time.After(2 * time.Second):
			t.Fatal("subscription not released after disconnect")
		}
	})
}

// stalledWriter is a streaming response whose body writes block until gate closes.
type stalledWriter struct {
	header http.Header
	gate   chan struct{}
}

func (w *stalledWriter) Header() http.Header { return w.header }
func (w *stalledWriter) WriteHeader(int)     {}
func (w *stalledWriter) Flush()              {}

func (w *stalledWriter) Write(p []byte) (int, error) {
	<-w.gate
	return len(p), nil
}

func TestStreamHandlerSlowClient(t *testing.T) {
	bus := newFakeBus()
	h := NewStreamHandler(bus, shared.NewLogger(nil))
	w := &stalledWriter{header: http.Header{}, gate: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	served := make(chan struct{})
	go func() {
		defer close(served)
		h.ServeHTTP(w, req)
	}()
	<-bus.subscribed

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := range 200 {
			bus.publish(events.Event{ID: strconv.Itoa(i), Topic: events.TopicTransferStatus, Payload: []byte(`{}`)})
		}
	}()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a client that stopped reading")
	}

	cancel()
	close(w.gate)
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the request ended")
	}
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), shared.NewLogger(nil))
	}()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
