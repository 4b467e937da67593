package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
)

type status struct {
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
}

func TestBus(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers in publish order", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		var mu sync.Mutex
		var got []float64
		unsubscribe, err := bus.Subscribe(ctx, TopicTransferStatus, func(e Event) {
			var s status
			if err := e.Decode(&s); err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			mu.Lock()
			got = append(got, s.Progress)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}

		key := models.NewMediaKey("qq", "1")
		for i := range 10 {
			if err := bus.Publish(TopicTransferStatus, key, status{State: "downloading", Progress: float64(i) / 10}); err != nil {
				t.Fatalf("Publish: %v", err)
			}
		}
		unsubscribe()

		mu.Lock()
		defer mu.Unlock()
		if len(got) != 10 {
			t.Fatalf("expected 10 events, got %d", len(got))
		}
		for i := 1; i < len(got); i++ {
			if got[i] < got[i-1] {
				t.Errorf("events out of order: %v", got)
				break
			}
		}
	})

	t.Run("carries media key in metadata", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		key := models.NewMediaKey("qq", "42")
		received := make(chan Event, 1)
		unsubscribe, err := bus.Subscribe(ctx, TopicTransferStatus, func(e Event) { received <- e })
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		defer unsubscribe()

		if err := bus.Publish(TopicTransferStatus, key, status{State: "done"}); err != nil {
			t.Fatalf("Publish: %v", err)
		}

		select {
		case e := <-received:
			if e.Key != key {
				t.Errorf("expected key %s, got %s", key, e.Key)
			}
			if e.Topic != TopicTransferStatus {
				t.Errorf("expected topic %s, got %s", TopicTransferStatus, e.Topic)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filters by key", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		want := models.NewMediaKey("qq", "1")
		var mu sync.Mutex
		var keys []models.MediaKey
		unsubscribe, err := bus.SubscribeKey(ctx, TopicTransferStatus, want, func(e Event) {
			mu.Lock()
			keys = append(keys, e.Key)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("SubscribeKey: %v", err)
		}

		bus.Publish(TopicTransferStatus, models.NewMediaKey("qq", "2"), status{})
		bus.Publish(TopicTransferStatus, want, status{})
		bus.Publish(TopicTransferStatus, models.NewMediaKey("qq", "3"), status{})
		unsubscribe()

		mu.Lock()
		defer mu.Unlock()
		if len(keys) != 1 || keys[0] != want {
			t.Errorf("expected only %s, got %v", want, keys)
		}
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		var mu sync.Mutex
		count := 0
		unsubscribe, err := bus.Subscribe(ctx, TopicSheetsChanged, func(e Event) {
			mu.Lock()
			count++
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}

		bus.Publish(TopicSheetsChanged, "", map[string]int{"changes": 1})
		unsubscribe()
		unsubscribe()
		bus.Publish(TopicSheetsChanged, "", map[string]int{"changes": 2})

		mu.Lock()
		defer mu.Unlock()
		if count != 1 {
			t.Errorf("expected 1 event, got %d", count)
		}
	})

	t.Run("stalled handler does not block publishers", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		gate := make(chan struct{})
		var mu sync.Mutex
		count := 0
		unsubscribe, err := bus.Subscribe(ctx, TopicTransferStatus, func(e Event) {
			<-gate
			mu.Lock()
			count++
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}

		published := make(chan struct{})
		go func() {
			defer close(published)
			for range 50 {
				bus.Publish(TopicTransferStatus, "", status{State: "downloading"})
			}
		}()

		select {
		case <-published:
		case <-time.After(2 * time.Second):
			t.Fatal("publish blocked on a stalled handler")
		}

		close(gate)
		unsubscribe()

		mu.Lock()
		defer mu.Unlock()
		if count != 50 {
			t.Errorf("expected 50 buffered events delivered, got %d", count)
		}
	})

	t.Run("full subscriber buffer drops new events", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		gate := make(chan struct{})
		var mu sync.Mutex
		count := 0
		unsubscribe, err := bus.Subscribe(ctx, TopicTransferStatus, func(e Event) {
			<-gate
			mu.Lock()
			count++
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}

		total := SubscriberBuffer + 10
		for range total {
			bus.Publish(TopicTransferStatus, "", status{State: "downloading"})
		}
		close(gate)
		unsubscribe()

		mu.Lock()
		defer mu.Unlock()
		if count >= total || count < SubscriberBuffer {
			t.Errorf("expected between %d and %d events, got %d", SubscriberBuffer, total-1, count)
		}
	})

	t.Run("publish without subscribers", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		if err := bus.Publish(TopicTransferStatus, "", status{}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("publish after close is dropped", func(t *testing.T) {
		bus := NewBus(nil)
		if err := bus.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := bus.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
		if err := bus.Publish(TopicTransferStatus, "", status{}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unencodable payload", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		if err := bus.Publish(TopicTransferStatus, "", make(chan int)); err == nil {
			t.Error("expected encode error")
		}
	})
}

func TestLoggerAdapter(t *testing.T) {
	t.Run("inherits fields and logs trace at debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := shared.NewLogger(&buf)
		shared.SetLogLevel(logger, log.DebugLevel)

		adapter := NewLoggerAdapter(logger).With(watermill.LogFields{"topic": "transfer.status"})
		adapter.Info("subscribed", watermill.LogFields{"subscriber": 1})
		adapter.Trace("sending", nil)

		out := buf.String()
		if !strings.Contains(out, "subscribed") || !strings.Contains(out, "topic=transfer.status") {
			t.Errorf("expected message with inherited field, got %q", out)
		}
		if !strings.Contains(out, "sending") {
			t.Errorf("expected trace logged at debug, got %q", out)
		}
	})

	t.Run("info is quiet at the default level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := shared.NewLogger(&buf)
		shared.SetLogLevel(logger, log.InfoLevel)

		adapter := NewLoggerAdapter(logger)
		adapter.Info("Subscribing to Pub/Sub topic", watermill.LogFields{"topic": "transfer.status"})
		adapter.Error("Publish failed", errors.New("closed"), nil)

		out := buf.String()
		if strings.Contains(out, "Subscribing") {
			t.Errorf("expected watermill info hidden at info level, got %q", out)
		}
		if !strings.Contains(out, "Publish failed") {
			t.Errorf("expected errors logged, got %q", out)
		}
	})

	t.Run("bus lifecycle is silent at the default level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := shared.NewLogger(&buf)
		shared.SetLogLevel(logger, log.InfoLevel)

		bus := NewBus(logger)
		unsubscribe, err := bus.Subscribe(context.Background(), TopicSheetsChanged, func(Event) {})
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		bus.Publish(TopicSheetsChanged, "", map[string]int{"changes": 1})
		unsubscribe()
		bus.Close()

		if out := buf.String(); out != "" {
			t.Errorf("expected no output, got %q", out)
		}
	})
}
