package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pv/labacq-go/internal/acquisition"
)

func TestSSEHubAddRemove(t *testing.T) {
	hub := NewSSEHub()

	if hub.ClientCount() != 0 {
		t.Fatalf("fresh hub has %d clients", hub.ClientCount())
	}

	a := hub.AddClient("")
	b := hub.AddClient("psu-1")
	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}

	hub.RemoveClient(a)
	hub.RemoveClient(b)
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after removal, got %d", hub.ClientCount())
	}

	// double remove must be harmless
	hub.RemoveClient(a)
}

func TestSSEHubBroadcastFiltering(t *testing.T) {
	hub := NewSSEHub()

	all := hub.AddClient("")
	psu := hub.AddClient("psu-1")
	scope := hub.AddClient("scope-1")

	hub.BroadcastSample("psu-1", "voltage", acquisition.Sample{Value: 12.5, Timestamp: 1.0})

	select {
	case ev := <-all.events:
		if ev.Type != "sample" || ev.EquipmentID != "psu-1" || ev.Channel != "voltage" {
			t.Errorf("unexpected event for unfiltered client: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("unfiltered client got no event")
	}

	select {
	case ev := <-psu.events:
		if ev.EquipmentID != "psu-1" {
			t.Errorf("unexpected event for psu client: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("matching filtered client got no event")
	}

	select {
	case ev := <-scope.events:
		t.Errorf("non-matching client received %+v", ev)
	default:
	}
}

func TestSSEHubStateEventsPassEquipmentFilter(t *testing.T) {
	hub := NewSSEHub()

	// state events carry no equipment, so equipment-filtered clients skip them
	filtered := hub.AddClient("psu-1")
	all := hub.AddClient("")

	hub.BroadcastState("sess-1", acquisition.StateCreated, acquisition.StateAcquiring)

	select {
	case ev := <-all.events:
		if ev.Type != "state" || ev.SessionID != "sess-1" {
			t.Errorf("unexpected state event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("unfiltered client got no state event")
	}

	select {
	case ev := <-filtered.events:
		t.Errorf("filtered client received state event %+v", ev)
	default:
	}
}

func TestSSEHubSlowClientDoesNotBlock(t *testing.T) {
	hub := NewSSEHub()
	hub.AddClient("") // nobody drains this channel

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.BroadcastSample("psu-1", "voltage", acquisition.Sample{Value: float64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestSSEHubConcurrentAccess(t *testing.T) {
	hub := NewSSEHub()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c := hub.AddClient("psu-1")
				hub.BroadcastSample("psu-1", "v", acquisition.Sample{Value: 1})
				hub.RemoveClient(c)
			}
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("expected empty hub, got %d clients", hub.ClientCount())
	}
}

func TestHandleSSEStream(t *testing.T) {
	env := setupTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/events?equipment=psu-1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.server.ServeHTTP(rec, req)
	}()

	hub := env.handlers.GetSSEHub()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("SSE client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	hub.BroadcastSample("psu-1", "voltage", acquisition.Sample{Value: 3.3, Timestamp: 0.25})

	// let the handler drain and flush the queued event before disconnecting
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit on context cancellation")
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: connected") {
		t.Error("stream is missing the connected event")
	}
	if !strings.Contains(body, "event: sample") {
		t.Error("stream is missing the broadcast sample")
	}
	if !strings.Contains(body, `"equipment":"psu-1"`) {
		t.Errorf("sample event payload malformed: %s", body)
	}

	if hub.ClientCount() != 0 {
		t.Errorf("client not removed after disconnect, count %d", hub.ClientCount())
	}
}
