package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"blinkd/internal/domain"
)

func TestPublishSendsEvent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("X-Event-ID") != "evt-1" {
			t.Fatalf("X-Event-ID = %q", r.Header.Get("X-Event-ID"))
		}
		if r.Header.Get("X-Event-Type") != string(domain.EventSyncFailed) {
			t.Fatalf("X-Event-Type = %q", r.Header.Get("X-Event-Type"))
		}
		var event domain.Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if event.ID != "evt-1" {
			t.Fatalf("event = %+v", event)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	err := client.Publish(context.Background(), domain.Event{
		ID:   "evt-1",
		Type: domain.EventSyncFailed,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestPublishSurfacesCollectorRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	err := client.Publish(context.Background(), domain.Event{ID: "evt-2"})
	if err == nil {
		t.Fatal("collector 500 reported as success")
	}
}

func TestPublishUnconfiguredIsNoOp(t *testing.T) {
	client := NewClient("", time.Second)
	if err := client.Publish(context.Background(), domain.Event{ID: "x"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}
