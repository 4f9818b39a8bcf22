package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"blinkd/internal/api"
	"blinkd/internal/buffer"
	"blinkd/internal/domain"
	"blinkd/internal/events"
	"blinkd/internal/store/memory"
)

func newEngine(t *testing.T, backend http.Handler) (*Engine, *buffer.Buffer, *memory.Store, *events.Log, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	st := memory.NewStore()
	buf := buffer.New(st)
	evlog := events.NewLog(50)
	client := api.NewClient(srv.URL, time.Second)
	return NewEngine(buf, st, client, evlog, 10*time.Millisecond), buf, st, evlog, srv
}

func okHandler(calls *int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]int{"id": 1})
	})
}

func TestSyncAll_DrainsQueueOnSuccess(t *testing.T) {
	var calls int32
	engine, buf, st, evlog, _ := newEngine(t, okHandler(&calls))
	_ = st.SaveToken("tok-1")
	for _, n := range []int{1, 5, 10} {
		buf.Append(domain.BlinkRecord{BlinkCount: n})
	}

	if err := engine.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", buf.Len())
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("upload calls = %d, want 3", calls)
	}
	persisted, _, _ := st.LoadQueue()
	if len(persisted) != 0 {
		t.Fatalf("persisted queue = %+v, want empty", persisted)
	}
	if s := evlog.Status(); s.Message != "All data synced" || s.Error {
		t.Fatalf("status = %+v", s)
	}
}

func TestSyncAll_FailFastOnRejectedUpload(t *testing.T) {
	var calls int32
	engine, buf, st, evlog, _ := newEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	_ = st.SaveToken("expired")
	for _, n := range []int{1, 2, 3} {
		buf.Append(domain.BlinkRecord{BlinkCount: n})
	}

	err := engine.SyncAll(context.Background())
	if err == nil {
		t.Fatal("expected halting error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("upload calls = %d, want 1 (fail fast)", calls)
	}
	if buf.Len() != 3 {
		t.Fatalf("queue len = %d, want 3 (failing record kept)", buf.Len())
	}
	persisted, _, _ := st.LoadQueue()
	if got, want := persisted, buf.Snapshot(); len(got) != len(want) {
		t.Fatalf("persisted queue = %+v, want %+v", got, want)
	} else {
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("persisted queue = %+v, want %+v", got, want)
			}
		}
	}
	s := evlog.Status()
	if !s.Error || s.Message != "Sync failed: HTTP 401" {
		t.Fatalf("status = %+v", s)
	}
}

func TestSyncAll_NetworkErrorStopsPass(t *testing.T) {
	st := memory.NewStore()
	buf := buffer.New(st)
	evlog := events.NewLog(50)
	client := api.NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	engine := NewEngine(buf, st, client, evlog, 10*time.Millisecond)

	_ = st.SaveToken("tok-1")
	buf.Append(domain.BlinkRecord{BlinkCount: 4})
	buf.Append(domain.BlinkRecord{BlinkCount: 8})

	if err := engine.SyncAll(context.Background()); err == nil {
		t.Fatal("expected halting error")
	}
	if buf.Len() != 2 {
		t.Fatalf("queue len = %d, want 2 untouched", buf.Len())
	}
	persisted, _, _ := st.LoadQueue()
	if len(persisted) != 2 || persisted[0] != buf.Snapshot()[0] || persisted[1] != buf.Snapshot()[1] {
		t.Fatalf("persisted queue = %+v, want %+v", persisted, buf.Snapshot())
	}
	s := evlog.Status()
	if !s.Error || s.Message != "Network error - will retry when online" {
		t.Fatalf("status = %+v", s)
	}
}

func TestSyncAll_EmptyQueueMakesNoCall(t *testing.T) {
	var calls int32
	engine, _, st, evlog, _ := newEngine(t, okHandler(&calls))
	_ = st.SaveToken("tok-1")

	if err := engine.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("upload calls = %d, want 0", calls)
	}
	if s := evlog.Status(); s.Message != "All data synced" {
		t.Fatalf("status = %+v", s)
	}
}

func TestSyncAll_NoTokenMakesNoCall(t *testing.T) {
	var calls int32
	engine, buf, _, evlog, _ := newEngine(t, okHandler(&calls))
	buf.Append(domain.BlinkRecord{BlinkCount: 7})

	if err := engine.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("upload calls = %d, want 0", calls)
	}
	if buf.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", buf.Len())
	}
	if s := evlog.Status(); s.Message != "Not logged in - data saved locally" || s.Error {
		t.Fatalf("status = %+v", s)
	}
}

func TestSyncAll_InvalidRecordNeverUploaded(t *testing.T) {
	var calls int32
	engine, buf, st, _, _ := newEngine(t, okHandler(&calls))
	_ = st.SaveToken("tok-1")
	// Seed the store as a corrupt persisted queue would look; Load
	// strips the invalid record before the pass touches the network.
	_ = st.SaveQueue([]domain.BlinkRecord{{BlinkCount: 3}, {BlinkCount: -1}, {BlinkCount: 7}})
	dropped, err := buf.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}

	if err := engine.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("upload calls = %d, want 2 (invalid record excluded)", calls)
	}
	if buf.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", buf.Len())
	}
}

func TestSyncAll_OverlappingPassIsNoOp(t *testing.T) {
	var calls int32
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"id": 1})
	}))
	t.Cleanup(srv.Close)

	st := memory.NewStore()
	buf := buffer.New(st)
	engine := NewEngine(buf, st, api.NewClient(srv.URL, 10*time.Second), events.NewLog(50), 10*time.Millisecond)
	_ = st.SaveToken("tok-1")
	buf.Append(domain.BlinkRecord{BlinkCount: 5})

	firstDone := make(chan error, 1)
	go func() { firstDone <- engine.SyncAll(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first pass never reached the backend")
	}

	// Second call while the first pass is mid-upload: no second
	// iterator over the queue, just an immediate nil.
	if err := engine.SyncAll(context.Background()); err != nil {
		t.Fatalf("overlapping SyncAll: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("upload calls = %d, want 1 (second pass must not run)", got)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", buf.Len())
	}
}

func TestScheduleSync_CoalescesBursts(t *testing.T) {
	var calls int32
	engine, buf, st, _, _ := newEngine(t, okHandler(&calls))
	_ = st.SaveToken("tok-1")
	buf.Append(domain.BlinkRecord{BlinkCount: 5})

	for i := 0; i < 5; i++ {
		engine.ScheduleSync()
	}
	deadline := time.Now().Add(2 * time.Second)
	for buf.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if buf.Len() != 0 {
		t.Fatal("debounced sync never ran")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("upload calls = %d, want 1 coalesced pass", got)
	}
}
