// Package sync drains the pending blink queue against the backend
// upload endpoint, one record at a time, stopping on the first failure.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	stdsync "sync"
	"sync/atomic"
	"time"

	"blinkd/internal/api"
	"blinkd/internal/buffer"
	"blinkd/internal/domain"
	"blinkd/internal/events"
	"blinkd/internal/store"
)

// Uploader is the slice of the backend client the engine needs.
type Uploader interface {
	UploadBlink(ctx context.Context, token string, rec domain.BlinkRecord) error
}

type Engine struct {
	buf    *buffer.Buffer
	st     store.Store
	client Uploader
	log    *events.Log

	// inFlight guards against overlapping passes; a re-entrant call is
	// a no-op rather than a second iterator over the same queue.
	inFlight atomic.Bool

	debounce time.Duration
	timerMu  stdsync.Mutex
	timer    *time.Timer
}

func NewEngine(buf *buffer.Buffer, st store.Store, client Uploader, evlog *events.Log, debounce time.Duration) *Engine {
	return &Engine{
		buf:      buf,
		st:       st,
		client:   client,
		log:      evlog,
		debounce: debounce,
	}
}

// SyncAll runs one full pass over the queue. Invalid records are removed
// without a network call; each accepted upload removes its record; the
// first rejected upload or network failure halts the pass. The queue is
// re-persisted when the pass ends however it ends.
func (e *Engine) SyncAll(ctx context.Context) error {
	if !e.inFlight.CompareAndSwap(false, true) {
		log.Printf("sync already in progress, skipping")
		return nil
	}
	defer e.inFlight.Store(false)

	token, err := e.st.LoadToken()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.log.SetStatus("Not logged in - data saved locally", false)
			return nil
		}
		return err
	}

	if e.buf.Len() == 0 {
		e.log.SetStatus("All data synced", false)
		return nil
	}

	uploaded := 0
	var halt error
	i := 0
	for {
		rec, ok := e.buf.Get(i)
		if !ok {
			break
		}
		if !rec.Valid() {
			log.Printf("dropping invalid queued record: %+v", rec)
			e.buf.RemoveAt(i)
			continue
		}

		err := e.client.UploadBlink(ctx, token, rec)
		if err == nil {
			e.buf.RemoveAt(i)
			uploaded++
			e.log.SetStatus(fmt.Sprintf("Synced to cloud (%d pending)", e.buf.Len()), false)
			continue
		}

		var statusErr *api.StatusError
		if errors.As(err, &statusErr) {
			e.log.SetStatus(fmt.Sprintf("Sync failed: HTTP %d", statusErr.Code), true)
		} else {
			e.log.SetStatus("Network error - will retry when online", true)
		}
		e.log.Append(domain.EventSyncFailed, map[string]interface{}{
			"error":   err.Error(),
			"pending": e.buf.Len(),
		})
		halt = err
		break
	}

	if err := e.buf.Persist(); err != nil {
		log.Printf("persist queue after sync pass: %v", err)
	}

	if halt == nil {
		e.log.SetStatus("All data synced", false)
		if uploaded > 0 {
			e.log.Append(domain.EventSyncCompleted, map[string]interface{}{
				"uploaded": uploaded,
			})
		}
	}
	return halt
}

// ScheduleSync arms a debounced sync so bursts of appended counts
// coalesce into one pass. A pending timer is pushed back, not doubled.
func (e *Engine) ScheduleSync() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = e.SyncAll(ctx)
	})
}

// Stop cancels any pending debounced sync.
func (e *Engine) Stop() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
