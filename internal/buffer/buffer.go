// Package buffer holds the ordered queue of blink records waiting to be
// uploaded. Every mutation is mirrored to the persistence backend so the
// queue survives restarts.
package buffer

import (
	"log"
	"slices"
	"sync"

	"blinkd/internal/domain"
	"blinkd/internal/store"
)

type Buffer struct {
	mu    sync.Mutex
	st    store.Store
	queue []domain.BlinkRecord
}

func New(st store.Store) *Buffer {
	return &Buffer{st: st}
}

// Load reads the persisted queue, strips any record failing the
// non-negative-count invariant and re-persists the cleaned result.
// Returns how many records were dropped.
func (b *Buffer) Load() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	records, dropped, err := b.st.LoadQueue()
	if err != nil {
		return 0, err
	}
	cleaned := records[:0]
	for _, rec := range records {
		if !rec.Valid() {
			dropped++
			continue
		}
		cleaned = append(cleaned, rec)
	}
	b.queue = cleaned
	if dropped > 0 {
		if err := b.st.SaveQueue(b.queue); err != nil {
			return dropped, err
		}
	}
	return dropped, nil
}

// Append queues a record and persists. Invalid records are silently
// dropped; the return value says whether the record was accepted.
func (b *Buffer) Append(rec domain.BlinkRecord) bool {
	if !rec.Valid() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, rec)
	if err := b.st.SaveQueue(b.queue); err != nil {
		log.Printf("persist queue after append: %v", err)
	}
	return true
}

// RemoveAt removes exactly one element, preserving the order of the
// remainder, and persists.
func (b *Buffer) RemoveAt(i int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.queue) {
		return
	}
	b.queue = append(b.queue[:i], b.queue[i+1:]...)
	if err := b.st.SaveQueue(b.queue); err != nil {
		log.Printf("persist queue after remove: %v", err)
	}
}

// Get returns the record at index i, if present.
func (b *Buffer) Get(i int) (domain.BlinkRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.queue) {
		return domain.BlinkRecord{}, false
	}
	return b.queue[i], true
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Buffer) Snapshot() []domain.BlinkRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.queue)
}

// Persist rewrites the current queue to the backend. Mutations already
// persist themselves; this is the end-of-sync-pass mirror write.
func (b *Buffer) Persist() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.SaveQueue(b.queue)
}
