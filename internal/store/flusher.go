package store

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultFlushDelay is the quiet period before a dirty store is written
// to disk. Bursts of mutations within the window coalesce into one
// write.
const DefaultFlushDelay = time.Second

// Flusher debounces snapshot writes behind a dirty flag. MarkDirty
// schedules a flush after the quiet period; FlushNow forces a
// synchronous write and is safe to call redundantly.
type Flusher struct {
	mu     sync.Mutex
	delay  time.Duration
	flush  func() error
	logger *zap.Logger

	dirty  bool
	timer  *time.Timer
	closed bool
}

// NewFlusher wraps flush with a debounce of the given delay. A
// non-positive delay falls back to DefaultFlushDelay.
func NewFlusher(delay time.Duration, flush func() error, logger *zap.Logger) *Flusher {
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	return &Flusher{delay: delay, flush: flush, logger: logger}
}

// MarkDirty records a pending mutation and (re)schedules the flush.
func (f *Flusher) MarkDirty() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.dirty = true

	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.delay, func() {
		if err := f.FlushNow(); err != nil {
			f.logger.Warn("debounced flush failed", zap.Error(err))
		}
	})
}

// FlushNow writes immediately if there is anything pending. Redundant
// calls are no-ops.
func (f *Flusher) FlushNow() error {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if !f.dirty {
		f.mu.Unlock()
		return nil
	}
	f.dirty = false
	f.mu.Unlock()

	if err := f.flush(); err != nil {
		f.mu.Lock()
		f.dirty = true
		f.mu.Unlock()
		return err
	}
	return nil
}

// Close performs a final synchronous flush and rejects further
// scheduling.
func (f *Flusher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.FlushNow()
}
