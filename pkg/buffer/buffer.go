// Package buffer maintains the capacity-bounded, date-scoped log of today's
// position samples.
package buffer

import (
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/geoquest/geoquest/pkg"
	"github.com/geoquest/geoquest/pkg/logx"
	"github.com/geoquest/geoquest/pkg/store"
)

// DefaultCapacity is the FIFO cap on retained samples per day.
const DefaultCapacity = 200

// DailyPositionLog holds one calendar day's samples. All samples belong to
// the day identified by DateKey.
type DailyPositionLog struct {
	DateKey string               `json:"date_key"`
	Samples []pkg.LocationSample `json:"samples"`
}

// PositionBuffer is an append-only, capacity-bounded store of today's
// samples, persisted after every mutation so it survives process restarts.
// Only "today" is ever retained; day rollover is detected lazily on record.
type PositionBuffer struct {
	mu       sync.Mutex
	log      DailyPositionLog
	capacity int
	store    store.Store
	logger   *logx.Logger
	now      func() time.Time

	// onRollover runs when a new calendar day resets the log, so the
	// reconciliation flags can be cleared alongside the samples.
	onRollover func()

	// onEvict receives the number of samples dropped by the FIFO cap.
	onEvict func(n int)
}

// Option configures a PositionBuffer.
type Option func(*PositionBuffer)

// WithCapacity overrides the FIFO cap.
func WithCapacity(n int) Option {
	return func(b *PositionBuffer) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *PositionBuffer) { b.now = now }
}

// WithRolloverHook registers a callback invoked on day rollover.
func WithRolloverHook(fn func()) Option {
	return func(b *PositionBuffer) { b.onRollover = fn }
}

// WithEvictionHook registers a callback invoked with the number of samples
// dropped whenever the FIFO cap trims the log.
func WithEvictionHook(fn func(n int)) Option {
	return func(b *PositionBuffer) { b.onEvict = fn }
}

// New creates a position buffer persisting through st.
func New(st store.Store, logger *logx.Logger, opts ...Option) *PositionBuffer {
	b := &PositionBuffer{
		capacity: DefaultCapacity,
		store:    st,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log.DateKey = pkg.DayKey(b.now())
	return b
}

// Record appends a sample to today's log. If the log belongs to an earlier
// day it is first reset and the rollover hook fires. Persisted best-effort
// after the mutation.
func (b *PositionBuffer) Record(sample pkg.LocationSample) {
	b.mu.Lock()

	today := pkg.DayKey(b.now())
	if b.log.DateKey != today {
		b.logger.Info("position log day rollover", "from", b.log.DateKey, "to", today)
		b.log = DailyPositionLog{DateKey: today}
		if b.onRollover != nil {
			b.onRollover()
		}
	}

	b.log.Samples = append(b.log.Samples, sample)
	evicted := len(b.log.Samples) - b.capacity
	if evicted > 0 {
		// FIFO eviction, keep the most recent.
		copy(b.log.Samples, b.log.Samples[evicted:])
		b.log.Samples = b.log.Samples[:b.capacity]
	}
	b.mu.Unlock()

	if evicted > 0 && b.onEvict != nil {
		b.onEvict(evicted)
	}

	b.Persist()
}

// Samples returns a copy of today's samples.
func (b *PositionBuffer) Samples() []pkg.LocationSample {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]pkg.LocationSample, len(b.log.Samples))
	copy(out, b.log.Samples)
	return out
}

// Len returns the number of buffered samples.
func (b *PositionBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.log.Samples)
}

// DateKey returns the calendar day the buffer currently covers.
func (b *PositionBuffer) DateKey() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.log.DateKey
}

// Reset discards all buffered samples and clears the persisted log.
func (b *PositionBuffer) Reset() {
	b.mu.Lock()
	b.log = DailyPositionLog{DateKey: pkg.DayKey(b.now())}
	b.mu.Unlock()

	if err := b.store.Delete(store.KeyDailyPositionLog); err != nil {
		b.logger.Warn("position log clear failed", "error", err)
	}
}

// Persist writes the full log to durable storage under the fixed key.
// Failures are logged and the in-memory buffer continues without durability.
func (b *PositionBuffer) Persist() {
	b.mu.Lock()
	blob, err := json.Marshal(b.log)
	b.mu.Unlock()
	if err != nil {
		b.logger.Warn("position log encode failed", "error", err)
		return
	}
	if err := b.store.Put(store.KeyDailyPositionLog, blob); err != nil {
		b.logger.Warn("position log persist failed", "error", err)
	}
}

// Restore loads the persisted log on startup. A log from an earlier day is
// discarded and its storage cleared; only a log matching today is loaded.
func (b *PositionBuffer) Restore() {
	blob, err := b.store.Get(store.KeyDailyPositionLog)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		b.logger.Warn("position log restore failed", "error", err)
		return
	}

	var stored DailyPositionLog
	if err := json.Unmarshal(blob, &stored); err != nil {
		b.logger.Warn("position log decode failed", "error", err)
		b.Reset()
		return
	}

	today := pkg.DayKey(b.now())
	if stored.DateKey != today {
		b.logger.Info("discarding stale position log", "stored", stored.DateKey, "today", today)
		b.Reset()
		if b.onRollover != nil {
			b.onRollover()
		}
		return
	}

	b.mu.Lock()
	b.log = stored
	evicted := len(b.log.Samples) - b.capacity
	if evicted > 0 {
		copy(b.log.Samples, b.log.Samples[evicted:])
		b.log.Samples = b.log.Samples[:b.capacity]
	}
	count := len(b.log.Samples)
	b.mu.Unlock()

	if evicted > 0 && b.onEvict != nil {
		b.onEvict(evicted)
	}

	b.logger.Info("position log restored", "date", today, "samples", count)
}
