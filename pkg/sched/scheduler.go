// Package sched arranges deferred wakeups and the once-daily reconciliation
// check, spreading per-user work across a fixed time-of-day window.
package sched

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geoquest/geoquest/pkg/logx"
)

// Trigger tags. The daily batch check is the pseudo-cron wakeup for
// reconciliation; the discovery tag carries the user-facing notification.
const (
	TagDailyBatchCheck = "daily_batch_check"
	TagDailyDiscovery  = "daily_discovery"
)

// Scheduler arranges for fn to run at a wall-clock time, optionally
// repeating every 24 hours. Implementations stand in for the mobile OS
// local-notification trigger used as a pseudo-cron.
type Scheduler interface {
	// At registers fn under tag and returns the trigger id. A time in the
	// past fires immediately (or, when repeating, rolls to tomorrow).
	At(tag string, at time.Time, repeats bool, fn func()) (string, error)

	// Cancel removes every pending trigger registered under tag.
	Cancel(tag string)
}

// TimerScheduler is a Scheduler backed by in-process timers.
type TimerScheduler struct {
	mu      sync.Mutex
	logger  *logx.Logger
	pending map[string]*trigger // id -> trigger
	now     func() time.Time
}

type trigger struct {
	id      string
	tag     string
	repeats bool
	timer   *time.Timer
	fn      func()
}

// NewTimerScheduler creates a timer-backed scheduler.
func NewTimerScheduler(logger *logx.Logger) *TimerScheduler {
	return &TimerScheduler{
		logger:  logger,
		pending: make(map[string]*trigger),
		now:     time.Now,
	}
}

// At registers fn to run at the given time.
func (s *TimerScheduler) At(tag string, at time.Time, repeats bool, fn func()) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr := &trigger{
		id:      uuid.NewString(),
		tag:     tag,
		repeats: repeats,
		fn:      fn,
	}

	delay := at.Sub(s.now())
	if delay < 0 {
		if repeats {
			delay += 24 * time.Hour
		} else {
			delay = 0
		}
	}

	tr.timer = time.AfterFunc(delay, func() { s.fire(tr.id) })
	s.pending[tr.id] = tr

	s.logger.Debug("trigger scheduled",
		"tag", tag,
		"id", tr.id,
		"at", at.Format(time.RFC3339),
		"repeats", repeats,
	)
	return tr.id, nil
}

// fire runs a due trigger and re-arms it when repeating.
func (s *TimerScheduler) fire(id string) {
	s.mu.Lock()
	tr, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if tr.repeats {
		tr.timer = time.AfterFunc(24*time.Hour, func() { s.fire(id) })
	} else {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.logger.Debug("trigger fired", "tag", tr.tag, "id", id)
	tr.fn()
}

// Cancel stops all triggers under tag.
func (s *TimerScheduler) Cancel(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, tr := range s.pending {
		if tr.tag != tag {
			continue
		}
		tr.timer.Stop()
		delete(s.pending, id)
		s.logger.Debug("trigger cancelled", "tag", tag, "id", id)
	}
}

// Stop cancels every pending trigger.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, tr := range s.pending {
		tr.timer.Stop()
		delete(s.pending, id)
	}
}

// PendingCount reports how many triggers are armed under tag.
func (s *TimerScheduler) PendingCount(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, tr := range s.pending {
		if tr.tag == tag {
			n++
		}
	}
	return n
}
