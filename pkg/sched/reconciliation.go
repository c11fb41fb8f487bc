package sched

import (
	"context"
	"time"

	"github.com/geoquest/geoquest/pkg"
	"github.com/geoquest/geoquest/pkg/buffer"
	"github.com/geoquest/geoquest/pkg/logx"
	"github.com/geoquest/geoquest/pkg/reconcile"
)

// The daily batch-check window. Each user gets a deterministic slot inside
// it so the server sees a flat load instead of a midnight thundering herd.
const (
	batchWindowStartHour = 10
	batchWindowMinutes   = 8 * 60 // [10:00, 18:00)
)

// Reconciler runs the batched discovery check against the backend.
type Reconciler interface {
	Reconcile(ctx context.Context, samples []pkg.LocationSample)
}

// ReconciliationScheduler arranges the once-daily discovery reconciliation:
// a repeating trigger at the user's hashed slot, plus an immediate check on
// app foreground when none has run yet today.
type ReconciliationScheduler struct {
	platform   Scheduler
	buf        *buffer.PositionBuffer
	reconciler Reconciler
	state      *reconcile.State
	logger     *logx.Logger
	now        func() time.Time
}

// NewReconciliationScheduler wires the scheduler over its collaborators.
func NewReconciliationScheduler(platform Scheduler, buf *buffer.PositionBuffer, reconciler Reconciler, state *reconcile.State, logger *logx.Logger) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		platform:   platform,
		buf:        buf,
		reconciler: reconciler,
		state:      state,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the time source, used by tests.
func (s *ReconciliationScheduler) SetClock(now func() time.Time) {
	s.now = now
}

// TargetTime returns the user's daily batch-check time for the day of ref.
func (s *ReconciliationScheduler) TargetTime(userID string, ref time.Time) time.Time {
	minute := SlotMinute(userID, batchWindowMinutes)
	ref = ref.Local()
	return time.Date(ref.Year(), ref.Month(), ref.Day(),
		batchWindowStartHour, 0, 0, 0, ref.Location()).
		Add(time.Duration(minute) * time.Minute)
}

// ScheduleDaily cancels any previously scheduled batch-check triggers and
// registers the repeating daily trigger at the user's slot.
func (s *ReconciliationScheduler) ScheduleDaily(userID string) error {
	s.platform.Cancel(TagDailyBatchCheck)

	target := s.TargetTime(userID, s.now())
	_, err := s.platform.At(TagDailyBatchCheck, target, true, s.runScheduled)
	if err != nil {
		s.logger.Warn("daily batch check scheduling failed", "error", err)
		return err
	}

	s.logger.Info("daily batch check scheduled",
		"user_id", userID,
		"target", target.Format("15:04"),
	)
	return nil
}

// runScheduled handles the daily trigger firing.
func (s *ReconciliationScheduler) runScheduled() {
	samples := s.buf.Samples()
	s.logger.Info("scheduled reconciliation triggered", "samples", len(samples))
	s.reconciler.Reconcile(context.Background(), samples)
}

// CheckIfDueOnForeground runs the reconciliation immediately if none has
// run yet today and the buffer holds at least one sample, then stamps the
// check for today. Running twice in one day (immediate plus scheduled) is
// acceptable: the reconciler is idempotent on the notification guarantee.
func (s *ReconciliationScheduler) CheckIfDueOnForeground(ctx context.Context) {
	today := pkg.DayKey(s.now())
	if s.state.LastCheckDateKey() == today {
		s.logger.Debug("foreground check already done today", "date", today)
		return
	}
	if s.buf.Len() == 0 {
		s.logger.Debug("foreground check skipped, empty buffer", "date", today)
		return
	}

	s.logger.Info("running foreground reconciliation", "date", today, "samples", s.buf.Len())
	s.reconciler.Reconcile(ctx, s.buf.Samples())
	s.state.MarkChecked(today)
}
