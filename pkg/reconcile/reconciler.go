// Package reconcile runs the once-daily batched discovery check against the
// backend and guards the one-notification-per-day invariant.
package reconcile

import (
	"context"
	"time"

	"github.com/geoquest/geoquest/pkg"
	"github.com/geoquest/geoquest/pkg/api"
	"github.com/geoquest/geoquest/pkg/logx"
)

const (
	// RadiusM is the fixed proximity radius sent with every batch.
	RadiusM = 100.0

	// requestTimeout bounds the discovery-check call.
	requestTimeout = 15 * time.Second
)

// Backend performs the batched discovery check. Implemented by api.Client.
type Backend interface {
	CheckBatch(ctx context.Context, user pkg.UserContext, positions []pkg.LocationSample, radiusM float64) ([]api.Quiz, error)
}

// Dispatcher delivers the discovery notification.
type Dispatcher interface {
	NotifyDiscoveries(quizzes []api.Quiz)
}

// Recorder observes reconciliation outcomes. Implemented by metrics.Server.
type Recorder interface {
	RecordReconciliation(result string)
	RecordDiscoveries(n int)
}

// Reconciler sends buffered positions to the backend in one batch and
// notifies the user of newly discoverable quizzes, at most once per day.
type Reconciler struct {
	backend    Backend
	dispatcher Dispatcher
	state      *State
	user       pkg.UserProvider
	logger     *logx.Logger
	recorder   Recorder
	now        func() time.Time
}

// NewReconciler wires the reconciler over its collaborators.
func NewReconciler(backend Backend, dispatcher Dispatcher, state *State, user pkg.UserProvider, logger *logx.Logger) *Reconciler {
	return &Reconciler{
		backend:    backend,
		dispatcher: dispatcher,
		state:      state,
		user:       user,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the time source, used by tests.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// SetRecorder registers an outcome observer. Nil disables recording.
func (r *Reconciler) SetRecorder(rec Recorder) {
	r.recorder = rec
}

func (r *Reconciler) record(result string) {
	if r.recorder != nil {
		r.recorder.RecordReconciliation(result)
	}
}

// Reconcile checks the given samples against the backend. No-op when the
// batch is empty, when today's notification already fired, or when no user
// is signed in. Failures count as "no discoveries" and are swallowed: the
// next scheduled or foreground check naturally retries.
func (r *Reconciler) Reconcile(ctx context.Context, samples []pkg.LocationSample) {
	if len(samples) == 0 {
		r.logger.Debug("reconciliation skipped, no samples")
		r.record("skipped")
		return
	}

	today := pkg.DayKey(r.now())
	if r.state.NotificationSentDateKey() == today {
		r.logger.Debug("reconciliation skipped, notification already sent", "date", today)
		r.record("skipped")
		return
	}

	user := r.user()
	if !user.Valid() {
		r.logger.Debug("reconciliation skipped, no signed-in user")
		r.record("skipped")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	quizzes, err := r.backend.CheckBatch(ctx, *user, samples, RadiusM)
	if err != nil {
		r.logger.Warn("discovery check failed", "samples", len(samples), "error", err)
		r.record("error")
		return
	}

	if len(quizzes) == 0 {
		r.logger.Info("discovery check found nothing", "samples", len(samples), "date", today)
		r.record("empty")
		return
	}

	r.logger.Info("discoveries found",
		"count", len(quizzes),
		"samples", len(samples),
		"date", today,
	)
	r.dispatcher.NotifyDiscoveries(quizzes)
	r.state.MarkNotified(today)
	r.record("discovered")
	if r.recorder != nil {
		r.recorder.RecordDiscoveries(len(quizzes))
	}
}
