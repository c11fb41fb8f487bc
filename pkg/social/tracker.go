// Package social reports the user's position to the social endpoint in near
// real time, throttling sends with a composite significance test.
package social

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/geoquest/geoquest/pkg"
	"github.com/geoquest/geoquest/pkg/api"
	"github.com/geoquest/geoquest/pkg/geo"
	"github.com/geoquest/geoquest/pkg/gps"
	"github.com/geoquest/geoquest/pkg/logx"
)

// Send gating thresholds. A candidate position goes out immediately when
// any rule trips; otherwise it waits as the single pending update for the
// next flush.
const (
	StalenessCeiling       = 120 * time.Second
	DistanceThresholdM     = 100.0
	SpeedDeltaThresholdKmh = 5.0

	flushInterval = 30 * time.Second
)

// samplingProfile is the fixed short-interval profile for social tracking,
// independent of the foreground/background mode controller.
var samplingProfile = pkg.TrackingConfig{
	Accuracy:        pkg.AccuracyHigh,
	TimeInterval:    5 * time.Second,
	DistanceFilterM: 5,
}

// SentPosition is a transmitted sample plus its send timestamp
type SentPosition struct {
	pkg.LocationSample
	SentAt int64 `json:"sent_at"`
}

// PositionState holds the tracker's in-memory position bookkeeping. Not
// persisted: social presence restarts fresh with the process.
type PositionState struct {
	LastKnown *pkg.LocationSample
	LastSent  *SentPosition
	Pending   *pkg.LocationSample
}

// Backend performs the social position update. Implemented by api.Client.
type Backend interface {
	UpdateSocialPosition(ctx context.Context, user pkg.UserContext, latitude, longitude, speedKmh float64) (*api.SocialResponse, error)
}

// UpdateFunc receives the server's answer to each successful send.
type UpdateFunc func(*api.SocialResponse)

// Recorder observes send decisions. Implemented by metrics.Server.
type Recorder interface {
	RecordSocialSend(trigger string)
	RecordSocialSuppressed()
}

// Tracker samples position at a short fixed interval and sends significant
// changes to the social endpoint.
type Tracker struct {
	source   gps.Source
	backend  Backend
	user     pkg.UserProvider
	onUpdate UpdateFunc
	logger   *logx.Logger
	recorder Recorder
	now      func() time.Time

	flushEvery time.Duration

	mu      sync.Mutex
	state   PositionState
	running bool
	gen     int // invalidates callbacks from a stopped run
	stopCh  chan struct{}
}

// NewTracker creates a social tracker. onUpdate may be nil.
func NewTracker(source gps.Source, backend Backend, user pkg.UserProvider, onUpdate UpdateFunc, logger *logx.Logger) *Tracker {
	return &Tracker{
		source:   source,
		backend:  backend,
		user:     user,
		onUpdate: onUpdate,
		logger:   logger,
		now:      time.Now,

		flushEvery: flushInterval,
	}
}

// SetClock overrides the time source, used by tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// SetRecorder registers a send-decision observer. Nil disables recording.
func (t *Tracker) SetRecorder(rec Recorder) {
	t.recorder = rec
}

// State returns a copy of the current position bookkeeping.
func (t *Tracker) State() PositionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start begins continuous sampling and the periodic pending-update flush.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}

	ch, err := t.source.Start(samplingProfile)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("start social tracking: %w", err)
	}

	t.running = true
	t.gen++
	gen := t.gen
	t.stopCh = make(chan struct{})
	stopCh := t.stopCh
	t.mu.Unlock()

	t.logger.Info("social tracking started", "interval", samplingProfile.TimeInterval)

	go t.consume(ctx, ch, gen)
	go t.flushLoop(ctx, stopCh, gen)
	return nil
}

// Stop halts sampling and the flush timer. Safe to call when never started.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.gen++
	close(t.stopCh)
	t.state.Pending = nil
	t.mu.Unlock()

	t.source.Stop()
	t.logger.Info("social tracking stopped")
}

// consume processes raw samples until the source channel closes.
func (t *Tracker) consume(ctx context.Context, ch <-chan pkg.LocationSample, gen int) {
	for sample := range ch {
		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		candidate := t.buildCandidate(sample)
		t.state.LastKnown = &candidate
		send := t.shouldSendLocked(candidate)
		if send {
			t.state.Pending = nil
		} else {
			t.state.Pending = &candidate
		}
		t.mu.Unlock()

		if send {
			t.send(ctx, candidate, gen, "immediate")
		} else if t.recorder != nil {
			t.recorder.RecordSocialSuppressed()
		}
	}
}

// buildCandidate fills in speed when the platform did not supply one,
// deriving it from displacement over elapsed time. Caller holds the lock.
func (t *Tracker) buildCandidate(sample pkg.LocationSample) pkg.LocationSample {
	if sample.SpeedKmh == 0 && t.state.LastKnown != nil {
		sample.SpeedKmh = geo.DeriveSpeedKmh(*t.state.LastKnown, sample)
	}
	return sample
}

// shouldSendLocked is the composite significance test. Caller holds the lock.
func (t *Tracker) shouldSendLocked(candidate pkg.LocationSample) bool {
	last := t.state.LastSent
	if last == nil {
		return true
	}

	elapsed := time.Duration(candidate.TimestampMs-last.SentAt) * time.Millisecond
	if elapsed > StalenessCeiling {
		return true
	}

	if geo.SampleDistanceM(last.LocationSample, candidate) > DistanceThresholdM {
		return true
	}

	if math.Abs(candidate.SpeedKmh-last.SpeedKmh) > SpeedDeltaThresholdKmh {
		return true
	}

	if geo.IsMoving(candidate.SpeedKmh) != geo.IsMoving(last.SpeedKmh) {
		return true
	}

	return false
}

// ShouldSend reports whether candidate would be sent immediately given the
// current state.
func (t *Tracker) ShouldSend(candidate pkg.LocationSample) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shouldSendLocked(candidate)
}

// flushLoop periodically sends the pending update, guaranteeing liveness
// for positions that never trip the significance test.
func (t *Tracker) flushLoop(ctx context.Context, stopCh chan struct{}, gen int) {
	ticker := time.NewTicker(t.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			pending := t.state.Pending
			t.state.Pending = nil
			t.mu.Unlock()

			if pending != nil {
				t.send(ctx, *pending, gen, "flush")
			}
		}
	}
}

// send posts the position. On success it records the sent position and
// invokes the update callback; on failure the last-sent reference stays
// stale, biasing the next candidate toward re-sending sooner.
func (t *Tracker) send(ctx context.Context, sample pkg.LocationSample, gen int, trigger string) {
	user := t.user()
	if !user.Valid() {
		t.logger.Debug("social send skipped, no signed-in user")
		return
	}

	resp, err := t.backend.UpdateSocialPosition(ctx, *user, sample.Latitude, sample.Longitude, sample.SpeedKmh)
	if err != nil {
		t.logger.Warn("social position send failed", "error", err)
		return
	}

	t.mu.Lock()
	if t.gen != gen {
		// Tracker was stopped while the request was in flight.
		t.mu.Unlock()
		return
	}
	t.state.LastSent = &SentPosition{LocationSample: sample, SentAt: t.now().UnixMilli()}
	t.mu.Unlock()

	if t.recorder != nil {
		t.recorder.RecordSocialSend(trigger)
	}
	t.logger.Debug("social position sent",
		"lat", sample.Latitude,
		"lon", sample.Longitude,
		"speed_kmh", sample.SpeedKmh,
		"nearby", len(resp.NearbyUsers),
	)

	if t.onUpdate != nil {
		t.onUpdate(resp)
	}
}
