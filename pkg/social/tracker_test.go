package social

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geoquest/geoquest/pkg"
	"github.com/geoquest/geoquest/pkg/api"
	"github.com/geoquest/geoquest/pkg/logx"
)

// 0.000899 degrees of latitude is roughly 100 m.
const (
	baseLat = 59.3293
	baseLon = 18.0686

	latPer100M = 0.000899
)

type fakeSource struct {
	mu      sync.Mutex
	ch      chan pkg.LocationSample
	started int
}

func (f *fakeSource) Start(config pkg.TrackingConfig) (<-chan pkg.LocationSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	f.ch = make(chan pkg.LocationSample, 16)
	return f.ch, nil
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch != nil {
		close(f.ch)
		f.ch = nil
	}
}

func (f *fakeSource) push(sample pkg.LocationSample) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- sample
}

type sentCall struct {
	lat, lon, speed float64
}

type fakeBackend struct {
	mu     sync.Mutex
	err    error
	resp   api.SocialResponse
	calls  []sentCall
	notify chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{notify: make(chan struct{}, 32)}
}

func (f *fakeBackend) UpdateSocialPosition(ctx context.Context, user pkg.UserContext, latitude, longitude, speedKmh float64) (*api.SocialResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sentCall{latitude, longitude, speedKmh})
	err := f.err
	resp := f.resp
	f.mu.Unlock()
	f.notify <- struct{}{}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) lastCall() sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func waitForSend(t *testing.T, b *fakeBackend) {
	t.Helper()
	select {
	case <-b.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for backend call")
	}
}

func signedIn() *pkg.UserContext {
	return &pkg.UserContext{UserID: "user-1", AuthToken: "token-1"}
}

func sampleAt(lat, lon, speedKmh float64, at time.Time) pkg.LocationSample {
	return pkg.LocationSample{
		Latitude:    lat,
		Longitude:   lon,
		Accuracy:    5,
		SpeedKmh:    speedKmh,
		TimestampMs: at.UnixMilli(),
	}
}

func newTestTracker(t *testing.T, backend Backend, user pkg.UserProvider, onUpdate UpdateFunc) (*Tracker, *fakeSource) {
	t.Helper()
	src := &fakeSource{}
	logger := logx.New("error")
	tr := NewTracker(src, backend, user, onUpdate, logger)
	return tr, src
}

// seed installs a last-sent position directly, letting the gating rules be
// exercised without network round trips.
func seed(tr *Tracker, s pkg.LocationSample, sentAt time.Time) {
	tr.mu.Lock()
	tr.state.LastSent = &SentPosition{LocationSample: s, SentAt: sentAt.UnixMilli()}
	tr.mu.Unlock()
}

func TestShouldSendFirstSample(t *testing.T) {
	tr, _ := newTestTracker(t, newFakeBackend(), signedIn, nil)
	now := time.Now()

	if !tr.ShouldSend(sampleAt(baseLat, baseLon, 0, now)) {
		t.Error("first sample should always be sent")
	}
}

func TestShouldSendRules(t *testing.T) {
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local)
	sent := sampleAt(baseLat, baseLon, 4, base)

	tests := []struct {
		name      string
		candidate pkg.LocationSample
		want      bool
	}{
		{
			name:      "insignificant change stays pending",
			candidate: sampleAt(baseLat+latPer100M/2, baseLon, 5, base.Add(10*time.Second)),
			want:      false,
		},
		{
			name:      "staleness beyond ceiling",
			candidate: sampleAt(baseLat, baseLon, 4, base.Add(121*time.Second)),
			want:      true,
		},
		{
			name:      "staleness exactly at ceiling",
			candidate: sampleAt(baseLat, baseLon, 4, base.Add(120*time.Second)),
			want:      false,
		},
		{
			name:      "distance beyond threshold",
			candidate: sampleAt(baseLat+latPer100M*1.5, baseLon, 4, base.Add(10*time.Second)),
			want:      true,
		},
		{
			name:      "speed delta beyond threshold",
			candidate: sampleAt(baseLat, baseLon, 10, base.Add(10*time.Second)),
			want:      true,
		},
		{
			name:      "stop to move transition",
			candidate: sampleAt(baseLat, baseLon, 2.5, base.Add(10*time.Second)),
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracker(t, newFakeBackend(), signedIn, nil)
			seed(tr, sent, base)
			if tt.name == "stop to move transition" {
				stopped := sent
				stopped.SpeedKmh = 0.5
				seed(tr, stopped, base)
			}
			if got := tr.ShouldSend(tt.candidate); got != tt.want {
				t.Errorf("ShouldSend() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldSendStalenessMonotonic(t *testing.T) {
	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local)
	tr, _ := newTestTracker(t, newFakeBackend(), signedIn, nil)
	seed(tr, sampleAt(baseLat, baseLon, 0, base), base)

	sent := false
	for elapsed := 0 * time.Second; elapsed <= 300*time.Second; elapsed += 15 * time.Second {
		got := tr.ShouldSend(sampleAt(baseLat, baseLon, 0, base.Add(elapsed)))
		if sent && !got {
			t.Fatalf("ShouldSend flipped back to false at elapsed %v", elapsed)
		}
		if got {
			sent = true
		}
	}
	if !sent {
		t.Error("ShouldSend never became true as staleness grew")
	}
}

func TestSignificantSampleSendsImmediately(t *testing.T) {
	backend := newFakeBackend()
	backend.resp = api.SocialResponse{IsVisible: true}

	var got *api.SocialResponse
	var mu sync.Mutex
	tr, src := newTestTracker(t, backend, signedIn, func(r *api.SocialResponse) {
		mu.Lock()
		got = r
		mu.Unlock()
	})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	src.push(sampleAt(baseLat, baseLon, 3, time.Now()))
	waitForSend(t, backend)

	call := backend.lastCall()
	if call.lat != baseLat || call.lon != baseLon || call.speed != 3 {
		t.Errorf("backend got %+v", call)
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil || !got.IsVisible {
		t.Errorf("update callback got %+v, want visible response", got)
	}
}

func TestInsignificantSampleBecomesPendingThenFlushes(t *testing.T) {
	backend := newFakeBackend()
	tr, src := newTestTracker(t, backend, signedIn, nil)
	tr.flushEvery = 50 * time.Millisecond

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	now := time.Now()
	src.push(sampleAt(baseLat, baseLon, 0, now))
	waitForSend(t, backend)

	// 50 m, 1 km/h, 10 s later: trips nothing.
	src.push(sampleAt(baseLat+latPer100M/2, baseLon, 1, now.Add(10*time.Second)))

	deadline := time.Now().Add(time.Second)
	for tr.State().Pending == nil {
		if time.Now().After(deadline) {
			t.Fatal("sample never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if backend.callCount() != 1 {
		t.Fatalf("backend calls = %d before flush, want 1", backend.callCount())
	}

	waitForSend(t, backend)
	call := backend.lastCall()
	if call.speed != 1 {
		t.Errorf("flush sent %+v, want the pending sample", call)
	}
	if tr.State().Pending != nil {
		t.Error("pending update not cleared after flush")
	}
}

// sendRecorder captures send decisions
type sendRecorder struct {
	mu         sync.Mutex
	triggers   []string
	suppressed int
}

func (s *sendRecorder) RecordSocialSend(trigger string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, trigger)
}

func (s *sendRecorder) RecordSocialSuppressed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed++
}

func TestSendDecisionsRecorded(t *testing.T) {
	backend := newFakeBackend()
	rec := &sendRecorder{}
	tr, src := newTestTracker(t, backend, signedIn, nil)
	tr.SetRecorder(rec)
	tr.flushEvery = 50 * time.Millisecond

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	now := time.Now()
	src.push(sampleAt(baseLat, baseLon, 0, now))
	waitForSend(t, backend)

	// Insignificant: held back, then flushed.
	src.push(sampleAt(baseLat+latPer100M/2, baseLon, 1, now.Add(10*time.Second)))
	waitForSend(t, backend)

	// The recorder fires just after the backend call returns.
	deadline := time.Now().Add(time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.triggers)
		rec.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recorded %d triggers, want 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.triggers[0] != "immediate" || rec.triggers[1] != "flush" {
		t.Errorf("recorded triggers = %v, want [immediate flush]", rec.triggers)
	}
	if rec.suppressed != 1 {
		t.Errorf("recorded suppressions = %d, want 1", rec.suppressed)
	}
}

func TestSendFailureKeepsLastSentStale(t *testing.T) {
	backend := newFakeBackend()
	backend.err = errors.New("socket timeout")

	tr, src := newTestTracker(t, backend, signedIn, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	src.push(sampleAt(baseLat, baseLon, 3, time.Now()))
	waitForSend(t, backend)

	if tr.State().LastSent != nil {
		t.Error("failed send recorded a last-sent position")
	}

	// Recovery: the next sample still counts as a first send.
	backend.mu.Lock()
	backend.err = nil
	backend.mu.Unlock()

	src.push(sampleAt(baseLat, baseLon, 3, time.Now()))
	waitForSend(t, backend)

	deadline := time.Now().Add(time.Second)
	for tr.State().LastSent == nil {
		if time.Now().After(deadline) {
			t.Fatal("successful send never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSignedOutSkipsSend(t *testing.T) {
	backend := newFakeBackend()
	tr, src := newTestTracker(t, backend, func() *pkg.UserContext { return nil }, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	src.push(sampleAt(baseLat, baseLon, 3, time.Now()))

	time.Sleep(50 * time.Millisecond)
	if backend.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0 while signed out", backend.callCount())
	}
}

func TestDerivesSpeedWhenPlatformOmitsIt(t *testing.T) {
	backend := newFakeBackend()
	tr, src := newTestTracker(t, backend, signedIn, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()

	now := time.Now()
	src.push(sampleAt(baseLat, baseLon, 0, now))
	waitForSend(t, backend)

	// ~200 m in 10 s with no platform speed: derived ~72 km/h.
	src.push(sampleAt(baseLat+latPer100M*2, baseLon, 0, now.Add(10*time.Second)))
	waitForSend(t, backend)

	call := backend.lastCall()
	if call.speed < 60 || call.speed > 85 {
		t.Errorf("derived speed = %.1f km/h, want roughly 72", call.speed)
	}
}

func TestStopSafeWhenNeverStarted(t *testing.T) {
	tr, src := newTestTracker(t, newFakeBackend(), signedIn, nil)
	tr.Stop()
	tr.Stop()

	if src.started != 0 {
		t.Errorf("source started %d times, want 0", src.started)
	}
}

func TestStartTwiceStartsSourceOnce(t *testing.T) {
	tr, src := newTestTracker(t, newFakeBackend(), signedIn, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tr.Stop()
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.started != 1 {
		t.Errorf("source started %d times, want 1", src.started)
	}
}
