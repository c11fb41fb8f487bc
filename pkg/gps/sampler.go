// Package gps wraps the platform continuous-location primitive and manages
// the foreground/background sampling profiles.
package gps

import (
	"fmt"
	"sync"

	"github.com/geoquest/geoquest/pkg"
	"github.com/geoquest/geoquest/pkg/logx"
)

// State represents the tracking state machine:
// inactive -> starting -> active -> inactive, with an active self-loop on
// mode switch via a stop/start pair. Failures return to inactive; there is
// no error terminal state.
type State string

const (
	StateInactive State = "inactive"
	StateStarting State = "starting"
	StateActive   State = "active"
)

// Source is the platform continuous-location primitive. Start begins
// delivering fixes configured by the given profile; the channel is closed
// by Stop. Start returns pkg.ErrPermissionDenied (wrapped) when the
// platform refuses the location capability.
type Source interface {
	Start(config pkg.TrackingConfig) (<-chan pkg.LocationSample, error)
	Stop()
}

// SampleFunc receives each delivered location sample.
type SampleFunc func(pkg.LocationSample)

// Sampler delivers location samples from a Source under the profile
// selected for the current mode.
type Sampler struct {
	mu       sync.Mutex
	source   Source
	logger   *logx.Logger
	onSample SampleFunc

	mode  pkg.Mode
	state State
	gen   int // invalidates the delivery goroutine of a stopped run
}

// NewSampler creates a sampler over the given source. Samples are delivered
// to onSample from a single goroutine per run.
func NewSampler(source Source, onSample SampleFunc, logger *logx.Logger) *Sampler {
	return &Sampler{
		source:   source,
		logger:   logger,
		onSample: onSample,
		mode:     pkg.ModeForeground,
		state:    StateInactive,
	}
}

// Configure selects the profile for mode. Takes effect on the next Start;
// use SwitchMode to reconfigure a running sampler.
func (s *Sampler) Configure(mode pkg.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Mode returns the currently selected mode.
func (s *Sampler) Mode() pkg.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// State returns the current tracking state.
func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins continuous sampling. Starting an already active sampler is a
// no-op. On platform refusal the state remains inactive and the error is
// returned to the caller once, not retried.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Sampler) startLocked() error {
	if s.state != StateInactive {
		return nil
	}

	s.state = StateStarting
	config := pkg.ConfigForMode(s.mode)

	ch, err := s.source.Start(config)
	if err != nil {
		s.state = StateInactive
		s.logger.Warn("location source start failed", "mode", s.mode, "error", err)
		return fmt.Errorf("start tracking: %w", err)
	}

	s.state = StateActive
	s.gen++
	gen := s.gen
	mode := s.mode

	s.logger.Info("tracking started",
		"mode", mode,
		"interval", config.TimeInterval,
		"distance_filter_m", config.DistanceFilterM,
	)

	go s.deliver(ch, mode, gen)
	return nil
}

// deliver forwards samples until the source channel closes, dropping any
// delivery that outlives its run.
func (s *Sampler) deliver(ch <-chan pkg.LocationSample, mode pkg.Mode, gen int) {
	for sample := range ch {
		s.mu.Lock()
		stale := s.gen != gen || s.state != StateActive
		s.mu.Unlock()
		if stale {
			return
		}

		sample.Mode = mode
		s.onSample(sample)
	}
}

// Stop halts delivery and releases the platform subscription. Idempotent:
// stopping an inactive sampler is a no-op.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Sampler) stopLocked() {
	if s.state == StateInactive {
		return
	}
	s.gen++
	s.state = StateInactive
	s.source.Stop()
	s.logger.Info("tracking stopped", "mode", s.mode)
}

// SwitchMode reconfigures a running sampler for newMode via a stop/start
// pair; the brief gap in coverage is accepted. No-op when newMode equals
// the current mode or tracking is inactive.
func (s *Sampler) SwitchMode(newMode pkg.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newMode == s.mode || s.state != StateActive {
		s.mode = newMode
		return nil
	}

	s.logger.Info("switching tracking mode", "from", s.mode, "to", newMode)
	s.stopLocked()
	s.mode = newMode
	return s.startLocked()
}
