package gps

import (
	"math/rand"
	"sync"
	"time"

	"github.com/geoquest/geoquest/pkg"
)

// SimSource is a simulated location source for hosts without real location
// hardware. It produces a random walk from a starting coordinate at the
// profile's configured interval.
type SimSource struct {
	mu      sync.Mutex
	lat     float64
	lon     float64
	stepM   float64
	rng     *rand.Rand
	ch      chan pkg.LocationSample
	stopCh  chan struct{}
	running bool
}

// NewSimSource creates a simulated source walking from the given coordinate
// with roughly stepM meters between fixes.
func NewSimSource(lat, lon, stepM float64) *SimSource {
	return &SimSource{
		lat:   lat,
		lon:   lon,
		stepM: stepM,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start begins emitting simulated fixes at the profile interval.
func (s *SimSource) Start(config pkg.TrackingConfig) (<-chan pkg.LocationSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.stopLocked()
	}

	s.ch = make(chan pkg.LocationSample, 1)
	s.stopCh = make(chan struct{})
	s.running = true

	go s.run(config, s.ch, s.stopCh)
	return s.ch, nil
}

func (s *SimSource) run(config pkg.TrackingConfig, ch chan pkg.LocationSample, stopCh chan struct{}) {
	ticker := time.NewTicker(config.TimeInterval)
	defer ticker.Stop()
	defer close(ch)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			select {
			case <-stopCh:
				return
			case ch <- s.next(config):
			}
		}
	}
}

// next advances the walk by one step. One degree of latitude is ~111km.
func (s *SimSource) next(config pkg.TrackingConfig) pkg.LocationSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	degStep := s.stepM / 111_000
	s.lat += (s.rng.Float64()*2 - 1) * degStep
	s.lon += (s.rng.Float64()*2 - 1) * degStep

	accuracy := 10.0
	if config.Accuracy == pkg.AccuracyBalanced {
		accuracy = 50.0
	}

	return pkg.LocationSample{
		Latitude:    s.lat,
		Longitude:   s.lon,
		Accuracy:    accuracy,
		SpeedKmh:    s.stepM / config.TimeInterval.Seconds() * 3.6,
		TimestampMs: time.Now().UnixMilli(),
	}
}

// Stop halts the simulated feed and closes the sample channel.
func (s *SimSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *SimSource) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}
