package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/agro-forecast/internal/weather"
)

var (
	// ErrNotFound is returned when no observations are available for a location.
	ErrNotFound = errors.New("no weather observations for location")
)

// history holds a time-ordered list of observations for a location.
type history struct {
	observations []weather.Observation
}

// MemoryStore is a concurrency-safe in-memory observation store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key
	data map[string]*history

	// retention configuration
	maxHistory int           // max number of observations per location
	maxAge     time.Duration // optional max age for observations
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*history),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveObservation appends an observation for a location and enforces retention.
func (s *MemoryStore) SaveObservation(loc weather.Location, obs weather.Observation) {
	key := loc.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[key]
	if !ok {
		h = &history{}
		s.data[key] = h
	}

	h.observations = append(h.observations, obs)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(h.observations) > s.maxHistory {
		over := len(h.observations) - s.maxHistory
		h.observations = h.observations[over:]
	}

	// Enforce retention by age. The newest observation is always kept.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(h.observations)-1; i++ {
			if !h.observations[i].Timestamp.Before(cutoff) {
				break
			}
		}
		h.observations = h.observations[i:]
	}
}

// GetLatest returns the most recent observation for a location.
func (s *MemoryStore) GetLatest(loc weather.Location) (weather.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[loc.Key()]
	if !ok || len(h.observations) == 0 {
		return weather.Observation{}, ErrNotFound
	}
	return h.observations[len(h.observations)-1], nil
}

// GetRange returns all observations for a location between from and to (inclusive).
func (s *MemoryStore) GetRange(loc weather.Location, from, to time.Time) ([]weather.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[loc.Key()]
	if !ok || len(h.observations) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.Observation
	for _, obs := range h.observations {
		if !obs.Timestamp.Before(from) && !obs.Timestamp.After(to) {
			result = append(result, obs)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
