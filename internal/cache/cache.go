// Package cache implements a sharded in-memory key/value store with per-entry
// time-to-live, lazy eviction on read and a periodic background sweep.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

const numShards = 32

// Entry is a stored value together with its write time and lifetime.
type Entry[V any] struct {
	Value     V
	WrittenAt time.Time
	TTL       time.Duration
}

// expired reports whether the entry is logically absent at now.
// A non-positive TTL never expires.
func (e Entry[V]) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.WrittenAt) > e.TTL
}

// Stats is a point-in-time view of the store used for observability.
type Stats struct {
	Total   int    `json:"total"`
	Valid   int    `json:"valid"`
	Expired int    `json:"expired"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Store is safe for concurrent use. Keys are string-like so they can be hashed
// to a shard; callers use a dedicated key type rather than raw strings.
type Store[K ~string, V any] struct {
	now func() time.Time
	log zerolog.Logger

	shards [numShards]shard[K, V]

	hits   atomic.Uint64
	misses atomic.Uint64

	janitorMu sync.Mutex
	janitor   *gocron.Scheduler
}

type shard[K ~string, V any] struct {
	mu sync.RWMutex
	m  map[K]Entry[V]
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now func() time.Time
	log zerolog.Logger
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used by the background sweep.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// New creates an empty store.
func New[K ~string, V any](opts ...Option) *Store[K, V] {
	o := options{now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store[K, V]{now: o.now, log: o.log}
	for i := range s.shards {
		s.shards[i].m = make(map[K]Entry[V])
	}
	return s
}

// Set stores value under key, replacing any previous entry and its TTL.
func (s *Store[K, V]) Set(key K, value V, ttl time.Duration) {
	sh := s.pick(key)
	e := Entry[V]{Value: value, WrittenAt: s.now(), TTL: ttl}

	sh.mu.Lock()
	sh.m[key] = e
	sh.mu.Unlock()
}

// Get returns the value for key. Expired entries are reported absent and removed.
func (s *Store[K, V]) Get(key K) (V, bool) {
	v, ok := s.lookup(key)
	if ok {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return v, ok
}

// Has reports whether Get would return a value for key. It applies the same
// expiration and eviction as Get but does not count towards hit/miss stats.
func (s *Store[K, V]) Has(key K) bool {
	_, ok := s.lookup(key)
	return ok
}

// Peek is Get without touching the hit/miss counters.
func (s *Store[K, V]) Peek(key K) (V, bool) {
	return s.lookup(key)
}

func (s *Store[K, V]) lookup(key K) (V, bool) {
	var zero V
	sh := s.pick(key)

	sh.mu.RLock()
	e, ok := sh.m[key]
	sh.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !e.expired(s.now()) {
		return e.Value, true
	}

	sh.mu.Lock()
	// a concurrent Set may have replaced the entry since the read lock was released
	if cur, ok := sh.m[key]; ok && cur.expired(s.now()) {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
	return zero, false
}

// Delete removes key if present.
func (s *Store[K, V]) Delete(key K) {
	sh := s.pick(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

// Clear removes every entry. Hit and miss counters are kept.
func (s *Store[K, V]) Clear() {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.m = make(map[K]Entry[V])
		sh.mu.Unlock()
	}
}

// Sweep evicts every expired entry and returns how many were removed.
// Shards are locked one at a time.
func (s *Store[K, V]) Sweep() int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		now := s.now()
		sh.mu.Lock()
		for k, e := range sh.m {
			if e.expired(now) {
				delete(sh.m, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Stats counts entries by validity and reports hit/miss counters.
func (s *Store[K, V]) Stats() Stats {
	var st Stats
	now := s.now()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, e := range sh.m {
			st.Total++
			if e.expired(now) {
				st.Expired++
			} else {
				st.Valid++
			}
		}
		sh.mu.RUnlock()
	}
	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	return st
}

// StartJanitor runs Sweep every interval until Stop is called.
// Calling it on a store whose janitor is already running is a no-op.
func (s *Store[K, V]) StartJanitor(interval time.Duration) error {
	s.janitorMu.Lock()
	defer s.janitorMu.Unlock()

	if s.janitor != nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}

	sched := gocron.NewScheduler(time.UTC)
	sched.SingletonModeAll()
	_, err := sched.Every(interval).WaitForSchedule().Do(func() {
		if n := s.Sweep(); n > 0 {
			s.log.Debug().Int("evicted", n).Msg("cache sweep")
		}
	})
	if err != nil {
		return err
	}

	sched.StartAsync()
	s.janitor = sched
	return nil
}

// Stop halts the background sweep. It is safe to call more than once.
func (s *Store[K, V]) Stop() {
	s.janitorMu.Lock()
	defer s.janitorMu.Unlock()

	if s.janitor != nil {
		s.janitor.Stop()
		s.janitor = nil
	}
}

func (s *Store[K, V]) pick(key K) *shard[K, V] {
	h := xxhash.Sum64String(string(key))
	return &s.shards[h&(numShards-1)]
}
