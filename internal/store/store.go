// Package store keeps the values each node owns. A value lives at the node
// whose key is the first at or after the hash of its name, and is stored
// there under the name itself.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

// DefaultCleanupInterval is how often expired values are swept when the
// config leaves it unset.
const DefaultCleanupInterval = time.Minute

// Config holds the value store settings.
type Config struct {
	CleanupInterval time.Duration
}

// Stats counts store activity.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Deletes   int64 `json:"deletes"`
	Evictions int64 `json:"evictions"`
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is one node's in-memory value table with per-value TTL. It is safe
// for concurrent use.
type Store struct {
	mu     sync.RWMutex
	data   map[string]entry
	ticker *time.Ticker
	done   chan struct{}
	closed atomic.Bool

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
}

// New creates a store and starts its expiry sweeper. A nil config uses
// DefaultCleanupInterval.
func New(cfg *Config) *Store {
	interval := DefaultCleanupInterval
	if cfg != nil && cfg.CleanupInterval > 0 {
		interval = cfg.CleanupInterval
	}

	s := &Store{
		data:   make(map[string]entry),
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return pkg.ErrStoreClosed
	}
	return nil
}

// Get returns a copy of the value stored under name.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	e, ok := s.data[name]
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return nil, fmt.Errorf("%q: %w", name, pkg.ErrValueNotFound)
	}
	if e.expired(time.Now()) {
		s.mu.Lock()
		if cur, ok := s.data[name]; ok && cur.expired(time.Now()) {
			delete(s.data, name)
			s.evictions.Add(1)
		}
		s.mu.Unlock()
		s.misses.Add(1)
		return nil, fmt.Errorf("%q: %w", name, pkg.ErrValueNotFound)
	}

	s.hits.Add(1)
	return slices.Clone(e.value), nil
}

// Set stores value under name. A zero ttl never expires.
func (s *Store) Set(ctx context.Context, name string, value []byte, ttl time.Duration) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.data[name] = entry{value: slices.Clone(value), expiresAt: expiresAt}
	s.mu.Unlock()

	s.sets.Add(1)
	return nil
}

// Delete removes name. Deleting a missing name is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.data, name)
	s.mu.Unlock()

	s.deletes.Add(1)
	return nil
}

// Stats returns current counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	entries := len(s.data)
	s.mu.RUnlock()

	return Stats{
		Entries:   entries,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Sets:      s.sets.Load(),
		Deletes:   s.deletes.Load(),
		Evictions: s.evictions.Load(),
	}
}

// Close stops the sweeper and drops all values. It is idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.ticker.Stop()
	close(s.done)

	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}

func (s *Store) sweep() {
	for {
		select {
		case <-s.ticker.C:
			s.removeExpired()
		case <-s.done:
			return
		}
	}
}

func (s *Store) removeExpired() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
			s.evictions.Add(1)
		}
	}
}

// Directory holds one store per node.
type Directory struct {
	stores map[ring.Key]*Store
}

// NewDirectory creates an empty store for every key.
func NewDirectory(keys []ring.Key, cfg *Config) *Directory {
	d := &Directory{stores: make(map[ring.Key]*Store, len(keys))}
	for _, k := range keys {
		d.stores[k] = New(cfg)
	}
	return d
}

// Node returns the store of the node owning key.
func (d *Directory) Node(key ring.Key) (*Store, error) {
	s, ok := d.stores[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, pkg.ErrUnknownKey)
	}
	return s, nil
}

// Close closes every store.
func (d *Directory) Close() error {
	for _, s := range d.stores {
		s.Close()
	}
	return nil
}
