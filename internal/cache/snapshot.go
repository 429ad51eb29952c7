// Package cache holds the advisory family snapshot cache. Snapshots are
// derived read models only; nothing that moves points reads from here.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dukerupert/chorebank/internal/events"
	"github.com/dukerupert/chorebank/internal/metrics"
	"github.com/dukerupert/chorebank/internal/model"
)

// Loader builds a fresh snapshot from the store.
type Loader func(ctx context.Context, familyID int64) (*model.FamilySnapshot, error)

type Snapshots struct {
	lru  *expirable.LRU[int64, *model.FamilySnapshot]
	load Loader

	// gens is bumped on every invalidation so that a load racing with a
	// write never repopulates the cache with pre-write data.
	mu   sync.Mutex
	gens map[int64]uint64
}

func NewSnapshots(size int, ttl time.Duration, load Loader) *Snapshots {
	return &Snapshots{
		lru:  expirable.NewLRU[int64, *model.FamilySnapshot](size, nil, ttl),
		load: load,
		gens: make(map[int64]uint64),
	}
}

// Get returns the cached snapshot or loads a fresh one. A nil snapshot with
// a nil error means the family does not exist.
func (s *Snapshots) Get(ctx context.Context, familyID int64) (*model.FamilySnapshot, error) {
	if snap, ok := s.lru.Get(familyID); ok {
		metrics.RecordCacheLookup(true)
		return snap, nil
	}
	metrics.RecordCacheLookup(false)

	gen := s.generation(familyID)
	snap, err := s.load(ctx, familyID)
	if err != nil || snap == nil {
		return snap, err
	}

	s.mu.Lock()
	if s.gens[familyID] == gen {
		s.lru.Add(familyID, snap)
	}
	s.mu.Unlock()
	return snap, nil
}

func (s *Snapshots) Invalidate(familyID int64) {
	s.mu.Lock()
	s.gens[familyID]++
	s.lru.Remove(familyID)
	s.mu.Unlock()
}

// Handle invalidates the family named by a committed change. It is meant to
// be subscribed to the event bus.
func (s *Snapshots) Handle(e events.Event) {
	s.Invalidate(e.FamilyID)
}

func (s *Snapshots) Len() int {
	return s.lru.Len()
}

func (s *Snapshots) generation(familyID int64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[familyID]
}
