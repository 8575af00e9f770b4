package sorter

import (
	"time"

	"github.com/Delinquent-Codex/mineflayer/internal/world"
)

// PositionSet is a set of container positions that remembers insertion
// order, so deposit attempts within one set are repeatable.
type PositionSet struct {
	order []world.BlockPos
	seen  map[world.BlockPos]struct{}
}

func NewPositionSet(ps ...world.BlockPos) *PositionSet {
	s := &PositionSet{seen: make(map[world.BlockPos]struct{}, len(ps))}
	for _, p := range ps {
		s.Add(p)
	}
	return s
}

// Add reports whether p was not already present.
func (s *PositionSet) Add(p world.BlockPos) bool {
	if _, ok := s.seen[p]; ok {
		return false
	}
	s.seen[p] = struct{}{}
	s.order = append(s.order, p)
	return true
}

func (s *PositionSet) Contains(p world.BlockPos) bool {
	if s == nil {
		return false
	}
	_, ok := s.seen[p]
	return ok
}

func (s *PositionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Positions returns a copy in insertion order.
func (s *PositionSet) Positions() []world.BlockPos {
	if s == nil {
		return nil
	}
	return append([]world.BlockPos(nil), s.order...)
}

// Table maps an item name or tag to its container positions.
type Table map[string]*PositionSet

func (t Table) add(key string, ps []world.BlockPos) {
	set := t[key]
	if set == nil {
		set = NewPositionSet()
		t[key] = set
	}
	for _, p := range ps {
		set.Add(p)
	}
}

// DistinctPositions counts container positions across all keys, each once.
func (t Table) DistinctPositions() int {
	seen := map[world.BlockPos]struct{}{}
	for _, set := range t {
		for _, p := range set.order {
			seen[p] = struct{}{}
		}
	}
	return len(seen)
}

// Snapshot is one scan's result. It is never modified after the scan that
// built it, so both tables always come from the same scan.
type Snapshot struct {
	Exact      Table
	Categories Table
	ScannedAt  time.Time
}

// Empty reports whether neither table has a target.
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Exact) == 0 && len(s.Categories) == 0)
}
