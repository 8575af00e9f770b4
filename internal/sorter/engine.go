// Package sorter moves held items into the containers that markers point at.
package sorter

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Delinquent-Codex/mineflayer/internal/world"
)

// interactRange is how close the character walks to a container before opening it.
const interactRange = 1

// Pass summarizes one SortInventory call.
type Pass struct {
	Ran       bool
	Items     int // held stacks considered
	Deposited int // stacks whose item reached a container
	Failures  int // deposit attempts that returned an error
}

type Engine struct {
	world world.World
	cache *Cache
	tags  TagSource
	log   *zap.Logger

	sorting atomic.Bool
}

func NewEngine(w world.World, cache *Cache, tags TagSource, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{world: w, cache: cache, tags: tags, log: log}
}

// Sorting reports whether a pass is running.
func (e *Engine) Sorting() bool { return e.sorting.Load() }

// SortInventory runs one sort pass. It returns immediately when another pass
// is running. Failures are logged, never returned.
func (e *Engine) SortInventory(ctx context.Context) (p Pass) {
	if !e.sorting.CompareAndSwap(false, true) {
		return p
	}
	defer e.sorting.Store(false)
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("sorting error", zap.Any("panic", r))
		}
	}()

	p.Ran = true
	items := e.world.Items()
	snap := e.cache.EnsureTargets()
	if len(items) == 0 || snap.Empty() {
		return p
	}

	handled := map[string]bool{}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			e.log.Warn("sort pass aborted", zap.Error(err))
			return p
		}
		p.Items++
		if handled[it.Name] {
			continue
		}
		handled[it.Name] = true

		targets := e.resolve(snap, it.Name)
		if targets.Len() == 0 {
			continue
		}
		ok, failures := e.depositIntoTargets(ctx, targets, it.Name)
		p.Failures += failures
		if ok {
			p.Deposited++
		}
	}
	e.log.Debug("sort pass done",
		zap.Int("items", p.Items),
		zap.Int("deposited", p.Deposited),
		zap.Int("failures", p.Failures))
	return p
}

// resolve prefers the item's own targets; otherwise the first of its tags
// with targets.
func (e *Engine) resolve(snap *Snapshot, item string) *PositionSet {
	if set := snap.Exact[item]; set.Len() > 0 {
		return set
	}
	if e.tags == nil {
		return nil
	}
	for _, tag := range e.tags.TagsOf(item) {
		if set := snap.Categories[tag]; set.Len() > 0 {
			return set
		}
	}
	return nil
}

func (e *Engine) depositIntoTargets(ctx context.Context, targets *PositionSet, item string) (bool, int) {
	failures := 0
	for _, pos := range targets.Positions() {
		ok, err := e.DepositIntoChest(ctx, pos, item)
		if err != nil {
			failures++
			e.log.Error("deposit failed",
				zap.String("item", item),
				zap.Stringer("chest", pos),
				zap.Error(err))
			if ctx.Err() != nil {
				return false, failures
			}
			continue
		}
		if ok {
			return true, failures
		}
	}
	return false, failures
}

// DepositIntoChest walks to the container at pos and deposits every held
// stack named item. An unknown block is not an error; it reports false.
func (e *Engine) DepositIntoChest(ctx context.Context, pos world.BlockPos, item string) (deposited bool, err error) {
	b, ok := e.world.BlockAt(pos)
	if !ok {
		return false, nil
	}
	if err := e.world.MoveNear(ctx, pos, interactRange); err != nil {
		return false, fmt.Errorf("move near %s: %w", pos, err)
	}
	c, err := e.world.OpenContainer(ctx, b)
	if err != nil {
		return false, fmt.Errorf("open %s at %s: %w", b.Name, pos, err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			e.log.Warn("close container", zap.Stringer("chest", pos), zap.Error(cerr))
		}
	}()

	for _, held := range e.world.Items() {
		if held.Name != item {
			continue
		}
		if err := c.Deposit(ctx, held.Name, held.Count); err != nil {
			return deposited, fmt.Errorf("deposit %d %s: %w", held.Count, held.Name, err)
		}
		deposited = true
	}
	return deposited, nil
}
