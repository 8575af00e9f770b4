package sorter

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Delinquent-Codex/mineflayer/internal/world"
)

// Cache keeps the latest scan and rescans only when it is stale.
type Cache struct {
	world    world.World
	scanner  *Scanner
	interval time.Duration
	log      *zap.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time

	scanMu sync.Mutex
	snap   atomic.Pointer[Snapshot]
}

func NewCache(w world.World, scanner *Scanner, interval time.Duration, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		world:    w,
		scanner:  scanner,
		interval: interval,
		log:      log,
		Now:      time.Now,
	}
}

// Current returns the cached snapshot without refreshing it; nil before the
// first scan.
func (c *Cache) Current() *Snapshot { return c.snap.Load() }

// EnsureTargets returns the cached snapshot, rescanning first when the
// interval has elapsed or the exact table is empty.
func (c *Cache) EnsureTargets() *Snapshot {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	now := c.Now()
	cur := c.snap.Load()
	if cur != nil && now.Sub(cur.ScannedAt) <= c.interval && len(cur.Exact) > 0 {
		return cur
	}

	exact, categories := c.scanner.Scan(c.world)
	next := &Snapshot{Exact: exact, Categories: categories, ScannedAt: now}
	c.snap.Store(next)

	c.log.Info("scan complete",
		zap.Int("item_targets", len(exact)),
		zap.Int("chests", exact.DistinctPositions()))
	if len(categories) > 0 {
		c.log.Info("category targets active",
			zap.Int("categories", len(categories)),
			zap.Int("chests", categories.DistinctPositions()))
	}
	return next
}
