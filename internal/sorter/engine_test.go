package sorter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Delinquent-Codex/mineflayer/internal/tags"
	"github.com/Delinquent-Codex/mineflayer/internal/world"
	"github.com/Delinquent-Codex/mineflayer/internal/world/worldtest"
)

func newTestEngine(w *worldtest.Fake, idx TagSource) (*Engine, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	cache := NewCache(w, NewScanner(16, 1, idx), time.Minute, log)
	return NewEngine(w, cache, idx, log), logs
}

func item(name string, n int) world.Item { return world.Item{Name: name, Count: n} }

func TestSortInventory_DepositsIntoMarkedChest(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("f1", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "A")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.SetItems(item("A", 5), item("Z", 3))

	e, _ := newTestEngine(w, nil)
	p := e.SortInventory(context.Background())

	assert.True(t, p.Ran)
	assert.Equal(t, 1, p.Deposited)
	assert.Equal(t, []world.Item{item("A", 5)}, w.Contents(pos(1, 64, 0)))
	assert.Equal(t, []world.Item{item("Z", 3)}, w.Items())
	assert.Zero(t, w.OpenHandles())
	assert.Equal(t, []string{
		"move 1,64,0",
		"open 1,64,0",
		"deposit 1,64,0 A x5",
		"close 1,64,0",
	}, w.Calls())
}

func TestSortInventory_StopsAtFirstSuccessfulChest(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("f1", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "A")
	w.SetBlock(pos(-1, 64, 0), "CHEST")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.SetItems(item("A", 2))

	e, _ := newTestEngine(w, nil)
	e.SortInventory(context.Background())

	assert.Len(t, w.Contents(pos(-1, 64, 0)), 1)
	assert.Empty(t, w.Contents(pos(1, 64, 0)))
	assert.NotContains(t, w.Calls(), "open 1,64,0")
}

func TestSortInventory_FailureIsLoggedAndItemKept(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("f1", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "A")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.FailDeposit(pos(1, 64, 0), errors.New("container full"))
	w.SetItems(item("A", 5))

	e, logs := newTestEngine(w, nil)
	p := e.SortInventory(context.Background())

	assert.Equal(t, 1, p.Failures)
	assert.Zero(t, p.Deposited)
	assert.Equal(t, []world.Item{item("A", 5)}, w.Items())
	assert.Zero(t, w.OpenHandles())
	assert.False(t, e.Sorting())

	failed := logs.FilterMessage("deposit failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	assert.Equal(t, "A", failed[0].ContextMap()["item"])
	assert.Equal(t, "1,64,0", failed[0].ContextMap()["chest"])
	assert.Contains(t, failed[0].ContextMap()["error"], "container full")
}

func TestSortInventory_FailsOverToNextChest(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("f1", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "A")
	w.SetBlock(pos(-1, 64, 0), "CHEST")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.FailOpen(pos(-1, 64, 0), errors.New("blocked"))
	w.SetItems(item("A", 4))

	e, _ := newTestEngine(w, nil)
	p := e.SortInventory(context.Background())

	assert.Equal(t, 1, p.Failures)
	assert.Equal(t, 1, p.Deposited)
	assert.Equal(t, []world.Item{item("A", 4)}, w.Contents(pos(1, 64, 0)))
	assert.Zero(t, w.OpenHandles())
}

func TestSortInventory_ExactBeatsCategory(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("sibling", "ITEM_FRAME", vec(6, 64, 0), DisplaySlot, "B")
	w.SetBlock(pos(7, 64, 0), "CHEST")
	w.AddMarker("exact", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "A")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.SetItems(item("A", 1), item("C", 2))

	idx := tags.Build(map[string][]int{"wool": {0, 1, 2}}, tags.Palette([]string{"A", "B", "C"}))
	e, _ := newTestEngine(w, idx)
	p := e.SortInventory(context.Background())

	assert.Equal(t, 2, p.Deposited)
	assert.Equal(t, []world.BlockPos{pos(7, 64, 0), pos(1, 64, 0)}, e.cache.Current().Categories["wool"].Positions())
	assert.Equal(t, []world.Item{item("A", 1)}, w.Contents(pos(1, 64, 0)))
	assert.Equal(t, []world.Item{item("C", 2)}, w.Contents(pos(7, 64, 0)))
	assert.Empty(t, w.Items())
}

func TestSortInventory_FirstTagWithTargetsWins(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("planks", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "OAK_PLANKS")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.AddMarker("birch", "ITEM_FRAME", vec(6, 64, 0), DisplaySlot, "BIRCH_LOG")
	w.SetBlock(pos(7, 64, 0), "CHEST")
	w.SetItems(item("OAK_LOG", 8))

	idx := tags.Build(map[string][]int{
		"burnable": {0, 1},
		"logs":     {1, 2},
	}, tags.Palette([]string{"OAK_PLANKS", "OAK_LOG", "BIRCH_LOG"}))
	e, _ := newTestEngine(w, idx)
	e.SortInventory(context.Background())

	assert.Equal(t, []string{"burnable", "logs"}, idx.TagsOf("OAK_LOG"))
	assert.Equal(t, []world.Item{item("OAK_LOG", 8)}, w.Contents(pos(1, 64, 0)))
	assert.Empty(t, w.Contents(pos(7, 64, 0)))
}

func TestSortInventory_UnresolvedItemIsSkipped(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("f1", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "A")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.SetItems(item("Q", 1))

	e, logs := newTestEngine(w, nil)
	p := e.SortInventory(context.Background())

	assert.Equal(t, 1, p.Items)
	assert.Zero(t, p.Deposited)
	assert.Zero(t, p.Failures)
	assert.Empty(t, w.Calls())
	assert.Zero(t, logs.FilterMessage("deposit failed").Len())
}

func TestSortInventory_EmptyInventoryOrNoTargets(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	e, _ := newTestEngine(w, nil)

	p := e.SortInventory(context.Background())
	assert.True(t, p.Ran)
	assert.Zero(t, p.Items)

	w.SetItems(item("A", 1))
	p = e.SortInventory(context.Background())
	assert.Zero(t, p.Items)
	assert.Empty(t, w.Calls())
}

func TestSortInventory_RepeatedStacksHandledOnce(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("f1", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "A")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.SetItems(item("A", 64), item("A", 10))

	e, _ := newTestEngine(w, nil)
	p := e.SortInventory(context.Background())

	assert.Equal(t, 2, p.Items)
	assert.Equal(t, 1, p.Deposited)
	assert.Equal(t, []world.Item{item("A", 64), item("A", 10)}, w.Contents(pos(1, 64, 0)))
	assert.Empty(t, w.Items())
	opens := 0
	for _, c := range w.Calls() {
		if c == "open 1,64,0" {
			opens++
		}
	}
	assert.Equal(t, 1, opens)
}

func TestSortInventory_SkipsWhileSorting(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("f1", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "A")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.SetItems(item("A", 1))

	e, _ := newTestEngine(w, nil)
	e.sorting.Store(true)
	p := e.SortInventory(context.Background())

	assert.False(t, p.Ran)
	assert.Empty(t, w.Calls())
	assert.True(t, e.Sorting())
}

func TestSortInventory_ConcurrentCallsDoNotOverlap(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("f1", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "A")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.SetItems(item("A", 1))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	w.OnMove = func(ctx context.Context, _ world.BlockPos) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	e, _ := newTestEngine(w, nil)
	first := make(chan Pass, 1)
	go func() { first <- e.SortInventory(context.Background()) }()
	<-entered

	assert.True(t, e.Sorting())
	second := e.SortInventory(context.Background())
	assert.False(t, second.Ran)

	close(release)
	p := <-first
	assert.True(t, p.Ran)
	assert.Equal(t, 1, p.Deposited)
	assert.False(t, e.Sorting())
}

func TestSortInventory_CanceledContextAbortsPass(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("f1", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "A")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.SetItems(item("A", 1))

	e, logs := newTestEngine(w, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := e.SortInventory(ctx)

	assert.True(t, p.Ran)
	assert.Zero(t, p.Deposited)
	assert.Empty(t, w.Calls())
	assert.Equal(t, 1, logs.FilterMessage("sort pass aborted").Len())
	assert.False(t, e.Sorting())
}

type panicTags struct{}

func (panicTags) TagsOf(string) []string { panic("tag lookup exploded") }

func TestSortInventory_RecoversFromPanic(t *testing.T) {
	w := worldtest.New()
	w.SetPosition(vec(0, 64, 0))
	w.AddMarker("f1", "ITEM_FRAME", vec(0, 64, 0), DisplaySlot, "A")
	w.SetBlock(pos(1, 64, 0), "CHEST")
	w.SetItems(item("Q", 1))

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	cache := NewCache(w, NewScanner(16, 1, nil), time.Minute, log)
	e := NewEngine(w, cache, panicTags{}, log)

	assert.NotPanics(t, func() { e.SortInventory(context.Background()) })
	assert.False(t, e.Sorting())
	assert.Equal(t, 1, logs.FilterMessage("sorting error").Len())
}

func TestDepositIntoChest_AbsentBlock(t *testing.T) {
	w := worldtest.New()
	w.SetItems(item("A", 1))
	e, _ := newTestEngine(w, nil)

	ok, err := e.DepositIntoChest(context.Background(), pos(3, 3, 3), "A")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, w.Calls())
}

func TestDepositIntoChest_MoveFailure(t *testing.T) {
	w := worldtest.New()
	w.SetBlock(pos(3, 3, 3), "CHEST")
	w.FailMove(pos(3, 3, 3), errors.New("no path"))
	w.SetItems(item("A", 1))
	e, _ := newTestEngine(w, nil)

	ok, err := e.DepositIntoChest(context.Background(), pos(3, 3, 3), "A")
	require.ErrorContains(t, err, "no path")
	assert.False(t, ok)
	assert.Equal(t, []string{"move 3,3,3"}, w.Calls())
}

func TestDepositIntoChest_ClosesOnDepositError(t *testing.T) {
	w := worldtest.New()
	w.SetBlock(pos(3, 3, 3), "CHEST")
	w.FailDeposit(pos(3, 3, 3), errors.New("full"))
	w.SetItems(item("A", 1))
	e, _ := newTestEngine(w, nil)

	_, err := e.DepositIntoChest(context.Background(), pos(3, 3, 3), "A")
	require.Error(t, err)
	assert.Zero(t, w.OpenHandles())
	calls := w.Calls()
	assert.Equal(t, "close 3,3,3", calls[len(calls)-1])
}
