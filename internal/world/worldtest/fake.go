// Package worldtest provides an in-memory world.World for tests.
package worldtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Delinquent-Codex/mineflayer/internal/world"
)

// Fake is a deterministic world. Deposits move held stacks into per-position
// container contents; failures can be injected per position.
type Fake struct {
	mu sync.Mutex

	pos      world.Vec3
	entities []world.Entity
	blocks   map[world.BlockPos]string
	items    []world.Item

	contents   map[world.BlockPos][]world.Item
	depositErr map[world.BlockPos]error
	openErr    map[world.BlockPos]error
	moveErr    map[world.BlockPos]error

	// OnMove, when set, runs inside MoveNear before it returns.
	OnMove func(ctx context.Context, pos world.BlockPos) error

	calls        []string
	blockLookups int
	openHandles  int
}

func New() *Fake {
	return &Fake{
		blocks:     map[world.BlockPos]string{},
		contents:   map[world.BlockPos][]world.Item{},
		depositErr: map[world.BlockPos]error{},
		openErr:    map[world.BlockPos]error{},
		moveErr:    map[world.BlockPos]error{},
	}
}

func (f *Fake) SetPosition(p world.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = p
}

// AddMarker places an entity of the given kind showing item in slot. An
// empty item leaves the slot unset.
func (f *Fake) AddMarker(id, kind string, p world.Vec3, slot int, item string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md := map[int]*world.Item{}
	if item != "" {
		md[slot] = &world.Item{Name: item, Count: 1}
	}
	f.entities = append(f.entities, world.Entity{ID: id, Kind: kind, Pos: p, Metadata: md})
}

func (f *Fake) AddEntity(e world.Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities = append(f.entities, e)
}

func (f *Fake) RemoveEntity(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.entities[:0]
	for _, e := range f.entities {
		if e.ID != id {
			out = append(out, e)
		}
	}
	f.entities = out
}

func (f *Fake) SetBlock(p world.BlockPos, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "" {
		delete(f.blocks, p)
		return
	}
	f.blocks[p] = name
}

func (f *Fake) SetItems(items ...world.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append([]world.Item(nil), items...)
}

func (f *Fake) FailDeposit(p world.BlockPos, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depositErr[p] = err
}

func (f *Fake) FailOpen(p world.BlockPos, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr[p] = err
}

func (f *Fake) FailMove(p world.BlockPos, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moveErr[p] = err
}

func (f *Fake) Contents(p world.BlockPos) []world.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]world.Item(nil), f.contents[p]...)
}

// Calls returns the recorded navigation and container operations.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) BlockLookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockLookups
}

func (f *Fake) OpenHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openHandles
}

func (f *Fake) Position() world.Vec3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *Fake) Entities() []world.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]world.Entity(nil), f.entities...)
}

func (f *Fake) BlockAt(p world.BlockPos) (world.Block, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockLookups++
	name, ok := f.blocks[p]
	if !ok {
		return world.Block{}, false
	}
	return world.Block{Name: name, Pos: p}, true
}

func (f *Fake) Items() []world.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]world.Item(nil), f.items...)
}

func (f *Fake) MoveNear(ctx context.Context, p world.BlockPos, rng int) error {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("move %s", p))
	err := f.moveErr[p]
	hook := f.OnMove
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, p); err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.pos = world.Vec3{X: float64(p.X) + 1, Y: float64(p.Y), Z: float64(p.Z)}
	f.mu.Unlock()
	return ctx.Err()
}

func (f *Fake) OpenContainer(ctx context.Context, b world.Block) (world.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("open %s", b.Pos))
	if err := f.openErr[b.Pos]; err != nil {
		return nil, err
	}
	f.openHandles++
	return &container{f: f, pos: b.Pos}, nil
}

var errClosed = errors.New("container closed")

type container struct {
	f      *Fake
	pos    world.BlockPos
	closed bool
}

func (c *container) Deposit(ctx context.Context, item string, count int) error {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("deposit %s %s x%d", c.pos, item, count))
	if c.closed {
		return errClosed
	}
	if err := f.depositErr[c.pos]; err != nil {
		return err
	}
	for i, it := range f.items {
		if it.Name != item {
			continue
		}
		if it.Count < count {
			return fmt.Errorf("insufficient %s: have %d, want %d", item, it.Count, count)
		}
		f.items[i].Count -= count
		if f.items[i].Count == 0 {
			f.items = append(f.items[:i], f.items[i+1:]...)
		}
		f.contents[c.pos] = append(f.contents[c.pos], world.Item{Name: item, Count: count})
		return nil
	}
	return fmt.Errorf("no %s held", item)
}

func (c *container) Close() error {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	f.openHandles--
	f.calls = append(f.calls, fmt.Sprintf("close %s", c.pos))
	return nil
}
