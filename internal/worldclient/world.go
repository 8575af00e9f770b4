package worldclient

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/Delinquent-Codex/mineflayer/internal/protocol"
	"github.com/Delinquent-Codex/mineflayer/internal/world"
)

// Metadata slots an item frame's displayed item is published in. The frame's
// own item goes to the current slot; an "item:NAME" tag fills the legacy one.
const (
	frameSlot       = 8
	legacyFrameSlot = 7
	itemTagPrefix   = "item:"
)

var _ world.World = (*Client)(nil)

var errContainerClosed = errors.New("container closed")

func (c *Client) Position() world.Vec3 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Entities returns every remembered entity ordered by id.
func (c *Client) Entities() []world.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]world.Entity, 0, len(c.entities))
	for _, id := range sortedIDs(c.entities) {
		out = append(out, toEntity(c.entities[id]))
	}
	return out
}

func toEntity(e protocol.EntityObs) world.Entity {
	md := map[int]*world.Item{}
	if e.Item != "" {
		n := e.Count
		if n <= 0 {
			n = 1
		}
		md[frameSlot] = &world.Item{Name: e.Item, Count: n}
	}
	for _, tag := range e.Tags {
		if name, ok := strings.CutPrefix(tag, itemTagPrefix); ok && name != "" {
			md[legacyFrameSlot] = &world.Item{Name: name, Count: 1}
		}
	}
	return world.Entity{
		ID:       e.ID,
		Kind:     e.Type,
		Pos:      world.Vec3{X: float64(e.Pos[0]), Y: float64(e.Pos[1]), Z: float64(e.Pos[2])},
		Metadata: md,
	}
}

func (c *Client) BlockAt(p world.BlockPos) (world.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.blocks.BlockAt(p)
	if !ok {
		return world.Block{}, false
	}
	return world.Block{Name: name, Pos: p}, true
}

func (c *Client) Items() []world.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]world.Item(nil), c.inventory...)
}

// MoveNear walks to within rng blocks of p.
func (c *Client) MoveNear(ctx context.Context, p world.BlockPos, rng int) error {
	return c.do(ctx, protocol.TaskReq{
		Type:      protocol.TaskMoveTo,
		Target:    [3]int{p.X, p.Y, p.Z},
		Tolerance: float64(rng),
	})
}

func (c *Client) OpenContainer(ctx context.Context, b world.Block) (world.Container, error) {
	id := protocol.ContainerID(b.Name, b.Pos.X, b.Pos.Y, b.Pos.Z)
	if err := c.do(ctx, protocol.TaskReq{Type: protocol.TaskOpen, TargetID: id}); err != nil {
		return nil, err
	}
	return &container{c: c, id: id}, nil
}

// container is an opened chest. The protocol has no close request, so Close
// only invalidates the handle.
type container struct {
	c  *Client
	id string

	closed atomic.Bool
}

func (h *container) Deposit(ctx context.Context, item string, count int) error {
	if h.closed.Load() {
		return errContainerClosed
	}
	err := h.c.do(ctx, protocol.TaskReq{
		Type:   protocol.TaskTransfer,
		Src:    protocol.SelfContainer,
		Dst:    h.id,
		ItemID: item,
		Count:  count,
	})
	if err != nil {
		return err
	}
	h.c.consume(item, count)
	return nil
}

func (h *container) Close() error {
	h.closed.Store(true)
	return nil
}

// consume removes a transferred stack from the local inventory until the next
// observation replaces it.
func (c *Client) consume(item string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.inventory {
		if c.inventory[i].Name != item {
			continue
		}
		c.inventory[i].Count -= count
		if c.inventory[i].Count <= 0 {
			c.inventory = append(c.inventory[:i], c.inventory[i+1:]...)
		}
		return
	}
}
