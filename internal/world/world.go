// Package world is the contract between the sorter and whatever drives the
// character: entity and block lookup, held items, navigation and container
// access. Every method that talks to the server takes a context and blocks
// until the server answers.
package world

import (
	"context"
	"fmt"
	"math"
)

// Vec3 is an entity position.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) DistanceTo(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func (v Vec3) Floored() BlockPos {
	return BlockPos{X: int(math.Floor(v.X)), Y: int(math.Floor(v.Y)), Z: int(math.Floor(v.Z))}
}

// BlockPos is an integer block coordinate. It is comparable and used as the
// identity of a container.
type BlockPos struct {
	X, Y, Z int
}

func (p BlockPos) Offset(dx, dy, dz int) BlockPos {
	return BlockPos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

func (p BlockPos) Vec3() Vec3 {
	return Vec3{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}
}

func (p BlockPos) String() string {
	return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z)
}

// Item is a held or displayed item stack.
type Item struct {
	Name  string
	Count int
}

type Block struct {
	Name string
	Pos  BlockPos
}

// Entity is a positioned world object. Metadata holds display slots keyed by
// slot index; a slot may be absent or nil.
type Entity struct {
	ID       string
	Kind     string
	Pos      Vec3
	Metadata map[int]*Item
}

// World is the view of the game the sorter needs.
type World interface {
	// Position is the controlled character's current position.
	Position() Vec3
	Entities() []Entity
	// BlockAt returns false when the block is not known to the client.
	BlockAt(pos BlockPos) (Block, bool)
	// Items returns held stacks in inventory order.
	Items() []Item

	MoveNear(ctx context.Context, pos BlockPos, rng int) error
	OpenContainer(ctx context.Context, b Block) (Container, error)
}

// Container is an open container handle. Close must be called once the
// caller is done depositing.
type Container interface {
	Deposit(ctx context.Context, item string, count int) error
	Close() error
}
