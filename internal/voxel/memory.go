// Package voxel decodes observation voxels and remembers every block the
// agent has seen during a session.
package voxel

import (
	"fmt"

	"github.com/Delinquent-Codex/mineflayer/internal/protocol"
	"github.com/Delinquent-Codex/mineflayer/internal/world"
)

const (
	EncodingRLE   = "RLE"
	EncodingDelta = "DELTA"
)

// Memory maps block positions to block names. It is not safe for concurrent
// use; the owner serializes access.
type Memory struct {
	palette []string
	blocks  map[world.BlockPos]string

	viewCenter world.BlockPos
	viewRadius int
	hasView    bool
}

func NewMemory() *Memory {
	return &Memory{blocks: map[world.BlockPos]string{}}
}

// SetPalette installs the block_palette catalog; palette index = block id.
func (m *Memory) SetPalette(names []string) {
	m.palette = append([]string(nil), names...)
}

func (m *Memory) HasPalette() bool { return len(m.palette) > 0 }

// Apply merges one observation frame. Full frames list ids in dy, dz, dx
// order around the center; DELTA frames carry offsets from the center.
func (m *Memory) Apply(v protocol.VoxelsObs) error {
	if v.Radius < 0 {
		return fmt.Errorf("voxels: negative radius %d", v.Radius)
	}
	center := world.BlockPos{X: v.Center[0], Y: v.Center[1], Z: v.Center[2]}
	r := v.Radius

	switch v.Encoding {
	case EncodingRLE:
		dim := 2*r + 1
		ids, err := DecodeRLE(v.Data, dim*dim*dim)
		if err != nil {
			return err
		}
		i := 0
		for dy := -r; dy <= r; dy++ {
			for dz := -r; dz <= r; dz++ {
				for dx := -r; dx <= r; dx++ {
					m.set(center.Offset(dx, dy, dz), ids[i])
					i++
				}
			}
		}
	case EncodingDelta:
		for _, op := range v.Ops {
			m.set(center.Offset(op.D[0], op.D[1], op.D[2]), op.B)
		}
	default:
		return fmt.Errorf("voxels: unsupported encoding %q", v.Encoding)
	}

	m.viewCenter = center
	m.viewRadius = r
	m.hasView = true
	return nil
}

func (m *Memory) set(p world.BlockPos, id uint16) {
	if int(id) >= len(m.palette) {
		delete(m.blocks, p)
		return
	}
	m.blocks[p] = m.palette[id]
}

// Put records a block learned from another source, such as a container entity.
func (m *Memory) Put(p world.BlockPos, name string) {
	m.blocks[p] = name
}

func (m *Memory) BlockAt(p world.BlockPos) (string, bool) {
	name, ok := m.blocks[p]
	return name, ok
}

// InView reports whether p lies in the cube of the latest applied frame.
func (m *Memory) InView(p world.BlockPos) bool {
	if !m.hasView {
		return false
	}
	return abs(p.X-m.viewCenter.X) <= m.viewRadius &&
		abs(p.Y-m.viewCenter.Y) <= m.viewRadius &&
		abs(p.Z-m.viewCenter.Z) <= m.viewRadius
}

func (m *Memory) Len() int { return len(m.blocks) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
