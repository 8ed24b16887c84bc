// Package region describes the cuboid of world blocks that a capture, restore
// or clear operation works on.
package region

import (
	"fmt"

	"voxelprint.ai/internal/voxel"
)

// DefaultSize is the edge length of a region before SetSize is called.
const DefaultSize = 10

// Region is an axis-aligned cuboid given by its low corner and size.
//
// Size always holds positive components. The region only becomes valid once a
// start has been set, either directly or through SetMiddle. Visible is a
// caller-owned flag (e.g. an invisible build plate) and has no effect here.
type Region struct {
	Start   voxel.Pos `yaml:"start"`
	Size    voxel.Pos `yaml:"size"`
	Valid   bool      `yaml:"valid"`
	Visible bool      `yaml:"visible"`
}

func New() Region {
	return Region{
		Size:    voxel.Pos{X: DefaultSize, Y: DefaultSize, Z: DefaultSize},
		Visible: true,
	}
}

func (r *Region) SetStart(x, y, z int) {
	r.Start = voxel.Pos{X: x, Y: y, Z: z}
	r.Valid = true
}

// SetSize stores a new size. Validity is unchanged.
func (r *Region) SetSize(x, y, z int) error {
	if x < 1 || y < 1 || z < 1 {
		return fmt.Errorf("region size must be positive: %d,%d,%d", x, y, z)
	}
	r.Size = voxel.Pos{X: x, Y: y, Z: z}
	return nil
}

// SetMiddle places the region so that (x, z) is its horizontal centre. The
// vertical coordinate is used as the bottom layer unchanged, so callers fold
// any vertical offset into y before calling.
func (r *Region) SetMiddle(x, y, z int) {
	r.SetStart(x-floorHalf(r.Size.X), y, z-floorHalf(r.Size.Z))
}

func (r *Region) SetVisible(v bool) { r.Visible = v }

func (r Region) IsVisible() bool { return r.Visible }

// End is the inclusive far corner.
func (r Region) End() voxel.Pos {
	return voxel.Pos{
		X: r.Start.X + r.Size.X - 1,
		Y: r.Start.Y + r.Size.Y - 1,
		Z: r.Start.Z + r.Size.Z - 1,
	}
}

func (r Region) Volume() int { return r.Size.X * r.Size.Y * r.Size.Z }

// Below returns the single-layer region directly underneath r.
func (r Region) Below() Region {
	b := New()
	b.Size = voxel.Pos{X: r.Size.X, Y: 1, Z: r.Size.Z}
	b.SetStart(r.Start.X, r.Start.Y-1, r.Start.Z)
	return b
}

func (r Region) String() string {
	return fmt.Sprintf("%v to %v", r.Start, r.Start.Add(r.Size))
}

// floorHalf is floor(n/2) for any sign of n.
func floorHalf(n int) int {
	if n >= 0 {
		return n / 2
	}
	return -((-n + 1) / 2)
}
