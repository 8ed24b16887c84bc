package voxel

import "fmt"

// Pos is an integer voxel coordinate in world space. Y is vertical.
type Pos struct {
	X, Y, Z int
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

func (p Pos) Add(q Pos) Pos { return Pos{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z} }

// Array returns the coordinates as a [3]int in X, Y, Z order.
func (p Pos) Array() [3]int { return [3]int{p.X, p.Y, p.Z} }

func PosOf(a [3]int) Pos { return Pos{X: a[0], Y: a[1], Z: a[2]} }

// Box is an axis-aligned bounding box. The zero value is unset.
type Box struct {
	Low  Pos
	High Pos
	Set  bool
}

// Extend grows b to contain p, tracking the true minimum and maximum per axis.
func (b *Box) Extend(p Pos) {
	if !b.Set {
		b.Low, b.High, b.Set = p, p, true
		return
	}
	b.Low.X = min(b.Low.X, p.X)
	b.Low.Y = min(b.Low.Y, p.Y)
	b.Low.Z = min(b.Low.Z, p.Z)
	b.High.X = max(b.High.X, p.X)
	b.High.Y = max(b.High.Y, p.Y)
	b.High.Z = max(b.High.Z, p.Z)
}

// Size is the inclusive extent of the box on each axis, or zero if unset.
func (b Box) Size() Pos {
	if !b.Set {
		return Pos{}
	}
	return Pos{
		X: b.High.X - b.Low.X + 1,
		Y: b.High.Y - b.Low.Y + 1,
		Z: b.High.Z - b.Low.Z + 1,
	}
}

func (b Box) String() string {
	if !b.Set {
		return "unset"
	}
	return b.Low.String() + "-" + b.High.String()
}
