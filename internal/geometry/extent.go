package geometry

import (
	"fmt"
	"strconv"
	"strings"

	"voxelprint.ai/internal/voxel"
)

// Extent is the per-axis bounding box of printable blocks in model axis order:
// index 0 is world x, 1 is world z and 2 is world y (vertical).
type Extent struct {
	Min [3]int `json:"min"`
	Max [3]int `json:"max"`
	Set bool   `json:"set"`
}

// Add grows e to contain the world-space position p.
func (e *Extent) Add(p voxel.Pos) {
	v := [3]int{p.X, p.Z, p.Y}
	if !e.Set {
		e.Min, e.Max, e.Set = v, v, true
		return
	}
	for i := range v {
		e.Min[i] = min(e.Min[i], v[i])
		e.Max[i] = max(e.Max[i], v[i])
	}
}

// Blocks is the number of blocks spanned on each model axis.
func (e Extent) Blocks() [3]int {
	if !e.Set {
		return [3]int{}
	}
	return [3]int{
		e.Max[0] - e.Min[0] + 1,
		e.Max[1] - e.Min[1] + 1,
		e.Max[2] - e.Min[2] + 1,
	}
}

// PrintSize is the printed size of the model for a given block edge length.
func (e Extent) PrintSize(blockSize float64) [3]float64 {
	b := e.Blocks()
	return [3]float64{
		float64(b[0]) * blockSize,
		float64(b[1]) * blockSize,
		float64(b[2]) * blockSize,
	}
}

// FormatPrintSize renders PrintSize as "x , y , z", or "" when nothing is set.
func (e Extent) FormatPrintSize(blockSize float64) string {
	if !e.Set {
		return ""
	}
	s := e.PrintSize(blockSize)
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, " , ")
}

func (e Extent) String() string {
	if !e.Set {
		return "empty"
	}
	return fmt.Sprintf("%v-%v", e.Min, e.Max)
}
