package snapshot

import (
	"context"

	"voxelprint.ai/internal/voxel"
)

// Info summarises a snapshot file.
type Info struct {
	// Box is the restore bound. See Index for how it is tracked.
	Box voxel.Box
	// Bounds is the true per-axis extent of the records.
	Bounds voxel.Box
	// Majority is the most common id among records with data 0.
	Majority      int
	MajorityCount int
	HasMajority   bool
	Records       int
}

// Index makes one sequential pass over path and returns its bound and
// majority block.
//
// The bound is updated wholesale: a record with any coordinate below Low
// replaces Low entirely; otherwise a record with any coordinate above High
// replaces High entirely. For snapshots written in capture order this reaches
// the true corners, but it is not a per-axis min/max in general.
//
// Majority counting ignores records with non-zero data. Among equal counts the
// id seen first wins.
func Index(ctx context.Context, path string) (Info, error) {
	var (
		info   Info
		counts = make(map[int]int)
		order  []int
	)
	err := Scan(ctx, path, func(r voxel.Record) error {
		info.Records++
		p := r.Pos
		info.Bounds.Extend(p)
		switch {
		case !info.Box.Set:
			info.Box = voxel.Box{Low: p, High: p, Set: true}
		case p.X < info.Box.Low.X || p.Y < info.Box.Low.Y || p.Z < info.Box.Low.Z:
			info.Box.Low = p
		case p.X > info.Box.High.X || p.Y > info.Box.High.Y || p.Z > info.Box.High.Z:
			info.Box.High = p
		}
		if r.Data == 0 {
			if _, seen := counts[r.ID]; !seen {
				order = append(order, r.ID)
			}
			counts[r.ID]++
		}
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	for _, id := range order {
		if c := counts[id]; c > info.MajorityCount {
			info.Majority, info.MajorityCount, info.HasMajority = id, c, true
		}
	}
	return info, nil
}
