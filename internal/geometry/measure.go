package geometry

import (
	"context"

	"voxelprint.ai/internal/persistence/snapshot"
	"voxelprint.ai/internal/voxel"
)

// Measure scans a snapshot and returns the extent of every block that would be
// exported. Negative ids are counted; only the excluded set is skipped.
func Measure(ctx context.Context, path string) (Extent, error) {
	var e Extent
	err := snapshot.Scan(ctx, path, func(r voxel.Record) error {
		if !voxel.IsExcluded(r.ID) {
			e.Add(r.Pos)
		}
		return nil
	})
	if err != nil {
		return Extent{}, err
	}
	return e, nil
}
