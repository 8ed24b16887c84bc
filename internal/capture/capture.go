// Package capture walks a region of a live world and writes every voxel to a
// snapshot file.
package capture

import (
	"context"
	"fmt"

	"voxelprint.ai/internal/geometry"
	"voxelprint.ai/internal/persistence/snapshot"
	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/region"
	"voxelprint.ai/internal/voxel"
	"voxelprint.ai/internal/world"
)

// Source is the part of a world session a capture reads from.
type Source interface {
	world.Reader
	world.BulkReader
}

type Options struct {
	// Bulk fetches all ids with one Blocks call and re-reads only stair and
	// half blocks for their data. Without it every voxel is read with its data.
	// A world that answers Blocks with E_UNSUPPORTED falls back to per-voxel
	// reads.
	Bulk bool
	// Progress, if set, is called after each completed layer with the fraction
	// of layers done.
	Progress func(done float64)
}

type Result struct {
	Path    string
	Records int
	// Extent covers non-air voxels, as offsets from the region start.
	Extent    geometry.Extent
	Bulk      bool
	Cancelled bool
}

// Capture writes one record per voxel of r to path, Y outermost, then X, then
// Z.
//
// Records reach the file a whole layer at a time. When ctx is cancelled,
// between layers or during a read, the completed layers are kept, Cancelled is
// set and the returned error wraps ctx.Err(). Any other failure removes the
// partial file.
func Capture(ctx context.Context, src Source, path string, r region.Region, opts Options) (Result, error) {
	if !r.Valid {
		return Result{}, &protocol.Error{Code: protocol.ErrBadRequest, Op: "capture", Path: path, Err: fmt.Errorf("region has no start")}
	}
	lo, hi, size := r.Start, r.End(), r.Size

	res := Result{Path: path, Bulk: opts.Bulk}
	var ids []int
	if opts.Bulk {
		var err error
		ids, err = src.Blocks(ctx, lo, hi)
		switch {
		case protocol.Is(err, protocol.ErrUnsupported):
			res.Bulk = false
		case err != nil:
			return Result{}, worldError(protocol.CmdGetBlocks, lo, err)
		case len(ids) != r.Volume():
			return Result{}, &protocol.Error{
				Code: protocol.ErrBadRequest,
				Op:   protocol.CmdGetBlocks,
				Err:  fmt.Errorf("got %d ids for %d voxels", len(ids), r.Volume()),
			}
		}
	}

	w, err := snapshot.Create(path)
	if err != nil {
		return Result{}, err
	}
	keep := false
	defer func() {
		if !keep {
			_ = w.Abort()
		}
	}()
	stop := func(layers int, cause error) (Result, error) {
		if err := w.Close(); err != nil {
			return Result{}, err
		}
		keep = true
		res.Records = w.Records()
		res.Cancelled = true
		return res, fmt.Errorf("capture %s cancelled after %d of %d layers: %w", path, layers, size.Y, cause)
	}

	layer := make([]voxel.Record, 0, size.X*size.Z)
	index := 0
	for y := 0; y < size.Y; y++ {
		if err := ctx.Err(); err != nil {
			return stop(y, err)
		}
		layer = layer[:0]
		extent := res.Extent
		for x := 0; x < size.X; x++ {
			for z := 0; z < size.Z; z++ {
				off := voxel.Pos{X: x, Y: y, Z: z}
				p := lo.Add(off)
				var b voxel.Block
				if res.Bulk {
					b.ID = ids[index]
					if voxel.NeedsData(b.ID) {
						b, err = src.BlockWithData(ctx, p)
					}
				} else {
					b, err = src.BlockWithData(ctx, p)
				}
				if err != nil {
					if protocol.Cancelled(err) {
						return stop(y, err)
					}
					return Result{}, worldError(protocol.CmdGetBlockWithData, p, err)
				}
				layer = append(layer, voxel.Record{Pos: p, ID: b.ID, Data: b.Data})
				if b.ID > voxel.Air {
					extent.Add(off)
				}
				index++
			}
		}
		for _, v := range layer {
			if err := w.Write(v); err != nil {
				return Result{}, err
			}
		}
		res.Extent = extent
		if opts.Progress != nil {
			opts.Progress(float64(y+1) / float64(size.Y))
		}
	}

	if err := w.Close(); err != nil {
		return Result{}, err
	}
	keep = true
	res.Records = w.Records()
	return res, nil
}

func worldError(op string, p voxel.Pos, err error) error {
	if protocol.Code(err) != "" || protocol.Cancelled(err) {
		return err
	}
	return &protocol.Error{Code: protocol.ErrConnection, Op: op, Pos: &p, Err: err}
}
