// Package restore writes a snapshot back into a world with as few world
// writes as it can.
package restore

import (
	"context"

	"voxelprint.ai/internal/persistence/snapshot"
	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/voxel"
	"voxelprint.ai/internal/world"
)

// Target is the part of a world session a restore writes to.
type Target interface {
	world.Writer
	world.Player
	Block(ctx context.Context, p voxel.Pos) (int, error)
}

type Options struct {
	// Reposition lifts the player onto the highest restored block in their
	// column when the restore ends.
	Reposition bool
}

func DefaultOptions() Options { return Options{Reposition: true} }

type Result struct {
	Info snapshot.Info
	// Patches counts the SetBlock calls after the majority fill.
	Patches int
	Moved   bool
	Player  voxel.Pos
}

// Writes is the number of world writes issued.
func (r Result) Writes() int {
	if !r.Info.HasMajority {
		return 0
	}
	return 1 + r.Patches
}

// Restore fills the snapshot's bound with its majority block, then sets every
// block that differs from it. Data values are not written back by the patch
// pass, so oriented blocks come back in their default orientation.
//
// The snapshot is indexed before any write, so a file that does not parse is
// rejected without touching the world. A snapshot with no majority block
// returns E_EMPTY_SNAPSHOT.
func Restore(ctx context.Context, path string, t Target, opts Options) (Result, error) {
	info, err := snapshot.Index(ctx, path)
	if err != nil {
		return Result{}, err
	}
	res := Result{Info: info}
	if !info.HasMajority {
		return res, protocol.EmptySnapshotError(path)
	}

	lo, hi := info.Box.Low, info.Box.High
	if err := t.SetBlocks(ctx, lo, hi, info.Majority); err != nil {
		return res, worldError(protocol.CmdSetBlocks, &lo, err)
	}

	err = snapshot.Scan(ctx, path, func(r voxel.Record) error {
		if r.ID == info.Majority {
			return nil
		}
		if err := t.SetBlock(ctx, r.Pos, r.ID, 0); err != nil {
			return worldError(protocol.CmdSetBlock, &r.Pos, err)
		}
		res.Patches++
		return nil
	})
	if err != nil {
		return res, err
	}

	if !opts.Reposition {
		return res, nil
	}
	player, err := t.TilePos(ctx)
	if err != nil {
		return res, worldError(protocol.CmdGetTile, nil, err)
	}
	for y := hi.Y; y > lo.Y; y-- {
		p := voxel.Pos{X: player.X, Y: y, Z: player.Z}
		id, err := t.Block(ctx, p)
		if err != nil {
			return res, worldError(protocol.CmdGetBlock, &p, err)
		}
		if id == voxel.Air {
			continue
		}
		res.Player = voxel.Pos{X: player.X, Y: y + 1, Z: player.Z}
		if err := t.SetTile(ctx, res.Player); err != nil {
			return res, worldError(protocol.CmdSetTile, &res.Player, err)
		}
		res.Moved = true
		break
	}
	return res, nil
}

func worldError(op string, p *voxel.Pos, err error) error {
	if protocol.Code(err) != "" || protocol.Cancelled(err) {
		return err
	}
	return &protocol.Error{Code: protocol.ErrConnection, Op: op, Pos: p, Err: err}
}
