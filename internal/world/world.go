// Package world defines what voxelprint needs from a running block world.
//
// Implementations talk to a real game (transport/mcpi) or keep blocks in
// memory (world/memworld). Calls are request/response; callers issue at most
// one mutating call at a time per session.
package world

import (
	"context"

	"voxelprint.ai/internal/voxel"
)

// Reader reads single voxels.
type Reader interface {
	Block(ctx context.Context, p voxel.Pos) (int, error)
	BlockWithData(ctx context.Context, p voxel.Pos) (voxel.Block, error)
}

// BulkReader reads every id in the inclusive box [lo, hi], Y outermost, then X,
// then Z. Worlds without bulk reads return an error with code E_UNSUPPORTED.
type BulkReader interface {
	Blocks(ctx context.Context, lo, hi voxel.Pos) ([]int, error)
}

// Writer mutates voxels. SetBlocks fills the inclusive box [lo, hi] with data 0.
type Writer interface {
	SetBlock(ctx context.Context, p voxel.Pos, id, data int) error
	SetBlocks(ctx context.Context, lo, hi voxel.Pos, id int) error
}

// Player reads and moves the connected player, in whole-block coordinates.
type Player interface {
	TilePos(ctx context.Context) (voxel.Pos, error)
	SetTile(ctx context.Context, p voxel.Pos) error
}

type Chat interface {
	PostToChat(ctx context.Context, msg string) error
}

// Session is a full connection to a world.
type Session interface {
	Reader
	BulkReader
	Writer
	Player
	Chat
	Close() error
}
