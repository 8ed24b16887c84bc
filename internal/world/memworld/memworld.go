// Package memworld is an in-memory block world. It backs the stub world
// server and the package tests.
package memworld

import (
	"context"
	"fmt"
	"sync"

	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/voxel"
)

// Stats counts the calls a world has served.
type Stats struct {
	Reads      int
	DataReads  int
	BulkReads  int
	Writes     int
	Fills      int
	FillVolume int
	Moves      int
}

// Options configures a World.
type Options struct {
	// Ground is the first air layer of the flat base terrain: grass sits at
	// Ground-1 and stone fills everything below.
	Ground int
	// NoBulk makes Blocks fail like a Minecraft: Pi Edition server.
	NoBulk bool
	// Spawn is the initial player tile position.
	Spawn voxel.Pos
}

// World tracks block state as a flat generator plus overrides for changed blocks.
type World struct {
	mu     sync.RWMutex
	opts   Options
	blocks map[voxel.Pos]voxel.Block
	player voxel.Pos
	chat   []string
	stats  Stats
	closed bool
}

func New(opts Options) *World {
	return &World{
		opts:   opts,
		blocks: make(map[voxel.Pos]voxel.Block),
		player: opts.Spawn,
	}
}

func (w *World) base(p voxel.Pos) voxel.Block {
	switch {
	case p.Y < w.opts.Ground-1:
		return voxel.Block{ID: voxel.Stone}
	case p.Y == w.opts.Ground-1:
		return voxel.Block{ID: voxel.Grass}
	default:
		return voxel.Block{ID: voxel.Air}
	}
}

func (w *World) getLocked(p voxel.Pos) voxel.Block {
	if b, ok := w.blocks[p]; ok {
		return b
	}
	return w.base(p)
}

func (w *World) setLocked(p voxel.Pos, b voxel.Block) {
	if b == w.base(p) {
		delete(w.blocks, p)
		return
	}
	w.blocks[p] = b
}

func (w *World) checkOpen() error {
	if w.closed {
		return protocol.ConnectionError("memworld", fmt.Errorf("world closed"))
	}
	return nil
}

func (w *World) Block(_ context.Context, p voxel.Pos) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return 0, err
	}
	w.stats.Reads++
	return w.getLocked(p).ID, nil
}

func (w *World) BlockWithData(_ context.Context, p voxel.Pos) (voxel.Block, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return voxel.Block{}, err
	}
	w.stats.DataReads++
	return w.getLocked(p), nil
}

// Blocks returns ids for the inclusive box in Y, X, Z nesting order (Z fastest).
func (w *World) Blocks(_ context.Context, lo, hi voxel.Pos) ([]int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	if w.opts.NoBulk {
		return nil, &protocol.Error{Code: protocol.ErrUnsupported, Op: protocol.CmdGetBlocks, Err: fmt.Errorf("bulk reads disabled")}
	}
	lo, hi = order(lo, hi)
	w.stats.BulkReads++
	out := make([]int, 0, (hi.X-lo.X+1)*(hi.Y-lo.Y+1)*(hi.Z-lo.Z+1))
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			for z := lo.Z; z <= hi.Z; z++ {
				out = append(out, w.getLocked(voxel.Pos{X: x, Y: y, Z: z}).ID)
			}
		}
	}
	return out, nil
}

func (w *World) SetBlock(_ context.Context, p voxel.Pos, id, data int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	w.stats.Writes++
	w.setLocked(p, voxel.Block{ID: id, Data: data})
	return nil
}

func (w *World) SetBlocks(_ context.Context, lo, hi voxel.Pos, id int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	lo, hi = order(lo, hi)
	w.stats.Fills++
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			for z := lo.Z; z <= hi.Z; z++ {
				w.setLocked(voxel.Pos{X: x, Y: y, Z: z}, voxel.Block{ID: id})
				w.stats.FillVolume++
			}
		}
	}
	return nil
}

func (w *World) TilePos(context.Context) (voxel.Pos, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.checkOpen(); err != nil {
		return voxel.Pos{}, err
	}
	return w.player, nil
}

func (w *World) SetTile(_ context.Context, p voxel.Pos) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	w.stats.Moves++
	w.player = p
	return nil
}

func (w *World) PostToChat(_ context.Context, msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	w.chat = append(w.chat, msg)
	return nil
}

func (w *World) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Peek reads a block without counting it as a served call.
func (w *World) Peek(p voxel.Pos) voxel.Block {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.getLocked(p)
}

// Put stores a block without counting it as a served call.
func (w *World) Put(p voxel.Pos, id, data int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setLocked(p, voxel.Block{ID: id, Data: data})
}

func (w *World) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *World) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats = Stats{}
}

func (w *World) Chat() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.chat...)
}

// Overrides reports how many blocks differ from the generated terrain.
func (w *World) Overrides() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.blocks)
}

func order(a, b voxel.Pos) (lo, hi voxel.Pos) {
	return voxel.Pos{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)},
		voxel.Pos{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)}
}
