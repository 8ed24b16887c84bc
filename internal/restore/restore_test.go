package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"voxelprint.ai/internal/persistence/snapshot"
	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/voxel"
	"voxelprint.ai/internal/world/memworld"
)

func rec(x, y, z, id, data int) voxel.Record {
	return voxel.Record{Pos: voxel.Pos{X: x, Y: y, Z: z}, ID: id, Data: data}
}

func writeSnapshot(t *testing.T, recs []voxel.Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "undo.mbf")
	require.NoError(t, snapshot.WriteAll(path, recs))
	return path
}

// cuboid builds records for the box [lo, hi] in capture order.
func cuboid(lo, hi voxel.Pos, id func(p voxel.Pos) (int, int)) []voxel.Record {
	var out []voxel.Record
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			for z := lo.Z; z <= hi.Z; z++ {
				p := voxel.Pos{X: x, Y: y, Z: z}
				b, d := id(p)
				out = append(out, voxel.Record{Pos: p, ID: b, Data: d})
			}
		}
	}
	return out
}

func TestRestore_ThreeRecordScenario(t *testing.T) {
	path := writeSnapshot(t, []voxel.Record{
		rec(0, 0, 0, 1, 0),
		rec(0, 0, 1, 1, 0),
		rec(1, 0, 0, 2, 0),
	})
	w := memworld.New(memworld.Options{})

	res, err := Restore(context.Background(), path, w, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 1, res.Info.Majority)
	require.Equal(t, voxel.Pos{}, res.Info.Box.Low)
	require.Equal(t, voxel.Pos{X: 1}, res.Info.Box.High)
	require.Equal(t, 1, res.Patches)
	require.Equal(t, 2, res.Writes())
	require.False(t, res.Moved)

	st := w.Stats()
	require.Equal(t, 1, st.Fills)
	require.Equal(t, 2, st.FillVolume)
	require.Equal(t, 1, st.Writes)
	require.Equal(t, voxel.Block{ID: 1}, w.Peek(voxel.Pos{}))
	require.Equal(t, voxel.Block{ID: 2}, w.Peek(voxel.Pos{X: 1}))
}

func TestRestore_WriteBoundAndContents(t *testing.T) {
	lo, hi := voxel.Pos{X: -2, Y: 5, Z: 3}, voxel.Pos{X: 1, Y: 8, Z: 6}
	recs := cuboid(lo, hi, func(p voxel.Pos) (int, int) {
		switch {
		case p.Y == lo.Y:
			return voxel.Stone, 0
		case (p.X+p.Z)%3 == 0:
			return 53, 2
		case p.X == 0:
			return voxel.Wool, 4
		default:
			return voxel.Air, 0
		}
	})
	path := writeSnapshot(t, recs)
	w := memworld.New(memworld.Options{Ground: 100})

	res, err := Restore(context.Background(), path, w, Options{})
	require.NoError(t, err)

	nonMajority := 0
	for _, r := range recs {
		if r.ID != res.Info.Majority {
			nonMajority++
		}
	}
	st := w.Stats()
	require.LessOrEqual(t, st.Fills+st.Writes, 1+nonMajority)
	require.Equal(t, 1+nonMajority, res.Writes())
	require.Equal(t, lo, res.Info.Box.Low)
	require.Equal(t, hi, res.Info.Box.High)

	for _, r := range recs {
		require.Equal(t, r.ID, w.Peek(r.Pos).ID, "block at %v", r.Pos)
		require.Zero(t, w.Peek(r.Pos).Data, "data at %v", r.Pos)
	}
}

func TestRestore_RepositionsPlayer(t *testing.T) {
	lo, hi := voxel.Pos{}, voxel.Pos{X: 2, Y: 4, Z: 2}
	recs := cuboid(lo, hi, func(p voxel.Pos) (int, int) {
		if p.Y <= 2 && p.X == 1 && p.Z == 1 {
			return voxel.Stone, 0
		}
		return voxel.Air, 0
	})
	path := writeSnapshot(t, recs)
	w := memworld.New(memworld.Options{Spawn: voxel.Pos{X: 1, Y: 10, Z: 1}})

	res, err := Restore(context.Background(), path, w, DefaultOptions())
	require.NoError(t, err)
	require.True(t, res.Moved)
	require.Equal(t, voxel.Pos{X: 1, Y: 3, Z: 1}, res.Player)

	tile, err := w.TilePos(context.Background())
	require.NoError(t, err)
	require.Equal(t, voxel.Pos{X: 1, Y: 3, Z: 1}, tile)
}

func TestRestore_BottomLayerNeverChecked(t *testing.T) {
	lo, hi := voxel.Pos{}, voxel.Pos{X: 1, Y: 2, Z: 1}
	recs := cuboid(lo, hi, func(p voxel.Pos) (int, int) {
		if p.Y == 0 {
			return voxel.Stone, 0
		}
		return voxel.Air, 0
	})
	path := writeSnapshot(t, recs)
	w := memworld.New(memworld.Options{Spawn: voxel.Pos{Y: 7}})

	res, err := Restore(context.Background(), path, w, DefaultOptions())
	require.NoError(t, err)
	require.False(t, res.Moved)
	require.Zero(t, w.Stats().Moves)
	require.Equal(t, 2, w.Stats().Reads)
}

func TestRestore_EmptySnapshot(t *testing.T) {
	w := memworld.New(memworld.Options{})
	for name, recs := range map[string][]voxel.Record{
		"empty":     nil,
		"data only": {rec(0, 0, 0, 53, 1), rec(0, 0, 1, 44, 8)},
	} {
		path := writeSnapshot(t, recs)
		_, err := Restore(context.Background(), path, w, DefaultOptions())
		require.True(t, protocol.Is(err, protocol.ErrEmptySnapshot), "%s: %v", name, err)
	}
	require.Equal(t, memworld.Stats{}, w.Stats())
}

func TestRestore_CorruptFileWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mbf")
	require.NoError(t, os.WriteFile(path, []byte("0,0,0,1,0\n0,0,1,1\n"), 0o644))
	w := memworld.New(memworld.Options{})

	_, err := Restore(context.Background(), path, w, DefaultOptions())
	require.True(t, protocol.Is(err, protocol.ErrFileParse), "%v", err)
	require.Equal(t, memworld.Stats{}, w.Stats())
}

func TestRestore_ClosedWorld(t *testing.T) {
	path := writeSnapshot(t, []voxel.Record{rec(0, 0, 0, 1, 0)})
	w := memworld.New(memworld.Options{})
	require.NoError(t, w.Close())

	_, err := Restore(context.Background(), path, w, DefaultOptions())
	require.True(t, protocol.Is(err, protocol.ErrConnection), "%v", err)
}

func TestRestore_Cancelled(t *testing.T) {
	path := writeSnapshot(t, []voxel.Record{rec(0, 0, 0, 1, 0)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Restore(ctx, path, memworld.New(memworld.Options{}), DefaultOptions())
	require.ErrorIs(t, err, context.Canceled)
}

// cancelOnWrite cancels its context on the first single-block write.
type cancelOnWrite struct {
	*memworld.World
	cancel context.CancelFunc
}

func (c cancelOnWrite) SetBlock(ctx context.Context, p voxel.Pos, id, data int) error {
	c.cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.World.SetBlock(ctx, p, id, data)
}

func TestRestore_CancelledDuringPatchIsNotAConnectionError(t *testing.T) {
	path := writeSnapshot(t, []voxel.Record{
		rec(0, 0, 0, 1, 0),
		rec(0, 0, 1, 1, 0),
		rec(1, 0, 0, 2, 0),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := memworld.New(memworld.Options{})

	res, err := Restore(ctx, path, cancelOnWrite{World: w, cancel: cancel}, DefaultOptions())
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, protocol.Code(err))
	require.Equal(t, 0, res.Patches)
	require.Equal(t, 1, w.Stats().Fills)
}
