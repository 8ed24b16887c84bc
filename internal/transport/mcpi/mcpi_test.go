package mcpi

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/voxel"
	"voxelprint.ai/internal/world/memworld"
)

func startServer(t *testing.T, w *memworld.World) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := NewServer(w, nil)
	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()
	t.Cleanup(func() {
		_ = s.Close()
		require.NoError(t, <-done)
	})
	return ln.Addr().String()
}

func TestClient_RoundTripOverTCP(t *testing.T) {
	w := memworld.New(memworld.Options{Ground: 64, Spawn: voxel.Pos{X: 3, Y: 64, Z: -2}})
	addr := startServer(t, w)
	ctx := context.Background()

	c, err := Dial(ctx, "tcp://"+addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetBlock(ctx, voxel.Pos{X: 1, Y: 64, Z: 1}, 53, 2))
	b, err := c.BlockWithData(ctx, voxel.Pos{X: 1, Y: 64, Z: 1})
	require.NoError(t, err)
	require.Equal(t, voxel.Block{ID: 53, Data: 2}, b)

	id, err := c.Block(ctx, voxel.Pos{X: 0, Y: 63, Z: 0})
	require.NoError(t, err)
	require.Equal(t, voxel.Grass, id)

	require.NoError(t, c.SetBlocks(ctx, voxel.Pos{X: 0, Y: 70, Z: 0}, voxel.Pos{X: 1, Y: 70, Z: 1}, voxel.Wool))
	ids, err := c.Blocks(ctx, voxel.Pos{X: 0, Y: 69, Z: 0}, voxel.Pos{X: 1, Y: 70, Z: 1})
	require.NoError(t, err)
	require.Equal(t, []int{0, 0, 0, 0, 35, 35, 35, 35}, ids)

	tile, err := c.TilePos(ctx)
	require.NoError(t, err)
	require.Equal(t, voxel.Pos{X: 3, Y: 64, Z: -2}, tile)
	require.NoError(t, c.SetTile(ctx, voxel.Pos{X: 1, Y: 71, Z: 1}))

	require.NoError(t, c.PostToChat(ctx, "Creating print area\nnow"))
	// Setters have no reply; a getter afterwards proves the server consumed them.
	tile, err = c.TilePos(ctx)
	require.NoError(t, err)
	require.Equal(t, voxel.Pos{X: 1, Y: 71, Z: 1}, tile)
	require.Equal(t, []string{"Creating print area now"}, w.Chat())
}

func TestClient_BulkUnsupported(t *testing.T) {
	w := memworld.New(memworld.Options{NoBulk: true})
	c, err := Dial(context.Background(), startServer(t, w), time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Blocks(context.Background(), voxel.Pos{}, voxel.Pos{X: 1})
	require.True(t, protocol.Is(err, protocol.ErrUnsupported), "%v", err)

	// The session survives a Fail reply.
	_, err = c.Block(context.Background(), voxel.Pos{})
	require.NoError(t, err)
}

func TestDial_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr, 200*time.Millisecond)
	require.True(t, protocol.Is(err, protocol.ErrConnection), "%v", err)
}

func TestClient_BrokenConnectionIsSticky(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Close()
		}
		_ = ln.Close()
	}()

	c, err := Dial(context.Background(), ln.Addr().String(), time.Second)
	require.NoError(t, err)
	_, err = c.Block(context.Background(), voxel.Pos{})
	require.True(t, protocol.Is(err, protocol.ErrConnection), "%v", err)
	_, err = c.TilePos(context.Background())
	require.True(t, protocol.Is(err, protocol.ErrConnection), "%v", err)
	require.NoError(t, c.Close())
}

func TestClient_ClosedClient(t *testing.T) {
	c, err := Dial(context.Background(), startServer(t, memworld.New(memworld.Options{})), time.Second)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	err = c.SetBlock(context.Background(), voxel.Pos{}, 1, 0)
	require.True(t, protocol.Is(err, protocol.ErrConnection), "%v", err)
}
