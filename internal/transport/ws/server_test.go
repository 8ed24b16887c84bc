package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/transport/mcpi"
	"voxelprint.ai/internal/voxel"
	"voxelprint.ai/internal/world/memworld"
)

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestServer_RawMessages(t *testing.T) {
	w := memworld.New(memworld.Options{Ground: 1})
	ts := httptest.NewServer(NewServer(w, nil).Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	send := func(line string) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(line)))
	}
	recv := func() string {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		return string(msg)
	}

	send("world.setBlock(2,5,2,44,3)")
	send("world.getBlockWithData(2,5,2)")
	require.Equal(t, "44,3", recv())

	send("world.getBlock(0,0,0)")
	require.Equal(t, "2", recv())

	// Malformed and unknown requests produce no reply; the next getter still answers.
	send("nonsense")
	send("world.frobnicate(1)")
	send("player.getTile()")
	require.Equal(t, "0,0,0", recv())
}

func TestServer_WithClient(t *testing.T) {
	w := memworld.New(memworld.Options{Ground: 64, NoBulk: true})
	ts := httptest.NewServer(NewServer(w, nil).Handler())
	defer ts.Close()

	ctx := context.Background()
	c, err := mcpi.Dial(ctx, wsURL(ts), time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetBlocks(ctx, voxel.Pos{X: -1, Y: 64, Z: -1}, voxel.Pos{X: 1, Y: 64, Z: 1}, voxel.Wool))
	b, err := c.BlockWithData(ctx, voxel.Pos{X: 1, Y: 64, Z: -1})
	require.NoError(t, err)
	require.Equal(t, voxel.Block{ID: voxel.Wool}, b)

	_, err = c.Blocks(ctx, voxel.Pos{}, voxel.Pos{X: 1, Y: 1, Z: 1})
	require.True(t, protocol.Is(err, protocol.ErrUnsupported), "%v", err)

	require.NoError(t, c.PostToChat(ctx, "Clearing print area"))
	_, err = c.TilePos(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Clearing print area"}, w.Chat())
	require.Equal(t, 9, w.Overrides())
}
