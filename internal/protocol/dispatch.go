package protocol

import (
	"context"
	"fmt"

	"voxelprint.ai/internal/voxel"
	"voxelprint.ai/internal/world"
)

// Dispatcher executes decoded request lines against a world. It is the server
// half of the API, shared by the TCP and WebSocket front ends.
type Dispatcher struct {
	World world.Session
}

// Handle runs one request. reply is only meaningful when ok is true. A getter
// whose execution fails yields (Fail, true, err) so the front end can both
// answer the client and log the cause.
func (d *Dispatcher) Handle(ctx context.Context, line string) (reply string, ok bool, err error) {
	call, err := DecodeCall(line)
	if err != nil {
		return "", false, err
	}
	reply, err = d.exec(ctx, call)
	if !HasReply(call.Name) {
		return "", false, err
	}
	if err != nil {
		return Fail, true, err
	}
	return reply, true, nil
}

func (d *Dispatcher) exec(ctx context.Context, c Call) (string, error) {
	w := d.World
	switch c.Name {
	case CmdGetBlock:
		a, err := c.Ints(3)
		if err != nil {
			return "", err
		}
		id, err := w.Block(ctx, voxel.Pos{X: a[0], Y: a[1], Z: a[2]})
		if err != nil {
			return "", err
		}
		return FormatInts(id), nil

	case CmdGetBlockWithData:
		a, err := c.Ints(3)
		if err != nil {
			return "", err
		}
		b, err := w.BlockWithData(ctx, voxel.Pos{X: a[0], Y: a[1], Z: a[2]})
		if err != nil {
			return "", err
		}
		return FormatInts(b.ID, b.Data), nil

	case CmdGetBlocks:
		a, err := c.Ints(6)
		if err != nil {
			return "", err
		}
		ids, err := w.Blocks(ctx, voxel.Pos{X: a[0], Y: a[1], Z: a[2]}, voxel.Pos{X: a[3], Y: a[4], Z: a[5]})
		if err != nil {
			return "", err
		}
		return FormatInts(ids...), nil

	case CmdSetBlock:
		a, err := c.Ints(-1)
		if err != nil {
			return "", err
		}
		if len(a) != 4 && len(a) != 5 {
			return "", &Error{Code: ErrBadRequest, Op: c.Name, Err: fmt.Errorf("want 4 or 5 args, got %d", len(a))}
		}
		data := 0
		if len(a) == 5 {
			data = a[4]
		}
		return "", w.SetBlock(ctx, voxel.Pos{X: a[0], Y: a[1], Z: a[2]}, a[3], data)

	case CmdSetBlocks:
		a, err := c.Ints(-1)
		if err != nil {
			return "", err
		}
		// A trailing data argument is accepted and ignored; fills are data 0.
		if len(a) != 7 && len(a) != 8 {
			return "", &Error{Code: ErrBadRequest, Op: c.Name, Err: fmt.Errorf("want 7 or 8 args, got %d", len(a))}
		}
		return "", w.SetBlocks(ctx, voxel.Pos{X: a[0], Y: a[1], Z: a[2]}, voxel.Pos{X: a[3], Y: a[4], Z: a[5]}, a[6])

	case CmdGetTile:
		p, err := w.TilePos(ctx)
		if err != nil {
			return "", err
		}
		return FormatInts(p.X, p.Y, p.Z), nil

	case CmdSetTile:
		a, err := c.Ints(3)
		if err != nil {
			return "", err
		}
		return "", w.SetTile(ctx, voxel.Pos{X: a[0], Y: a[1], Z: a[2]})

	case CmdChatPost:
		return "", w.PostToChat(ctx, c.Raw)

	default:
		return "", &Error{Code: ErrUnsupported, Op: c.Name, Err: fmt.Errorf("unknown command")}
	}
}
