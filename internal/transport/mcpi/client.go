// Package mcpi connects to a block world that speaks the Minecraft: Pi
// Edition API, over raw TCP or a WebSocket bridge.
package mcpi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/voxel"
)

// lineConn carries one request or reply line at a time.
type lineConn interface {
	send(line string) error
	recv() (string, error)
	setDeadline(t time.Time) error
	close() error
}

// Client is a world session. Calls are serialised: each getter waits for its
// reply before the next request is sent.
type Client struct {
	addr string

	mu     sync.Mutex
	conn   lineConn
	broken error
}

// Dial connects to addr, which is "tcp://host[:port]", "host[:port]" or a
// "ws://" / "wss://" URL. The port defaults to 4711.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	addr = strings.TrimSpace(addr)
	var (
		conn lineConn
		err  error
	)
	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		conn, err = dialWS(ctx, addr, timeout)
	default:
		conn, err = dialTCP(ctx, addr, timeout)
	}
	if err != nil {
		return nil, protocol.ConnectionError("dial "+addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration) (lineConn, error) {
	hostport := strings.TrimPrefix(addr, "tcp://")
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		hostport = net.JoinHostPort(strings.Trim(hostport, "[]"), strconv.Itoa(protocol.DefaultPort))
	}
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, err
	}
	return &tcpConn{c: c, r: bufio.NewReaderSize(c, 64*1024), w: bufio.NewWriter(c)}, nil
}

func dialWS(ctx context.Context, addr string, timeout time.Duration) (lineConn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	d := websocket.Dialer{
		HandshakeTimeout: timeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	c, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type tcpConn struct {
	c net.Conn
	r *bufio.Reader
	w *bufio.Writer
}

func (t *tcpConn) send(line string) error {
	if _, err := t.w.WriteString(line); err != nil {
		return err
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *tcpConn) recv() (string, error) {
	line, err := t.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *tcpConn) setDeadline(d time.Time) error { return t.c.SetDeadline(d) }
func (t *tcpConn) close() error                  { return t.c.Close() }

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) send(line string) error {
	return w.c.WriteMessage(websocket.TextMessage, []byte(line))
}

func (w *wsConn) recv() (string, error) {
	_, msg, err := w.c.ReadMessage()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(msg), "\r\n"), nil
}

func (w *wsConn) setDeadline(d time.Time) error {
	if err := w.c.SetReadDeadline(d); err != nil {
		return err
	}
	return w.c.SetWriteDeadline(d)
}

func (w *wsConn) close() error {
	_ = w.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return w.c.Close()
}

func (c *Client) Addr() string { return c.addr }

// do sends line and, when the command has a reply, waits for it. An I/O
// failure poisons the client: every later call returns the same E_CONNECTION.
func (c *Client) do(ctx context.Context, name, line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return "", c.broken
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	deadline, _ := ctx.Deadline()
	_ = c.conn.setDeadline(deadline)

	if err := c.conn.send(line); err != nil {
		return "", c.fail(name, err)
	}
	if !protocol.HasReply(name) {
		return "", nil
	}
	reply, err := c.conn.recv()
	if err != nil {
		return "", c.fail(name, err)
	}
	if reply == protocol.Fail {
		code := protocol.ErrBadRequest
		if name == protocol.CmdGetBlocks {
			code = protocol.ErrUnsupported
		}
		return "", &protocol.Error{Code: code, Op: name, Err: errors.New("world answered Fail")}
	}
	return reply, nil
}

func (c *Client) fail(name string, err error) error {
	c.broken = protocol.ConnectionError(name, err)
	_ = c.conn.close()
	return c.broken
}

func (c *Client) ints(ctx context.Context, name, line string, n int) ([]int, error) {
	reply, err := c.do(ctx, name, line)
	if err != nil {
		return nil, err
	}
	vals, err := protocol.ParseInts(reply)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Op: name, Err: err}
	}
	if n >= 0 && len(vals) != n {
		return nil, &protocol.Error{Code: protocol.ErrBadRequest, Op: name, Err: fmt.Errorf("want %d values, got %q", n, reply)}
	}
	return vals, nil
}

func (c *Client) Block(ctx context.Context, p voxel.Pos) (int, error) {
	v, err := c.ints(ctx, protocol.CmdGetBlock, protocol.Encode(protocol.CmdGetBlock, p.X, p.Y, p.Z), 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (c *Client) BlockWithData(ctx context.Context, p voxel.Pos) (voxel.Block, error) {
	v, err := c.ints(ctx, protocol.CmdGetBlockWithData, protocol.Encode(protocol.CmdGetBlockWithData, p.X, p.Y, p.Z), 2)
	if err != nil {
		return voxel.Block{}, err
	}
	return voxel.Block{ID: v[0], Data: v[1]}, nil
}

func (c *Client) Blocks(ctx context.Context, lo, hi voxel.Pos) ([]int, error) {
	want := (abs(hi.X-lo.X) + 1) * (abs(hi.Y-lo.Y) + 1) * (abs(hi.Z-lo.Z) + 1)
	return c.ints(ctx, protocol.CmdGetBlocks, protocol.Encode(protocol.CmdGetBlocks, lo.X, lo.Y, lo.Z, hi.X, hi.Y, hi.Z), want)
}

func (c *Client) SetBlock(ctx context.Context, p voxel.Pos, id, data int) error {
	_, err := c.do(ctx, protocol.CmdSetBlock, protocol.Encode(protocol.CmdSetBlock, p.X, p.Y, p.Z, id, data))
	return err
}

func (c *Client) SetBlocks(ctx context.Context, lo, hi voxel.Pos, id int) error {
	_, err := c.do(ctx, protocol.CmdSetBlocks, protocol.Encode(protocol.CmdSetBlocks, lo.X, lo.Y, lo.Z, hi.X, hi.Y, hi.Z, id))
	return err
}

func (c *Client) TilePos(ctx context.Context) (voxel.Pos, error) {
	v, err := c.ints(ctx, protocol.CmdGetTile, protocol.Encode(protocol.CmdGetTile), 3)
	if err != nil {
		return voxel.Pos{}, err
	}
	return voxel.Pos{X: v[0], Y: v[1], Z: v[2]}, nil
}

func (c *Client) SetTile(ctx context.Context, p voxel.Pos) error {
	_, err := c.do(ctx, protocol.CmdSetTile, protocol.Encode(protocol.CmdSetTile, p.X, p.Y, p.Z))
	return err
}

func (c *Client) PostToChat(ctx context.Context, msg string) error {
	_, err := c.do(ctx, protocol.CmdChatPost, protocol.EncodeChat(msg))
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return nil
	}
	c.broken = protocol.ConnectionError("closed", errors.New("client closed"))
	return c.conn.close()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
