package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"voxelprint.ai/internal/geometry"
	"voxelprint.ai/internal/persistence/snapshot"
	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/region"
	"voxelprint.ai/internal/transport/mcpi"
	"voxelprint.ai/internal/voxel"
	"voxelprint.ai/internal/world/memworld"
)

func testWorld() *memworld.World {
	w := memworld.New(memworld.Options{Ground: 64})
	w.Put(voxel.Pos{X: 11, Y: 64, Z: 10}, 53, 3)
	w.Put(voxel.Pos{X: 10, Y: 65, Z: 11}, voxel.Wool, 5)
	return w
}

func testRegion(t *testing.T) region.Region {
	t.Helper()
	r := region.New()
	if err := r.SetSize(2, 2, 2); err != nil {
		t.Fatalf("SetSize: %v", err)
	}
	r.SetStart(10, 64, 10)
	return r
}

func rec(x, y, z, id, data int) voxel.Record {
	return voxel.Record{Pos: voxel.Pos{X: x, Y: y, Z: z}, ID: id, Data: data}
}

func TestCapture_BulkOrderAndStairData(t *testing.T) {
	w := testWorld()
	path := filepath.Join(t.TempDir(), "cap.mbf")
	res, err := Capture(context.Background(), w, path, testRegion(t), Options{Bulk: true})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	got, err := snapshot.ReadAll(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	// Bulk reads carry no data except for the re-read stair.
	want := []voxel.Record{
		rec(10, 64, 10, 0, 0),
		rec(10, 64, 11, 0, 0),
		rec(11, 64, 10, 53, 3),
		rec(11, 64, 11, 0, 0),
		rec(10, 65, 10, 0, 0),
		rec(10, 65, 11, voxel.Wool, 0),
		rec(11, 65, 10, 0, 0),
		rec(11, 65, 11, 0, 0),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
	if res.Records != 8 || !res.Bulk || res.Cancelled {
		t.Fatalf("result = %+v", res)
	}
	wantExtent := geometry.Extent{Min: [3]int{0, 0, 0}, Max: [3]int{1, 1, 1}, Set: true}
	if diff := cmp.Diff(wantExtent, res.Extent); diff != "" {
		t.Fatalf("extent (-want +got):\n%s", diff)
	}
	st := w.Stats()
	if st.BulkReads != 1 || st.DataReads != 1 {
		t.Fatalf("stats = %+v, want 1 bulk read and 1 data read", st)
	}
}

func TestCapture_FullDataReadsEveryVoxel(t *testing.T) {
	w := testWorld()
	path := filepath.Join(t.TempDir(), "full.mbf")
	res, err := Capture(context.Background(), w, path, testRegion(t), Options{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Bulk {
		t.Fatalf("expected per-voxel capture")
	}
	if st := w.Stats(); st.DataReads != 8 || st.BulkReads != 0 {
		t.Fatalf("stats = %+v", st)
	}
	got, err := snapshot.ReadAll(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if got[5] != rec(10, 65, 11, voxel.Wool, 5) {
		t.Fatalf("wool record = %v, want data kept", got[5])
	}
}

func TestCapture_FallsBackWithoutBulk(t *testing.T) {
	w := memworld.New(memworld.Options{Ground: 64, NoBulk: true})
	path := filepath.Join(t.TempDir(), "pi.mbf")
	res, err := Capture(context.Background(), w, path, testRegion(t), Options{Bulk: true})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Bulk || res.Records != 8 {
		t.Fatalf("result = %+v", res)
	}
	if st := w.Stats(); st.DataReads != 8 {
		t.Fatalf("stats = %+v", st)
	}
	if res.Extent.Set {
		t.Fatalf("all-air capture should have an empty extent, got %v", res.Extent)
	}
}

func TestCapture_Progress(t *testing.T) {
	var seen []float64
	r := testRegion(t)
	_ = r.SetSize(1, 4, 1)
	_, err := Capture(context.Background(), testWorld(), filepath.Join(t.TempDir(), "p.mbf"), r, Options{
		Bulk:     true,
		Progress: func(done float64) { seen = append(seen, done) },
	})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if diff := cmp.Diff([]float64{0.25, 0.5, 0.75, 1}, seen); diff != "" {
		t.Fatalf("progress (-want +got):\n%s", diff)
	}
}

func TestCapture_CancelKeepsPrefix(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "cancel.mbf")
	res, err := Capture(ctx, testWorld(), path, testRegion(t), Options{
		Bulk:     true,
		Progress: func(float64) { cancel() },
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !res.Cancelled || res.Records != 4 {
		t.Fatalf("result = %+v", res)
	}
	got, err := snapshot.ReadAll(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 4 || got[3] != rec(11, 64, 11, 0, 0) {
		t.Fatalf("prefix = %v", got)
	}
}

func TestCapture_InvalidRegion(t *testing.T) {
	_, err := Capture(context.Background(), testWorld(), filepath.Join(t.TempDir(), "x.mbf"), region.New(), Options{})
	if !protocol.Is(err, protocol.ErrBadRequest) {
		t.Fatalf("err = %v", err)
	}
}

func TestCapture_UnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Capture(context.Background(), testWorld(), filepath.Join(blocker, "x.mbf"), testRegion(t), Options{})
	if !protocol.Is(err, protocol.ErrFileWrite) {
		t.Fatalf("err = %v", err)
	}
}

// flakySource fails after a fixed number of per-voxel reads.
type flakySource struct {
	*memworld.World
	left int
}

func (f *flakySource) BlockWithData(ctx context.Context, p voxel.Pos) (voxel.Block, error) {
	if f.left == 0 {
		return voxel.Block{}, fmt.Errorf("broken pipe")
	}
	f.left--
	return f.World.BlockWithData(ctx, p)
}

func TestCapture_WorldErrorRemovesFile(t *testing.T) {
	src := &flakySource{World: testWorld(), left: 5}
	path := filepath.Join(t.TempDir(), "broken.mbf")
	_, err := Capture(context.Background(), src, path, testRegion(t), Options{})
	if !protocol.Is(err, protocol.ErrConnection) {
		t.Fatalf("err = %v, want E_CONNECTION", err)
	}
	var pe *protocol.Error
	if !errors.As(err, &pe) || pe.Pos == nil || *pe.Pos != (voxel.Pos{X: 10, Y: 65, Z: 11}) {
		t.Fatalf("error position = %+v", pe)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file left behind: %v", err)
	}
}

// cancelOnRead cancels its context just before the nth per-voxel read.
type cancelOnRead struct {
	Source
	n      int
	cancel context.CancelFunc
}

func (c *cancelOnRead) BlockWithData(ctx context.Context, p voxel.Pos) (voxel.Block, error) {
	c.n--
	if c.n == 0 {
		c.cancel()
	}
	return c.Source.BlockWithData(ctx, p)
}

// ctxWorld is a memworld that honours cancellation like a remote world does.
type ctxWorld struct {
	*memworld.World
}

func (w ctxWorld) BlockWithData(ctx context.Context, p voxel.Pos) (voxel.Block, error) {
	if err := ctx.Err(); err != nil {
		return voxel.Block{}, err
	}
	return w.World.BlockWithData(ctx, p)
}

func dialWorld(t *testing.T, w *memworld.World) *mcpi.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := mcpi.NewServer(w, nil)
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() { _ = s.Close() })

	c, err := mcpi.Dial(context.Background(), "tcp://"+ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCapture_CancelDuringReadKeepsWholeLayers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The sixth read is the second voxel of layer 1.
	src := &cancelOnRead{Source: dialWorld(t, testWorld()), n: 6, cancel: cancel}
	path := filepath.Join(t.TempDir(), "remote.mbf")

	res, err := Capture(ctx, src, path, testRegion(t), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if code := protocol.Code(err); code != "" {
		t.Fatalf("cancelled capture reported %s", code)
	}
	if !res.Cancelled || res.Records != 4 {
		t.Fatalf("result = %+v", res)
	}
	wantExtent := geometry.Extent{Min: [3]int{1, 0, 0}, Max: [3]int{1, 0, 0}, Set: true}
	if diff := cmp.Diff(wantExtent, res.Extent); diff != "" {
		t.Fatalf("extent (-want +got):\n%s", diff)
	}
	got, err := snapshot.ReadAll(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []voxel.Record{
		rec(10, 64, 10, 0, 0),
		rec(10, 64, 11, 0, 0),
		rec(11, 64, 10, 53, 3),
		rec(11, 64, 11, 0, 0),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
}

func TestCapture_CancelDuringStairReread(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancelOnRead{Source: ctxWorld{testWorld()}, n: 1, cancel: cancel}
	path := filepath.Join(t.TempDir(), "bulk.mbf")

	res, err := Capture(ctx, src, path, testRegion(t), Options{Bulk: true})
	if !errors.Is(err, context.Canceled) || protocol.Code(err) != "" {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if !res.Cancelled || res.Records != 0 || res.Extent.Set {
		t.Fatalf("result = %+v", res)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cancelled capture should keep its file: %v", err)
	}
}
