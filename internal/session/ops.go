package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelprint.ai/internal/capture"
	"voxelprint.ai/internal/geometry"
	"voxelprint.ai/internal/persistence/archive"
	"voxelprint.ai/internal/persistence/indexdb"
	"voxelprint.ai/internal/persistence/snapshot"
	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/region"
	"voxelprint.ai/internal/restore"
	"voxelprint.ai/internal/voxel"
)

// CaptureExt is added to capture paths given without an extension.
const CaptureExt = ".mbf"

// Chat notices posted to the world.
const (
	MsgCreatePrintArea = "Creating print area"
	MsgSetBuildPlate   = "Setting build plate blocks"
)

// PlateRequest describes a new print area.
type PlateRequest struct {
	Size voxel.Pos
	// YOffset raises (or lowers) the bottom layer relative to the player.
	YOffset int
	// Block names the build plate block; "transparent" leaves it untouched.
	Block string
}

type PlateResult struct {
	PrintArea  region.Region
	BuildPlate region.Region
	BlockID    int
	// KnownBlock is false when Block was not recognised and air was used.
	KnownBlock bool
	Undo       capture.Result
	Archived   string
}

// CreatePrintArea centres a print area of req.Size on the player, saves the
// layer underneath with full block data as the build-plate undo, then draws
// the plate. The space above the plate is not touched.
func (s *Session) CreatePrintArea(ctx context.Context, req PlateRequest, progress func(float64)) (PlateResult, error) {
	if _, err := s.requireWorld("plate"); err != nil {
		return PlateResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pa := region.New()
	if err := pa.SetSize(req.Size.X, req.Size.Y, req.Size.Z); err != nil {
		return PlateResult{}, &protocol.Error{Code: protocol.ErrBadRequest, Op: "plate", Err: err}
	}
	o := s.begin("plate", pa, s.cfg.BuildPlateUndo())
	res, err := s.createPrintArea(ctx, o, pa, req, progress)
	s.finish(o, err)
	return res, err
}

func (s *Session) createPrintArea(ctx context.Context, o *op, pa region.Region, req PlateRequest, progress func(float64)) (PlateResult, error) {
	if err := s.world.PostToChat(ctx, MsgCreatePrintArea); err != nil {
		return PlateResult{}, err
	}
	pos, err := s.world.TilePos(ctx)
	if err != nil {
		return PlateResult{}, err
	}
	pa.SetMiddle(pos.X, pos.Y+req.YOffset, pos.Z)
	plate := pa.Below()
	o.area = pa

	id, known := voxel.BlockByName(req.Block)
	if !known {
		s.printf("unknown build plate block %q, using air", req.Block)
	}
	res := PlateResult{PrintArea: pa, BuildPlate: plate, BlockID: id, KnownBlock: known}

	undoPath := s.cfg.BuildPlateUndo()
	if res.Archived, err = s.archive(undoPath, indexdb.KindBuildPlateUndo); err != nil {
		return res, err
	}
	res.Undo, err = s.captureTo(ctx, o, indexdb.KindBuildPlateUndo, undoPath, plate, false, progress)
	if err != nil {
		return res, err
	}

	if id == voxel.Transparent {
		plate.SetVisible(false)
	} else {
		if err := s.world.PostToChat(ctx, MsgSetBuildPlate); err != nil {
			return res, err
		}
		end := plate.End()
		if err := s.world.SetBlocks(ctx, plate.Start, end, id); err != nil {
			return res, err
		}
		o.writes = 1
		plate.SetVisible(true)
	}
	res.BuildPlate = plate

	s.state.PrintArea = pa
	s.state.BuildPlate = plate
	s.state.PlateBlock = strings.ToLower(strings.TrimSpace(req.Block))
	return res, s.saveStateLocked()
}

type ClearResult struct {
	Area region.Region
	// Undo is set when the area was captured before clearing.
	Undo     *capture.Result
	Archived string
}

// ClearArea fills the print area with air, saving it first as the print-area
// undo when full undo is enabled.
func (s *Session) ClearArea(ctx context.Context, progress func(float64)) (ClearResult, error) {
	if _, err := s.requireWorld("clear"); err != nil {
		return ClearResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pa, err := s.printAreaLocked("clear")
	if err != nil {
		return ClearResult{}, err
	}
	o := s.begin("clear", pa, "")
	res := ClearResult{Area: pa}
	err = func() error {
		if s.cfg.FullUndo {
			undoPath := s.cfg.PrintAreaUndo()
			o.path = undoPath
			archived, err := s.archive(undoPath, indexdb.KindPrintAreaUndo)
			if err != nil {
				return err
			}
			res.Archived = archived
			cr, err := s.captureTo(ctx, o, indexdb.KindPrintAreaUndo, undoPath, pa, !s.cfg.IsPi(), progress)
			if err != nil {
				return err
			}
			res.Undo = &cr
		}
		if err := s.world.SetBlocks(ctx, pa.Start, pa.End(), voxel.Air); err != nil {
			return err
		}
		o.writes = 1
		return nil
	}()
	s.finish(o, err)
	return res, err
}

// SaveCapture writes the print area to path, adding CaptureExt when path has
// no extension. The snapshot becomes the default export input and is queued
// for the mirror.
func (s *Session) SaveCapture(ctx context.Context, path string, progress func(float64)) (capture.Result, error) {
	if _, err := s.requireWorld("capture"); err != nil {
		return capture.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pa, err := s.printAreaLocked("capture")
	if err != nil {
		return capture.Result{}, err
	}
	if strings.TrimSpace(path) == "" {
		return capture.Result{}, &protocol.Error{Code: protocol.ErrBadRequest, Op: "capture", Err: errors.New("no output path")}
	}
	if filepath.Ext(path) == "" {
		path += CaptureExt
	}
	o := s.begin("capture", pa, path)
	res, err := s.captureTo(ctx, o, indexdb.KindCapture, path, pa, !s.cfg.IsPi(), progress)
	s.finish(o, err)
	if err != nil {
		return res, err
	}
	s.mirror.Enqueue(path)
	s.state.Snapshot = path
	return res, s.saveStateLocked()
}

// RestoreBuildPlate puts back the blocks saved when the plate was drawn.
func (s *Session) RestoreBuildPlate(ctx context.Context) (restore.Result, error) {
	return s.restore(ctx, "restore-plate", s.cfg.BuildPlateUndo())
}

// RestorePrintArea puts back the blocks saved before the area was cleared.
func (s *Session) RestorePrintArea(ctx context.Context) (restore.Result, error) {
	return s.restore(ctx, "restore-area", s.cfg.PrintAreaUndo())
}

// Restore writes any snapshot back into the world. src may be remote.
func (s *Session) Restore(ctx context.Context, src string) (restore.Result, error) {
	local, err := s.resolve(ctx, src)
	if err != nil {
		return restore.Result{}, err
	}
	return s.restore(ctx, "restore", local)
}

func (s *Session) restore(ctx context.Context, name, path string) (restore.Result, error) {
	w, err := s.requireWorld(name)
	if err != nil {
		return restore.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.begin(name, region.New(), path)
	res, err := restore.Restore(ctx, path, w, restore.DefaultOptions())
	if errors.Is(err, os.ErrNotExist) {
		err = fmt.Errorf("no undo file %s: %w", path, err)
	}
	if res.Info.Box != res.Info.Bounds {
		s.printf("restore bound %v does not cover snapshot extent %v", res.Info.Box, res.Info.Bounds)
	}
	if res.Info.Box.Set {
		o.area.SetStart(res.Info.Box.Low.X, res.Info.Box.Low.Y, res.Info.Box.Low.Z)
		o.area.Size = res.Info.Box.Size()
	}
	o.records = res.Info.Records
	o.writes = res.Writes()
	s.finish(o, err)
	return res, err
}

type ExportRequest struct {
	// Input is a snapshot source; empty means the last capture.
	Input string
	// Output defaults to the input path with a .scad extension.
	Output string
	// BlockSize overrides the configured block size when positive.
	BlockSize    float64
	Where        string
	WriteLibrary bool
}

type ExportResult struct {
	Input  string
	Output string
	Stats  geometry.Stats
}

// Export converts a snapshot into OpenSCAD placement instructions.
func (s *Session) Export(ctx context.Context, req ExportRequest) (ExportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := req.Input
	if src == "" {
		src = s.state.Snapshot
	}
	if src == "" {
		return ExportResult{}, &protocol.Error{Code: protocol.ErrBadRequest, Op: "export", Err: errors.New("no snapshot given and none captured yet")}
	}
	bs := req.BlockSize
	if bs <= 0 {
		bs = s.cfg.BlockSize
	}
	opts := geometry.Options{WriteLibrary: req.WriteLibrary}
	if strings.TrimSpace(req.Where) != "" {
		f, err := geometry.NewFilter(req.Where)
		if err != nil {
			return ExportResult{}, &protocol.Error{Code: protocol.ErrBadRequest, Op: "export", Err: err}
		}
		opts.Where = f
	}

	o := s.begin("export", region.New(), src)
	res, err := func() (ExportResult, error) {
		local, err := s.resolve(ctx, src)
		if err != nil {
			return ExportResult{}, err
		}
		out := req.Output
		if out == "" {
			out = geometry.ExportPath(local)
		}
		o.path = out
		st, err := geometry.Convert(ctx, local, out, bs, opts)
		o.records = st.Records
		return ExportResult{Input: local, Output: out, Stats: st}, err
	}()
	s.finish(o, err)
	return res, err
}

// PrintSize measures the non-excluded blocks of a snapshot at the configured
// block size. The text form is empty for a snapshot with no such blocks.
func (s *Session) PrintSize(ctx context.Context, src string) (geometry.Extent, string, error) {
	if src == "" {
		src = s.State().Snapshot
	}
	if src == "" {
		return geometry.Extent{}, "", &protocol.Error{Code: protocol.ErrBadRequest, Op: "info", Err: errors.New("no snapshot given and none captured yet")}
	}
	local, err := s.resolve(ctx, src)
	if err != nil {
		return geometry.Extent{}, "", err
	}
	ext, err := geometry.Measure(ctx, local)
	if err != nil {
		return ext, "", err
	}
	return ext, ext.FormatPrintSize(s.cfg.BlockSize), nil
}

// Where reports the player's tile and the block at it.
func (s *Session) Where(ctx context.Context) (voxel.Pos, voxel.Block, error) {
	w, err := s.requireWorld("where")
	if err != nil {
		return voxel.Pos{}, voxel.Block{}, err
	}
	p, err := w.TilePos(ctx)
	if err != nil {
		return voxel.Pos{}, voxel.Block{}, err
	}
	b, err := w.BlockWithData(ctx, p)
	if err != nil {
		return p, voxel.Block{}, err
	}
	return p, b, nil
}

func (s *Session) printAreaLocked(op string) (region.Region, error) {
	pa := s.state.PrintArea
	if !pa.Valid {
		return pa, &protocol.Error{Code: protocol.ErrBadRequest, Op: op, Err: errors.New("no print area; create one first")}
	}
	return pa, nil
}

func (s *Session) archive(undoPath, kind string) (string, error) {
	dst, archived, err := archive.ArchiveUndo(s.cfg.DataDir, undoPath, kind, archiveKeep, s.now())
	if err != nil {
		return "", protocol.FileWriteError(undoPath, err)
	}
	if archived {
		s.printf("archived previous undo %s -> %s", undoPath, dst)
	}
	return dst, nil
}

// captureTo runs a capture and catalogs the snapshot, including a cancelled
// prefix.
func (s *Session) captureTo(ctx context.Context, o *op, kind, path string, area region.Region, bulk bool, progress func(float64)) (capture.Result, error) {
	res, err := capture.Capture(ctx, s.world, path, area, capture.Options{Bulk: bulk, Progress: progress})
	o.records = res.Records
	o.cancel = res.Cancelled
	if err != nil && !res.Cancelled {
		return res, err
	}
	row := indexdb.SnapshotRow{
		Kind:      kind,
		Path:      path,
		Start:     area.Start,
		Size:      area.Size,
		Records:   res.Records,
		Bulk:      res.Bulk,
		Cancelled: res.Cancelled,
		CreatedAt: s.now().UTC(),
	}
	if s.index != nil && !res.Cancelled {
		if info, ierr := snapshot.Index(ctx, path); ierr == nil {
			row.Majority = info.Majority
			row.HasMajority = info.HasMajority
		}
	}
	o.snap = s.index.RecordSnapshot(row)
	return res, err
}
