// Package geometry turns captured snapshots into OpenSCAD placement
// instructions and measures their printed size.
package geometry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelprint.ai/internal/persistence/snapshot"
	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/voxel"
)

// Library is the OpenSCAD module file every generated model includes.
const Library = "minecraft-print.scad"

// SCAD module names, one per geometry kind.
const (
	ShapeStandard = "standard_block"
	ShapeStair    = "stair_block"
	ShapeHalf     = "half_block"
)

// Instruction places one block in model space.
type Instruction struct {
	Kind voxel.Kind
	// Cell is the block's model coordinate after the origin offset.
	Cell [3]int
	// Data is passed through for stair and half blocks.
	Data int
}

// Position is the model-space translation for a given block edge length.
func (in Instruction) Position(blockSize float64) [3]float64 {
	return [3]float64{
		blockSize * float64(in.Cell[0]),
		blockSize * float64(in.Cell[1]),
		blockSize * float64(in.Cell[2]),
	}
}

func (in Instruction) Shape() string {
	switch in.Kind {
	case voxel.KindStair:
		return ShapeStair
	case voxel.KindHalf:
		return ShapeHalf
	default:
		return ShapeStandard
	}
}

// AppendSCAD appends the instruction as one OpenSCAD statement, newline
// included. Coordinates stay symbolic in block_size.
func (in Instruction) AppendSCAD(dst []byte) []byte {
	dst = append(dst, "translate(["...)
	for i, c := range in.Cell {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, "block_size*"...)
		dst = strconv.AppendInt(dst, int64(c), 10)
	}
	dst = append(dst, "]) "...)
	dst = append(dst, in.Shape()...)
	dst = append(dst, '(')
	if in.Kind != voxel.KindStandard {
		dst = strconv.AppendInt(dst, int64(in.Data), 10)
	}
	return append(dst, ");\n"...)
}

// Model maps world positions to model cells. The world x axis runs the other
// way in OpenSCAD and the vertical axis is the model's z.
func Model(p voxel.Pos) [3]int { return [3]int{-p.X, p.Z, p.Y} }

// Converter classifies records one at a time. The first record seen fixes the
// origin offset whether or not it produces an instruction.
type Converter struct {
	offset [3]int
	seen   bool
}

// Next returns the instruction for r, or false when r is not exported.
func (c *Converter) Next(r voxel.Record) (Instruction, bool) {
	m := Model(r.Pos)
	if !c.seen {
		c.offset = [3]int{-m[0], -m[1], -m[2]}
		c.seen = true
	}
	kind := voxel.Classify(r.ID)
	if kind == voxel.KindExcluded {
		return Instruction{}, false
	}
	in := Instruction{
		Kind: kind,
		Cell: [3]int{m[0] + c.offset[0], m[1] + c.offset[1], m[2] + c.offset[2]},
	}
	if kind != voxel.KindStandard {
		in.Data = r.Data
	}
	return in, true
}

// Options tunes Convert.
type Options struct {
	// Where keeps only records the filter accepts. Nil keeps everything.
	Where *Filter
	// WriteLibrary also writes the SCAD module library next to the output when
	// it is not already there.
	WriteLibrary bool
}

type Stats struct {
	Records      int
	Instructions int
	Excluded     int
	Filtered     int
	Extent       Extent
}

// Header writes the include directive and the block size assignment.
func Header(w io.Writer, blockSize float64) error {
	_, err := fmt.Fprintf(w, "include <%s>\nblock_size = %s;\n", Library, formatBlockSize(blockSize))
	return err
}

// formatBlockSize always carries a decimal point, so 1 is written "1.0".
func formatBlockSize(bs float64) string {
	s := strconv.FormatFloat(bs, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

// ConvertStream reads records from r and writes the model to w.
func ConvertStream(ctx context.Context, r *snapshot.Reader, w io.Writer, blockSize float64, where *Filter) (Stats, error) {
	var st Stats
	if err := Header(w, blockSize); err != nil {
		return st, err
	}
	var (
		conv Converter
		buf  = make([]byte, 0, 96)
	)
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		rec, err := r.Next()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, err
		}
		st.Records++
		in, ok := conv.Next(rec)
		if !ok {
			st.Excluded++
			continue
		}
		if where != nil {
			keep, err := where.Match(rec, in)
			if err != nil {
				return st, &protocol.Error{Code: protocol.ErrBadRequest, Op: "where", Path: r.Path(), Line: r.Line(), Err: err}
			}
			if !keep {
				st.Filtered++
				continue
			}
		}
		buf = in.AppendSCAD(buf[:0])
		if _, err := w.Write(buf); err != nil {
			return st, err
		}
		st.Instructions++
		st.Extent.Add(rec.Pos)
	}
}

// Convert writes the OpenSCAD model of the snapshot at in to out. The output
// is replaced only when the whole snapshot converts; a parse error leaves any
// previous file untouched.
func Convert(ctx context.Context, in, out string, blockSize float64, opts Options) (Stats, error) {
	r, err := snapshot.Open(in)
	if err != nil {
		return Stats{}, err
	}
	defer r.Close()

	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Stats{}, protocol.FileWriteError(out, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(out)+".*")
	if err != nil {
		return Stats{}, protocol.FileWriteError(out, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriterSize(tmp, 256*1024)
	st, err := ConvertStream(ctx, r, bw, blockSize, opts.Where)
	if err != nil {
		var pe *protocol.Error
		if errors.As(err, &pe) || protocol.Cancelled(err) {
			return st, err
		}
		return st, protocol.FileWriteError(out, err)
	}
	if err := bw.Flush(); err != nil {
		return st, protocol.FileWriteError(out, err)
	}
	if err := tmp.Close(); err != nil {
		return st, protocol.FileWriteError(out, err)
	}
	if err := os.Rename(tmpName, out); err != nil {
		return st, protocol.FileWriteError(out, err)
	}
	committed = true

	if opts.WriteLibrary {
		if err := WriteLibrary(dir); err != nil {
			return st, err
		}
	}
	return st, nil
}

// ExportPath is the default model path for a snapshot: a ".zst" suffix is
// dropped, then a ".mbf" extension is swapped for ".scad" and anything else
// gets ".scad" appended.
func ExportPath(snapshotPath string) string {
	base := strings.TrimSuffix(snapshotPath, ".zst")
	if filepath.Ext(base) == snapshot.Ext {
		return strings.TrimSuffix(base, snapshot.Ext) + ".scad"
	}
	return base + ".scad"
}
