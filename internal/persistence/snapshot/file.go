// Package snapshot reads and writes captured voxel snapshots.
//
// A snapshot is plain text, one record per line: "x,y,z,id,data\n". Paths
// ending in ".zst" hold the same lines zstd-compressed.
package snapshot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/voxel"
)

// Ext is the conventional snapshot file extension.
const Ext = ".mbf"

func compressed(path string) bool { return strings.HasSuffix(path, ".zst") }

// Writer appends records to a snapshot file.
type Writer struct {
	path string
	f    *os.File
	enc  *zstd.Encoder
	bw   *bufio.Writer
	buf  []byte
	n    int
}

// Create truncates or creates path for writing.
func Create(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, protocol.FileWriteError(path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, protocol.FileWriteError(path, err)
	}
	w := &Writer{path: path, f: f, buf: make([]byte, 0, 64)}
	var dst io.Writer = f
	if compressed(path) {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = f.Close()
			return nil, protocol.FileWriteError(path, err)
		}
		w.enc = enc
		dst = enc
	}
	w.bw = bufio.NewWriterSize(dst, 256*1024)
	return w, nil
}

func (w *Writer) Path() string { return w.path }

// Records is the number of records written so far.
func (w *Writer) Records() int { return w.n }

func (w *Writer) Write(r voxel.Record) error {
	w.buf = voxel.AppendRecord(w.buf[:0], r)
	if _, err := w.bw.Write(w.buf); err != nil {
		return protocol.FileWriteError(w.path, err)
	}
	w.n++
	return nil
}

// Flush pushes buffered records to the file so that a reader sees a complete
// prefix of lines.
func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return protocol.FileWriteError(w.path, err)
	}
	if w.enc != nil {
		if err := w.enc.Flush(); err != nil {
			return protocol.FileWriteError(w.path, err)
		}
	}
	return nil
}

func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.bw.Flush()
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	if err != nil {
		return protocol.FileWriteError(w.path, err)
	}
	return nil
}

// Abort closes the file and removes it.
func (w *Writer) Abort() error {
	if w.f != nil {
		if w.enc != nil {
			_ = w.enc.Close()
		}
		_ = w.f.Close()
		w.f = nil
	}
	if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Reader iterates the records of a snapshot file.
type Reader struct {
	path string
	f    *os.File
	dec  *zstd.Decoder
	sc   *bufio.Scanner
	line int
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	r := &Reader{path: path, f: f}
	var src io.Reader = f
	if compressed(path) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, protocol.FileParseError(path, 0, err)
		}
		r.dec = dec
		src = dec
	}
	r.sc = bufio.NewScanner(bufio.NewReaderSize(src, 256*1024))
	return r, nil
}

func (r *Reader) Path() string { return r.path }

// Line is the 1-based number of the last line returned by Next.
func (r *Reader) Line() int { return r.line }

// Next returns the next record, or io.EOF after the last one. A line that does
// not parse yields an E_FILE_PARSE error naming the path and line.
func (r *Reader) Next() (voxel.Record, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return voxel.Record{}, protocol.FileParseError(r.path, r.line+1, err)
		}
		return voxel.Record{}, io.EOF
	}
	r.line++
	rec, err := voxel.ParseRecord(r.sc.Text())
	if err != nil {
		return voxel.Record{}, protocol.FileParseError(r.path, r.line, err)
	}
	return rec, nil
}

func (r *Reader) Close() error {
	if r.dec != nil {
		r.dec.Close()
		r.dec = nil
	}
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Scan calls fn for every record of path in file order. It stops at the first
// parse error, error from fn, or cancellation of ctx.
func Scan(ctx context.Context, path string, fn func(voxel.Record) error) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// WriteAll writes recs to path, replacing any existing file.
func WriteAll(path string, recs []voxel.Record) error {
	w, err := Create(path)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			_ = w.Abort()
			return err
		}
	}
	return w.Close()
}

// ReadAll loads every record of path.
func ReadAll(ctx context.Context, path string) ([]voxel.Record, error) {
	var out []voxel.Record
	err := Scan(ctx, path, func(r voxel.Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}
