package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"voxelprint.ai/internal/voxel"
)

const (
	// World connection unreachable or broken. Fatal for the session; never retried.
	ErrConnection = "E_CONNECTION"
	// Wire request or reply could not be understood.
	ErrBadRequest = "E_BAD_REQUEST"
	// The connected world does not implement the command (e.g. bulk reads on Pi).
	ErrUnsupported = "E_UNSUPPORTED"

	// File layer.
	ErrFileWrite = "E_FILE_WRITE"
	ErrFileParse = "E_FILE_PARSE"

	// Restore found no majority block; nothing was written.
	ErrEmptySnapshot = "E_EMPTY_SNAPSHOT"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrConnection:    {},
	ErrBadRequest:    {},
	ErrUnsupported:   {},
	ErrFileWrite:     {},
	ErrFileParse:     {},
	ErrEmptySnapshot: {},
	ErrInternal:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error carries a taxonomy code plus enough context (path, line, position) for
// the caller to act on.
type Error struct {
	Code string
	Op   string
	Path string
	Line int
	Pos  *voxel.Pos
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
	}
	if e.Pos != nil {
		b.WriteString(" at ")
		b.WriteString(e.Pos.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the taxonomy code of the first *Error in err's chain, or "".
func Code(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool { return err != nil && Code(err) == code }

// Cancelled reports whether err comes from a cancelled or expired context
// rather than from the world or a file.
func Cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func ConnectionError(op string, err error) error {
	return &Error{Code: ErrConnection, Op: op, Err: err}
}

func FileWriteError(path string, err error) error {
	return &Error{Code: ErrFileWrite, Op: "write", Path: path, Err: err}
}

func FileParseError(path string, line int, err error) error {
	return &Error{Code: ErrFileParse, Op: "parse", Path: path, Line: line, Err: err}
}

func EmptySnapshotError(path string) error {
	return &Error{Code: ErrEmptySnapshot, Op: "restore", Path: path, Err: errors.New("no majority block; nothing to restore")}
}
