// Package session runs the print-area workflow against one world connection:
// create the print area and its build plate, clear it, capture it, restore
// the undo snapshots and export captures as OpenSCAD.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelprint.ai/internal/config"
	"voxelprint.ai/internal/persistence/indexdb"
	vlog "voxelprint.ai/internal/persistence/log"
	"voxelprint.ai/internal/persistence/r2s3"
	"voxelprint.ai/internal/persistence/snapshot"
	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/region"
	"voxelprint.ai/internal/world"
)

// MirrorScheme prefixes snapshot sources that live in the mirror bucket.
const MirrorScheme = "mirror://"

// archiveKeep is how many superseded copies of each undo file are kept.
const archiveKeep = 10

// Deps are the collaborators a Session uses. All are optional: without a World
// only the file operations (export, print size, restore listing) work. The
// session takes ownership of everything passed in and closes it in Close.
type Deps struct {
	World   world.Session
	Logger  *log.Logger
	Index   *indexdb.SQLiteIndex
	Journal *vlog.OperationLogger
	Mirror  *r2s3.Mirror
	Now     func() time.Time
}

// Session serialises operations: one capture, restore or fill at a time.
type Session struct {
	cfg       config.Config
	world     world.Session
	log       *log.Logger
	index     *indexdb.SQLiteIndex
	journal   *vlog.OperationLogger
	mirror    *r2s3.Mirror
	now       func() time.Time
	statePath string

	mu    sync.Mutex
	state State
}

func New(cfg config.Config, d Deps) (*Session, error) {
	s := &Session{
		cfg:       cfg,
		world:     d.World,
		log:       d.Logger,
		index:     d.Index,
		journal:   d.Journal,
		mirror:    d.Mirror,
		now:       d.Now,
		statePath: cfg.Path(StateFile),
	}
	if s.now == nil {
		s.now = time.Now
	}
	st, err := LoadState(s.statePath)
	if err != nil {
		return nil, err
	}
	s.state = st
	return s, nil
}

func (s *Session) Config() config.Config { return s.cfg }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close flushes the mirror queue and closes the journal, index and world.
func (s *Session) Close() error {
	if rep := s.mirror.Close(); len(rep.Failed) > 0 {
		s.printf("mirror: %d of %d captures not uploaded: %s", len(rep.Failed), rep.Queued, strings.Join(rep.Failed, ", "))
	}
	var errs []error
	if err := s.journal.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.index.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.world != nil {
		if err := s.world.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) requireWorld(op string) (world.Session, error) {
	if s.world == nil {
		return nil, protocol.ConnectionError(op, errors.New("not connected to a world"))
	}
	return s.world, nil
}

func (s *Session) saveStateLocked() error {
	if err := SaveState(s.statePath, s.state); err != nil {
		return protocol.FileWriteError(s.statePath, err)
	}
	return nil
}

// resolve turns a snapshot source into a local path. Sources are local
// paths, mirror://<key> objects, or anything go-getter understands.
func (s *Session) resolve(ctx context.Context, src string) (string, error) {
	if key, ok := strings.CutPrefix(src, MirrorScheme); ok {
		if s.mirror == nil {
			return "", fmt.Errorf("%s: mirror is not configured", src)
		}
		return s.mirror.Fetch(ctx, key)
	}
	return snapshot.Fetch(ctx, src, s.cfg.Path("fetched"))
}

// op tracks one operation for the journal and the catalog.
type op struct {
	id      string
	name    string
	started time.Time
	area    region.Region
	path    string
	snap    string
	records int
	writes  int
	cancel  bool
}

func (s *Session) begin(name string, area region.Region, path string) *op {
	return &op{id: uuid.NewString(), name: name, started: s.now(), area: area, path: path}
}

func (s *Session) finish(o *op, err error) {
	dur := s.now().Sub(o.started)
	code := protocol.Code(err)
	if err != nil && code == "" {
		switch {
		case protocol.Cancelled(err):
			code = "CANCELLED"
		default:
			code = protocol.ErrInternal
		}
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}

	s.index.RecordOperation(indexdb.OperationRow{
		ID:         o.id,
		Op:         o.name,
		SnapshotID: o.snap,
		Path:       o.path,
		Code:       code,
		Detail:     detail,
		Writes:     o.writes,
		Duration:   dur,
		StartedAt:  o.started.UTC(),
	})
	if jerr := s.journal.WriteOp(vlog.Entry{
		ID:         o.id,
		Op:         o.name,
		Path:       o.path,
		Start:      o.area.Start.Array(),
		Size:       o.area.Size.Array(),
		Records:    o.records,
		Writes:     o.writes,
		Cancelled:  o.cancel,
		Code:       code,
		Error:      detail,
		DurationMs: dur.Milliseconds(),
	}); jerr != nil {
		s.printf("journal write failed op=%s err=%v", o.name, jerr)
	}

	if err != nil {
		s.printf("%s failed path=%s code=%s err=%v", o.name, o.path, code, err)
		return
	}
	s.printf("%s ok path=%s records=%d writes=%d dur=%s", o.name, o.path, o.records, o.writes, dur.Round(time.Millisecond))
}

func (s *Session) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
