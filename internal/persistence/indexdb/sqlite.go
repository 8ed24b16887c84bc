// Package indexdb keeps a SQLite catalog of captured snapshots and of the
// operations run against the world.
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"voxelprint.ai/internal/voxel"
)

// Snapshot kinds.
const (
	KindCapture        = "capture"
	KindBuildPlateUndo = "undo-build"
	KindPrintAreaUndo  = "undo-print"
)

type SnapshotRow struct {
	ID          string
	Kind        string
	Path        string
	Start       voxel.Pos
	Size        voxel.Pos
	Records     int
	Majority    int
	HasMajority bool
	Bulk        bool
	Cancelled   bool
	CreatedAt   time.Time
}

type OperationRow struct {
	ID         string
	Op         string
	SnapshotID string
	Path       string
	// Code is the error code of a failed operation, empty on success.
	Code      string
	Detail    string
	Writes    int
	Duration  time.Duration
	StartedAt time.Time
}

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	DropSnapshotTotal  uint64
	DropOperationTotal uint64
}

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders sends on ch against Close.
	mu     sync.Mutex
	closed bool

	dropSnapshot  atomic.Uint64
	dropOperation atomic.Uint64
}

type reqKind int

const (
	reqSnapshot reqKind = iota + 1
	reqOperation
)

type req struct {
	kind      reqKind
	snapshot  SnapshotRow
	operation OperationRow
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 1024),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			start_x INTEGER NOT NULL,
			start_y INTEGER NOT NULL,
			start_z INTEGER NOT NULL,
			size_x INTEGER NOT NULL,
			size_y INTEGER NOT NULL,
			size_z INTEGER NOT NULL,
			records INTEGER NOT NULL,
			majority INTEGER,
			bulk INTEGER NOT NULL,
			cancelled INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_kind_created ON snapshots(kind, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_path ON snapshots(path);`,
		`CREATE TABLE IF NOT EXISTS operations (
			id TEXT PRIMARY KEY,
			op TEXT NOT NULL,
			snapshot_id TEXT,
			path TEXT NOT NULL,
			code TEXT NOT NULL,
			detail TEXT NOT NULL,
			writes INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_operations_started ON operations(started_at);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(s.ch),
		QueueCapacity:      cap(s.ch),
		DropSnapshotTotal:  s.dropSnapshot.Load(),
		DropOperationTotal: s.dropOperation.Load(),
	}
}

// RecordSnapshot queues row and returns its id, assigning one if needed.
// Rows are dropped rather than blocking the caller when the writer falls
// behind.
func (s *SQLiteIndex) RecordSnapshot(row SnapshotRow) string {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if !s.offer(req{kind: reqSnapshot, snapshot: row}) {
		s.dropSnapshot.Add(1)
	}
	return row.ID
}

func (s *SQLiteIndex) RecordOperation(row OperationRow) string {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.StartedAt.IsZero() {
		row.StartedAt = time.Now().UTC()
	}
	if !s.offer(req{kind: reqOperation, operation: row}) {
		s.dropOperation.Add(1)
	}
	return row.ID
}

// offer queues r without blocking. It reports false only when the queue is
// full; a nil or closed index discards r.
func (s *SQLiteIndex) offer(r req) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

const snapshotCols = `id,kind,path,start_x,start_y,start_z,size_x,size_y,size_z,records,majority,bulk,cancelled,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(sc rowScanner) (SnapshotRow, error) {
	var (
		r         SnapshotRow
		majority  sql.NullInt64
		created   string
		bulk, cxl int
	)
	if err := sc.Scan(&r.ID, &r.Kind, &r.Path,
		&r.Start.X, &r.Start.Y, &r.Start.Z,
		&r.Size.X, &r.Size.Y, &r.Size.Z,
		&r.Records, &majority, &bulk, &cxl, &created); err != nil {
		return SnapshotRow{}, err
	}
	r.Majority, r.HasMajority = int(majority.Int64), majority.Valid
	r.Bulk, r.Cancelled = bulk != 0, cxl != 0
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return r, nil
}

// ListSnapshots returns the newest snapshots first. An empty kind lists all.
func (s *SQLiteIndex) ListSnapshots(ctx context.Context, kind string, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+snapshotCols+`
		FROM snapshots WHERE (? = '' OR kind = ?) ORDER BY created_at DESC, id LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		r, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the newest snapshot recorded for path.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context, path string) (SnapshotRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+snapshotCols+`
		FROM snapshots WHERE path = ? ORDER BY created_at DESC LIMIT 1`, path)
	r, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRow{}, false, nil
	}
	if err != nil {
		return SnapshotRow{}, false, err
	}
	return r, true, nil
}

func (s *SQLiteIndex) ListOperations(ctx context.Context, limit int) ([]OperationRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,op,COALESCE(snapshot_id,''),path,code,detail,writes,duration_ms,started_at
		FROM operations ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OperationRow
	for rows.Next() {
		var (
			r       OperationRow
			ms      int64
			started string
		)
		if err := rows.Scan(&r.ID, &r.Op, &r.SnapshotID, &r.Path, &r.Code, &r.Detail, &r.Writes, &ms, &started); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(id,kind,path,start_x,start_y,start_z,size_x,size_y,size_z,records,majority,bulk,cancelled,created_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertOperation, _ := s.db.Prepare(`INSERT OR REPLACE INTO operations(id,op,snapshot_id,path,code,detail,writes,duration_ms,started_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
		if insertOperation != nil {
			_ = insertOperation.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 200
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSnapshot:
			sn := r.snapshot
			var majority any
			if sn.HasMajority {
				majority = sn.Majority
			}
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					sn.ID, sn.Kind, sn.Path,
					sn.Start.X, sn.Start.Y, sn.Start.Z,
					sn.Size.X, sn.Size.Y, sn.Size.Z,
					sn.Records, majority,
					boolInt(sn.Bulk), boolInt(sn.Cancelled),
					sn.CreatedAt.UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqOperation:
			op := r.operation
			var snapID any
			if op.SnapshotID != "" {
				snapID = op.SnapshotID
			}
			if insertOperation != nil {
				if _, err := tx.Stmt(insertOperation).Exec(
					op.ID, op.Op, snapID, op.Path, op.Code, op.Detail, op.Writes,
					op.Duration.Milliseconds(),
					op.StartedAt.UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		// Commit whenever the queue drains; the CLI exits right after an
		// operation.
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
