package indexdb

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voxelprint.ai/internal/voxel"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqSnapshot}

	id := s.RecordSnapshot(SnapshotRow{Kind: KindCapture, Path: "/tmp/a.mbf"})
	require.NotEmpty(t, id)
	_ = s.RecordOperation(OperationRow{Op: "capture"})

	st := s.Stats()
	require.Equal(t, uint64(1), st.DropSnapshotTotal)
	require.Equal(t, uint64(1), st.DropOperationTotal)
	require.Equal(t, 1, st.QueueDepth)
	require.Equal(t, 1, st.QueueCapacity)
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	require.NotEmpty(t, s.RecordSnapshot(SnapshotRow{}))
	require.NotEmpty(t, s.RecordOperation(OperationRow{}))
	require.Equal(t, Stats{}, s.Stats())
}

func TestSQLiteIndex_CloseWhileRecording(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "race.sqlite"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 200; j++ {
				_ = s.RecordOperation(OperationRow{Op: "clear"})
				_ = s.RecordSnapshot(SnapshotRow{Kind: KindCapture, Path: "/tmp/a.mbf"})
			}
		}()
	}
	close(start)
	require.NoError(t, s.Close())
	wg.Wait()

	require.NotEmpty(t, s.RecordOperation(OperationRow{Op: "clear"}))
	require.NoError(t, s.Close())
}

func TestSQLiteIndex_RecordAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "voxelprint.sqlite")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	plate := s.RecordSnapshot(SnapshotRow{
		Kind:        KindBuildPlateUndo,
		Path:        "data-files/undo-build.tmp",
		Start:       voxel.Pos{X: -5, Y: 63, Z: -5},
		Size:        voxel.Pos{X: 10, Y: 1, Z: 10},
		Records:     100,
		Majority:    voxel.Grass,
		HasMajority: true,
		CreatedAt:   t0,
	})
	capID := s.RecordSnapshot(SnapshotRow{
		Kind:      KindCapture,
		Path:      "data-files/castle.mbf",
		Size:      voxel.Pos{X: 10, Y: 10, Z: 10},
		Records:   400,
		Bulk:      true,
		Cancelled: true,
		CreatedAt: t0.Add(time.Minute),
	})
	s.RecordOperation(OperationRow{
		Op:         "capture",
		SnapshotID: capID,
		Path:       "data-files/castle.mbf",
		Code:       "",
		Detail:     "cancelled",
		Duration:   1500 * time.Millisecond,
		StartedAt:  t0.Add(time.Minute),
	})
	s.RecordOperation(OperationRow{
		Op:        "restore",
		Path:      "data-files/undo-build.tmp",
		Code:      "E_EMPTY_SNAPSHOT",
		StartedAt: t0.Add(2 * time.Minute),
	})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	all, err := s.ListSnapshots(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, capID, all[0].ID)
	require.True(t, all[0].Bulk)
	require.True(t, all[0].Cancelled)
	require.False(t, all[0].HasMajority)
	require.Equal(t, plate, all[1].ID)
	require.Equal(t, voxel.Pos{X: -5, Y: 63, Z: -5}, all[1].Start)
	require.Equal(t, voxel.Grass, all[1].Majority)
	require.True(t, all[1].CreatedAt.Equal(t0))

	undo, err := s.ListSnapshots(ctx, KindBuildPlateUndo, 10)
	require.NoError(t, err)
	require.Len(t, undo, 1)

	latest, ok, err := s.LatestSnapshot(ctx, "data-files/castle.mbf")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 400, latest.Records)
	_, ok, err = s.LatestSnapshot(ctx, "nope.mbf")
	require.NoError(t, err)
	require.False(t, ok)

	ops, err := s.ListOperations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, "restore", ops[0].Op)
	require.Equal(t, "E_EMPTY_SNAPSHOT", ops[0].Code)
	require.Empty(t, ops[0].SnapshotID)
	require.Equal(t, capID, ops[1].SnapshotID)
	require.Equal(t, 1500*time.Millisecond, ops[1].Duration)
}
