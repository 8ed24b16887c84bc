package archive

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type UndoArchiveMeta struct {
	Kind      string `json:"kind"`
	Source    string `json:"source"`
	Snapshot  string `json:"snapshot"`
	Bytes     int64  `json:"bytes"`
	CreatedAt string `json:"created_at"`
}

// ArchiveUndo copies the undo file at undoPath into
// `dataDir/archives/<name>/<timestamp>/` before it gets overwritten, and keeps
// at most keep archived copies per name (keep <= 0 keeps all). It returns
// archived=false when there is no undo file yet.
func ArchiveUndo(dataDir, undoPath, kind string, keep int, now time.Time) (archivedPath string, archived bool, err error) {
	st, err := os.Stat(undoPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if st.IsDir() {
		return "", false, &os.PathError{Op: "archive", Path: undoPath, Err: errors.New("is a directory")}
	}

	name := filepath.Base(undoPath)
	root := filepath.Join(dataDir, "archives", strings.TrimSuffix(name, filepath.Ext(name)))
	archiveDir := filepath.Join(root, now.UTC().Format("20060102T150405.000000000Z"))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, name)
	if err := copyFile(undoPath, dst); err != nil {
		return "", false, err
	}

	meta := UndoArchiveMeta{
		Kind:      kind,
		Source:    undoPath,
		Snapshot:  name,
		Bytes:     st.Size(),
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	if keep > 0 {
		if err := prune(root, keep); err != nil {
			return dst, true, err
		}
	}
	return dst, true, nil
}

// ListArchives returns the archived copies for an undo file name, oldest first.
func ListArchives(dataDir, undoName string) ([]string, error) {
	root := filepath.Join(dataDir, "archives", strings.TrimSuffix(undoName, filepath.Ext(undoName)))
	dirs, err := archiveDirs(root)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, filepath.Join(root, d, undoName))
	}
	return out, nil
}

func archiveDirs(root string) ([]string, error) {
	ents, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range ents {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	// Timestamps sort lexically.
	sort.Strings(dirs)
	return dirs, nil
}

func prune(root string, keep int) error {
	dirs, err := archiveDirs(root)
	if err != nil {
		return err
	}
	for len(dirs) > keep {
		if err := os.RemoveAll(filepath.Join(root, dirs[0])); err != nil {
			return err
		}
		dirs = dirs[1:]
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
