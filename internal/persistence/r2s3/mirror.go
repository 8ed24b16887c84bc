package r2s3

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	mirrorQueue    = 16
	uploadAttempts = 3
	uploadTimeout  = 2 * time.Minute
)

// Report is what a Mirror did with the captures handed to it.
type Report struct {
	Queued int
	// Uploaded holds object keys in completion order.
	Uploaded []string
	// Failed holds local paths that never reached the bucket.
	Failed []string
}

// Mirror copies captured snapshots to the bucket in the background and brings
// mirrored ones back on demand. A capture under dataDir is stored at its path
// relative to dataDir; one elsewhere goes under "captures/".
type Mirror struct {
	client  *Client
	dataDir string
	prefix  string
	logger  *log.Logger

	jobs       chan string
	retryDelay time.Duration
	wg         sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	waiting map[string]bool
	report  Report
}

func NewMirror(client *Client, dataDir, prefix string, workers int, logger *log.Logger) *Mirror {
	m := &Mirror{
		client:     client,
		dataDir:    dataDir,
		prefix:     strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:     logger,
		jobs:       make(chan string, mirrorQueue),
		retryDelay: 500 * time.Millisecond,
		waiting:    map[string]bool{},
	}
	for i := 0; i < max(workers, 1); i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.mu.Lock()
				delete(m.waiting, localPath)
				m.mu.Unlock()
				m.upload(localPath)
			}
		}()
	}
	return m
}

// Enqueue schedules a capture for upload. A path already waiting is not
// queued twice since the upload reads whatever is on disk when it runs. A full
// queue fails the upload instead of stalling the capture.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.client == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.waiting[localPath] {
		return
	}
	select {
	case m.jobs <- localPath:
		m.waiting[localPath] = true
		m.report.Queued++
	default:
		m.report.Failed = append(m.report.Failed, localPath)
		m.printf("capture %s not mirrored: upload queue full", localPath)
	}
}

// Close waits for queued uploads and returns the final report. Later calls
// return the same report.
func (m *Mirror) Close() Report {
	if m == nil {
		return Report{}
	}
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.mu.Unlock()
	m.wg.Wait()
	return m.Report()
}

func (m *Mirror) Report() Report {
	if m == nil {
		return Report{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Report{
		Queued:   m.report.Queued,
		Uploaded: slices.Clone(m.report.Uploaded),
		Failed:   slices.Clone(m.report.Failed),
	}
}

// Fetch downloads a mirrored capture into <dataDir>/mirror and returns the
// local path.
func (m *Mirror) Fetch(ctx context.Context, key string) (string, error) {
	key = normalizeObjectKey(key)
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	rel := key
	if m.prefix != "" {
		rel = strings.TrimPrefix(rel, m.prefix+"/")
	}
	local := filepath.Join(m.dataDir, "mirror", filepath.FromSlash(rel))
	if err := m.client.GetFile(ctx, key, local); err != nil {
		return "", err
	}
	return local, nil
}

func (m *Mirror) upload(localPath string) {
	key, err := m.ObjectKey(localPath)
	if err == nil {
		err = m.put(key, localPath)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.report.Failed = append(m.report.Failed, localPath)
		m.printf("capture %s not mirrored: %v", localPath, err)
		return
	}
	m.report.Uploaded = append(m.report.Uploaded, key)
	m.printf("capture %s mirrored to %s", localPath, key)
}

func (m *Mirror) put(key, localPath string) error {
	var err error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		err = m.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < uploadAttempts {
			time.Sleep(time.Duration(attempt) * m.retryDelay)
		}
	}
	return fmt.Errorf("after %d attempts: %w", uploadAttempts, err)
}

// ObjectKey is the bucket key a capture is mirrored to.
func (m *Mirror) ObjectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}

	key := "captures/" + filepath.Base(absLocal)
	if rel, err := filepath.Rel(absBase, absLocal); err == nil {
		rel = filepath.ToSlash(rel)
		if rel != "." && !strings.HasPrefix(rel, "../") {
			key = rel
		}
	}
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
