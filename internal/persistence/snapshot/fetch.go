package snapshot

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"
)

// Fetch makes src available as a local file and returns its path. Local paths
// are returned unchanged; anything else (http, https, s3, gcs, git, ...) is
// downloaded into dir.
func Fetch(ctx context.Context, src, dir string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", fmt.Errorf("empty snapshot source")
	}
	if st, err := os.Stat(src); err == nil && !st.IsDir() {
		return src, nil
	}

	name := remoteName(src)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)

	pwd, _ := os.Getwd()
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Pwd:  pwd,
		Mode: getter.ClientModeFile,
		// Snapshots are stored as-is; a ".zst" snapshot must not be unpacked.
		Decompressors: map[string]getter.Decompressor{},
	}
	if err := client.Get(); err != nil {
		return "", fmt.Errorf("fetch %s: %w", src, err)
	}
	return dst, nil
}

func remoteName(src string) string {
	s := src
	if i := strings.Index(s, "::"); i >= 0 {
		s = s[i+2:]
	}
	if u, err := url.Parse(s); err == nil && u.Path != "" {
		s = u.Path
	}
	s = strings.TrimSuffix(s, "/")
	if i := strings.Index(s, "//"); i >= 0 {
		s = s[i+2:]
	}
	name := path.Base(s)
	if name == "" || name == "." || name == "/" {
		name = "snapshot" + Ext
	}
	return name
}
