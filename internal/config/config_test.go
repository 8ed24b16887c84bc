package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"VP_WORLD_ADDR", "VP_PLATFORM", "VP_MIRROR_ACCESS_KEY_ID", "VP_MIRROR_SECRET_ACCESS_KEY"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultPath)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Defaults()
	if c.World != d.World || c.BlockSize != 1 || c.Platform != PlatformAuto || !c.FullUndo {
		t.Fatalf("config = %+v", c)
	}
	if c.BuildPlateUndo() != filepath.Join("data-files", "undo-build.tmp") {
		t.Fatalf("BuildPlateUndo = %q", c.BuildPlateUndo())
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
world:
  addr: ws://mc.local:14711/mcpi
block_size: 2.5
undo:
  print_area: /tmp/area.mbf
journal:
  enabled: false
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.World.Addr != "ws://mc.local:14711/mcpi" || c.World.DialTimeoutMs != 5000 {
		t.Fatalf("world = %+v", c.World)
	}
	if c.BlockSize != 2.5 || c.Journal.Enabled || !c.Index.Enabled {
		t.Fatalf("config = %+v", c)
	}
	if c.PrintAreaUndo() != "/tmp/area.mbf" {
		t.Fatalf("PrintAreaUndo = %q", c.PrintAreaUndo())
	}
}

func TestLoad_SchemaRejects(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"unknown key":      "wrold: {}\n",
		"bad platform":     "platform: xbox\n",
		"zero block size":  "block_size: 0\n",
		"bad addr":         "world: {addr: 'localhost:4711'}\n",
		"string timeout":   "world: {dial_timeout_ms: soon}\n",
		"mirror no bucket": "mirror: {enabled: true, endpoint: 'https://r2.example'}\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VP_WORLD_ADDR", "tcp://10.0.0.2:4711")
	t.Setenv("VP_PLATFORM", "PI")
	c, err := Load(writeConfig(t, "platform: juice\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.World.Addr != "tcp://10.0.0.2:4711" || c.Platform != PlatformPi {
		t.Fatalf("config = %+v", c)
	}
}

func TestLoad_MirrorNeedsCredentials(t *testing.T) {
	clearEnv(t)
	body := "mirror: {enabled: true, endpoint: 'https://r2.example', bucket: snaps}\n"
	_, err := Load(writeConfig(t, body))
	if err == nil || !strings.Contains(err.Error(), "VP_MIRROR_ACCESS_KEY_ID") {
		t.Fatalf("err = %v", err)
	}
	t.Setenv("VP_MIRROR_ACCESS_KEY_ID", "id")
	t.Setenv("VP_MIRROR_SECRET_ACCESS_KEY", "secret")
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Mirror.AccessKeyID != "id" || c.Mirror.Workers != 2 {
		t.Fatalf("mirror = %+v", c.Mirror)
	}
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name     string
		platform string
		goarch   string
		notPi    bool
		useUndo  bool
		want     string
		fullUndo bool
	}{
		{"amd64 auto", PlatformAuto, "amd64", false, false, PlatformJuice, true},
		{"arm auto", PlatformAuto, "arm", false, false, PlatformPi, false},
		{"arm64 useundo", PlatformAuto, "arm64", false, true, PlatformPi, true},
		{"arm notpi", PlatformAuto, "arm", true, false, PlatformJuice, true},
		{"explicit pi", PlatformPi, "amd64", false, false, PlatformPi, false},
		{"explicit juice on arm", PlatformJuice, "arm", false, false, PlatformJuice, true},
	}
	for _, tc := range cases {
		c := Defaults()
		c.Platform = tc.platform
		got := c.Resolve(tc.goarch, tc.notPi, tc.useUndo)
		if got.Platform != tc.want || got.FullUndo != tc.fullUndo {
			t.Errorf("%s: platform=%s full_undo=%v, want %s %v", tc.name, got.Platform, got.FullUndo, tc.want, tc.fullUndo)
		}
		if got.IsPi() != (tc.want == PlatformPi) {
			t.Errorf("%s: IsPi mismatch", tc.name)
		}
	}
}
