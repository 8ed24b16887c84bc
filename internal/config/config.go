// Package config loads voxelprint.yaml.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for a config file.
const DefaultPath = "voxelprint.yaml"

// Platform values.
const (
	PlatformAuto  = "auto"
	PlatformPi    = "pi"
	PlatformJuice = "juice"
)

type Config struct {
	World    World  `yaml:"world"`
	Platform string `yaml:"platform"`
	// FullUndo captures the print area before it is cleared.
	FullUndo  bool    `yaml:"full_undo"`
	BlockSize float64 `yaml:"block_size"`
	DataDir   string  `yaml:"data_dir"`
	Undo      Undo    `yaml:"undo"`
	Index     Toggle  `yaml:"index"`
	Journal   Toggle  `yaml:"journal"`
	Mirror    Mirror  `yaml:"mirror"`
}

type World struct {
	Addr          string `yaml:"addr"`
	DialTimeoutMs int    `yaml:"dial_timeout_ms"`
}

func (w World) DialTimeout() time.Duration {
	return time.Duration(w.DialTimeoutMs) * time.Millisecond
}

// Undo names the two undo snapshots, relative to the data dir.
type Undo struct {
	BuildPlate string `yaml:"build_plate"`
	PrintArea  string `yaml:"print_area"`
}

type Toggle struct {
	Enabled bool `yaml:"enabled"`
}

// Mirror uploads captured snapshots to an S3-compatible bucket. Credentials
// only come from the environment.
type Mirror struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Workers  int    `yaml:"workers"`

	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

func Defaults() Config {
	return Config{
		World: World{
			Addr:          "tcp://127.0.0.1:4711",
			DialTimeoutMs: 5000,
		},
		Platform:  PlatformAuto,
		FullUndo:  true,
		BlockSize: 1,
		DataDir:   "data-files",
		Undo: Undo{
			BuildPlate: "undo-build.tmp",
			PrintArea:  "undo-print.tmp",
		},
		Index:   Toggle{Enabled: true},
		Journal: Toggle{Enabled: true},
		Mirror: Mirror{
			Region:  "auto",
			Prefix:  "voxelprint",
			Workers: 2,
		},
	}
}

// Load reads path on top of Defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return c, err
	default:
		if err := validateYAML(raw); err != nil {
			return c, fmt.Errorf("%s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return c, fmt.Errorf("%s: %w", path, err)
		}
	}
	c.ApplyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// ApplyEnv overrides fields from VP_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("VP_WORLD_ADDR")); v != "" {
		c.World.Addr = v
	}
	if v := strings.TrimSpace(getenv("VP_PLATFORM")); v != "" {
		c.Platform = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv("VP_MIRROR_ACCESS_KEY_ID")); v != "" {
		c.Mirror.AccessKeyID = v
	}
	if v := strings.TrimSpace(getenv("VP_MIRROR_SECRET_ACCESS_KEY")); v != "" {
		c.Mirror.SecretAccessKey = v
	}
}

// Validate checks c against the config schema.
func (c Config) Validate() error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := validateYAML(raw); err != nil {
		return err
	}
	if c.Mirror.Enabled && (c.Mirror.AccessKeyID == "" || c.Mirror.SecretAccessKey == "") {
		return fmt.Errorf("mirror enabled but VP_MIRROR_ACCESS_KEY_ID/VP_MIRROR_SECRET_ACCESS_KEY not set")
	}
	return nil
}

// Path joins name onto the data dir unless name is absolute.
func (c Config) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

func (c Config) BuildPlateUndo() string { return c.Path(c.Undo.BuildPlate) }
func (c Config) PrintAreaUndo() string  { return c.Path(c.Undo.PrintArea) }

// Resolve fixes the platform for the machine we run on. "auto" means Pi on
// ARM. Pi worlds have no bulk reads and skip the print-area undo unless
// useUndo is set; notPi forces the full-featured platform.
func (c Config) Resolve(goarch string, notPi, useUndo bool) Config {
	if c.Platform == PlatformAuto || c.Platform == "" {
		c.Platform = PlatformJuice
		if goarch == "arm" || goarch == "arm64" {
			c.Platform = PlatformPi
		}
	}
	if notPi {
		c.Platform = PlatformJuice
	}
	if c.Platform == PlatformPi && !useUndo {
		c.FullUndo = false
	}
	return c
}

func (c Config) IsPi() bool { return c.Platform == PlatformPi }

//go:embed config.schema.json
var schemaJSON []byte

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	comp := jsonschema.NewCompiler()
	if err := comp.AddResource("config.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		panic(err)
	}
	s, err := comp.Compile("config.schema.json")
	if err != nil {
		panic(err)
	}
	return s
}

func validateYAML(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round trip through JSON so the validator sees JSON types.
	js, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
