package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"voxelprint.ai/internal/region"
)

// StateFile is the name of the persisted session state inside the data dir.
const StateFile = "state.yaml"

// State is what survives between CLI invocations: the print area, the plate
// under it and the last snapshot written or loaded.
type State struct {
	PrintArea  region.Region `yaml:"print_area"`
	BuildPlate region.Region `yaml:"build_plate"`
	PlateBlock string        `yaml:"plate_block,omitempty"`
	// Snapshot is the most recent capture, used as the default export input.
	Snapshot string `yaml:"snapshot,omitempty"`
}

func NewState() State {
	return State{PrintArea: region.New(), BuildPlate: region.New()}
}

// LoadState reads path. A missing file yields NewState.
func LoadState(path string) (State, error) {
	st := NewState()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if err := yaml.Unmarshal(b, &st); err != nil {
		return NewState(), fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}

// SaveState writes st atomically.
func SaveState(path string, st State) error {
	b, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
