package geometry

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"voxelprint.ai/internal/voxel"
)

// filterEnv is what a where-expression can see. x, y and z are model cells
// after the origin offset; wx, wy and wz are the stored world coordinates.
type filterEnv struct {
	X    int    `expr:"x"`
	Y    int    `expr:"y"`
	Z    int    `expr:"z"`
	WX   int    `expr:"wx"`
	WY   int    `expr:"wy"`
	WZ   int    `expr:"wz"`
	ID   int    `expr:"id"`
	Data int    `expr:"data"`
	Kind string `expr:"kind"`
}

// Filter is a compiled boolean expression over exported blocks, for example
// `z < 10 && kind != "half"`.
type Filter struct {
	src string
	prg *vm.Program
}

func NewFilter(src string) (*Filter, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty where expression")
	}
	prg, err := expr.Compile(src, expr.Env(filterEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile where %q: %w", src, err)
	}
	return &Filter{src: src, prg: prg}, nil
}

func (f *Filter) String() string { return f.src }

func (f *Filter) Match(r voxel.Record, in Instruction) (bool, error) {
	env := filterEnv{
		X: in.Cell[0], Y: in.Cell[1], Z: in.Cell[2],
		WX: r.Pos.X, WY: r.Pos.Y, WZ: r.Pos.Z,
		ID:   r.ID,
		Data: r.Data,
		Kind: in.Kind.String(),
	}
	out, err := expr.Run(f.prg, env)
	if err != nil {
		return false, err
	}
	keep, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("where %q returned %T", f.src, out)
	}
	return keep, nil
}
