package voxel

import (
	"sort"
	"strings"
)

// Block ids used by the capture and restore paths (Minecraft Pi / RaspberryJuice numbering).
const (
	Air      = 0
	Stone    = 1
	Grass    = 2
	Dirt     = 3
	Planks   = 5
	Bedrock  = 7
	Wood     = 17
	Glass    = 20
	Wool     = 35
	Obsidian = 49

	// Transparent is the build-plate sentinel meaning "leave the blocks alone".
	Transparent = -1
)

// Kind is the geometry class of a block id.
type Kind int

const (
	KindStandard Kind = iota
	KindExcluded
	// KindStair blocks carry a facing in data bits 0-1 and an upside-down flag in bit 2.
	KindStair
	// KindHalf blocks are slabs; data selects the half.
	KindHalf
)

func (k Kind) String() string {
	switch k {
	case KindExcluded:
		return "excluded"
	case KindStair:
		return "stair"
	case KindHalf:
		return "half"
	default:
		return "standard"
	}
}

var (
	stairIDs = idSet(53, 67, 164, 203)
	halfIDs  = idSet(Planks, 44, 126)

	// Kept in snapshots but never exported: air, fluids, plants, torches, fire,
	// ladders, sugar cane, stained glass and glass panes.
	excludedIDs = idSet(Air, 6, 8, 9, 10, 11, 30, 31, 37, 38, 39, 40, 50, 51, 65, 83, 95, 102)

	blockNames = map[string]int{
		"transparent": Transparent,
		"air":         Air,
		"stone":       Stone,
		"bedrock":     Bedrock,
		"wood":        Wood,
		"wool":        Wool,
		"obsidian":    Obsidian,
	}
)

func idSet(ids ...int) map[int]struct{} {
	m := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func IsStair(id int) bool {
	_, ok := stairIDs[id]
	return ok
}

func IsHalf(id int) bool {
	_, ok := halfIDs[id]
	return ok
}

func IsExcluded(id int) bool {
	_, ok := excludedIDs[id]
	return ok
}

// NeedsData reports whether a bulk-read id must be re-read with its data value.
func NeedsData(id int) bool { return IsStair(id) || IsHalf(id) }

// Classify returns the geometry kind for id. Negative ids are excluded.
func Classify(id int) Kind {
	switch {
	case id < 0 || IsExcluded(id):
		return KindExcluded
	case IsStair(id):
		return KindStair
	case IsHalf(id):
		return KindHalf
	default:
		return KindStandard
	}
}

// BlockByName maps a build-plate block name to its id. Unknown names fall back
// to air; ok is false in that case.
func BlockByName(name string) (id int, ok bool) {
	id, ok = blockNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Air, false
	}
	return id, true
}

// BlockNames lists the accepted build-plate block names in sorted order.
func BlockNames() []string {
	out := make([]string, 0, len(blockNames))
	for k := range blockNames {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
