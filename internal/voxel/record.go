package voxel

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one captured voxel: its world position, block id and data value.
type Record struct {
	Pos  Pos
	ID   int
	Data int
}

// Block is the result of a detailed single-voxel read.
type Block struct {
	ID   int
	Data int
}

// AppendRecord appends the snapshot line for r (including the trailing newline) to dst.
func AppendRecord(dst []byte, r Record) []byte {
	dst = strconv.AppendInt(dst, int64(r.Pos.X), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(r.Pos.Y), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(r.Pos.Z), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(r.ID), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(r.Data), 10)
	return append(dst, '\n')
}

// FormatRecord returns the snapshot line for r without the trailing newline.
func FormatRecord(r Record) string {
	b := AppendRecord(nil, r)
	return string(b[:len(b)-1])
}

// ParseRecord parses a single snapshot line: five comma separated decimal
// integers x,y,z,id,data. A trailing "\n" or "\r\n" is tolerated.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	var f [5]int
	rest := line
	for i := range f {
		var field string
		if i < len(f)-1 {
			j := strings.IndexByte(rest, ',')
			if j < 0 {
				return Record{}, fmt.Errorf("want 5 fields, got %d", i+1)
			}
			field, rest = rest[:j], rest[j+1:]
		} else {
			if strings.IndexByte(rest, ',') >= 0 {
				return Record{}, fmt.Errorf("want 5 fields, got more")
			}
			field = rest
		}
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return Record{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		f[i] = n
	}
	return Record{Pos: Pos{X: f[0], Y: f[1], Z: f[2]}, ID: f[3], Data: f[4]}, nil
}
