// Package protocol implements the line-based block world API spoken by
// Minecraft: Pi Edition and the RaspberryJuice server plugin.
//
// A request is one line "name(arg,arg,...)". Getters answer one line; setters
// answer nothing. A getter that fails answers "Fail".
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const DefaultPort = 4711

const (
	CmdGetBlock         = "world.getBlock"
	CmdGetBlockWithData = "world.getBlockWithData"
	CmdGetBlocks        = "world.getBlocks"
	CmdSetBlock         = "world.setBlock"
	CmdSetBlocks        = "world.setBlocks"
	CmdGetTile          = "player.getTile"
	CmdSetTile          = "player.setTile"
	CmdChatPost         = "chat.post"
)

// Fail is the reply a server sends for a getter it could not serve.
const Fail = "Fail"

var replying = map[string]bool{
	CmdGetBlock:         true,
	CmdGetBlockWithData: true,
	CmdGetBlocks:        true,
	CmdGetTile:          true,
}

// HasReply reports whether the command answers with a line.
func HasReply(name string) bool { return replying[name] }

// Call is a decoded request line.
type Call struct {
	Name string
	// Raw is everything between the parentheses, unsplit.
	Raw string
}

// Encode renders a request line without its trailing newline.
func Encode(name string, args ...int) string {
	var b strings.Builder
	b.Grow(len(name) + 2 + 6*len(args))
	b.WriteString(name)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(a))
	}
	b.WriteByte(')')
	return b.String()
}

// EncodeChat renders a chat.post line. Newlines would split the request, so
// they are replaced with spaces.
func EncodeChat(msg string) string {
	msg = strings.NewReplacer("\r", " ", "\n", " ").Replace(msg)
	return CmdChatPost + "(" + msg + ")"
}

func DecodeCall(line string) (Call, error) {
	line = strings.TrimRight(line, "\r\n")
	open := strings.IndexByte(line, '(')
	if open <= 0 || !strings.HasSuffix(line, ")") {
		return Call{}, &Error{Code: ErrBadRequest, Op: "decode", Err: fmt.Errorf("malformed request %q", line)}
	}
	return Call{Name: line[:open], Raw: line[open+1 : len(line)-1]}, nil
}

// Ints parses the arguments as exactly n integers. n < 0 accepts any count.
func (c Call) Ints(n int) ([]int, error) {
	vals, err := ParseInts(c.Raw)
	if err != nil {
		return nil, &Error{Code: ErrBadRequest, Op: c.Name, Err: err}
	}
	if n >= 0 && len(vals) != n {
		return nil, &Error{Code: ErrBadRequest, Op: c.Name, Err: fmt.Errorf("want %d args, got %d", n, len(vals))}
	}
	return vals, nil
}

// ParseInts parses a comma separated list of integers. The API sends
// positions as floats in some replies, so "1.0" is accepted and truncated
// toward negative infinity.
func ParseInts(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q", p)
		}
		n := int(f)
		if float64(n) > f {
			n--
		}
		out = append(out, n)
	}
	return out, nil
}

// FormatInts renders a reply of integers.
func FormatInts(vals ...int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
