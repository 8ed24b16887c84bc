package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/session"
)

var (
	stdoutTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	stderrTTY = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func init() {
	if !stdoutTTY {
		color.NoColor = true
	}
}

func okf(format string, args ...any)   { _, _ = okColor.Printf(format+"\n", args...) }
func infof(format string, args ...any) { _, _ = dimColor.Printf(format+"\n", args...) }

func warnf(format string, args ...any) {
	_, _ = warnColor.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
}

func usageErr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}

func fatal(what string, err error) {
	_, _ = errColor.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

// fail closes s and exits. An empty snapshot is reported as a warning and is
// not a failure.
func fail(s *session.Session, what string, err error) {
	_ = s.Close()
	if protocol.Is(err, protocol.ErrEmptySnapshot) {
		warnf("%s: nothing to do: %v", what, err)
		os.Exit(0)
	}
	fatal(what, err)
}

func formatCount(n int) string { return humanize.Comma(int64(n)) }

func fileSize(path string) string {
	st, err := os.Stat(path)
	if err != nil {
		return "?"
	}
	return humanize.Bytes(uint64(st.Size()))
}

// progress renders a percentage on stderr while a capture runs. It stays quiet
// when stderr is not a terminal.
type progress struct {
	label string
	shown bool
}

func newProgress(label string) *progress { return &progress{label: label} }

func (p *progress) update(done float64) {
	if !stderrTTY {
		return
	}
	p.shown = true
	fmt.Fprintf(os.Stderr, "\r%s %3.0f%%", p.label, done*100)
}

func (p *progress) done() {
	if p.shown {
		fmt.Fprintln(os.Stderr)
	}
}
