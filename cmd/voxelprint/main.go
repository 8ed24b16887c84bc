package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"voxelprint.ai/internal/config"
	"voxelprint.ai/internal/persistence/indexdb"
	vlog "voxelprint.ai/internal/persistence/log"
	"voxelprint.ai/internal/restore"
	"voxelprint.ai/internal/session"
	"voxelprint.ai/internal/transport/mcpi"
	"voxelprint.ai/internal/voxel"
)

const usage = `usage: voxelprint <command> [flags]

commands:
  plate     create a print area around the player and draw its build plate
  clear     clear the print area (saves an undo snapshot first)
  restore   restore the build plate (-plate), the print area (-area) or a snapshot (-file)
  capture   save the print area to a snapshot file
  export    convert a snapshot to OpenSCAD
  info      print the size of a snapshot at the configured block size
  where     show the player position and the block there
  db        list catalogued snapshots or operations
  journal   dump the operation journal
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "plate":
		plateCmd(args)
	case "clear":
		clearCmd(args)
	case "restore":
		restoreCmd(args)
	case "capture":
		captureCmd(args)
	case "export":
		exportCmd(args)
	case "info":
		infoCmd(args)
	case "where":
		whereCmd(args)
	case "db":
		dbCmd(args)
	case "journal":
		journalCmd(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

// common holds the flags every command accepts.
type common struct {
	configPath *string
	addr       *string
	dataDir    *string
	notPi      *bool
	useUndo    *bool
	verbose    *bool
}

func commonFlags(fs *flag.FlagSet) *common {
	return &common{
		configPath: fs.String("config", config.DefaultPath, "config file (optional)"),
		addr:       fs.String("addr", "", "world address: tcp://host:port or ws://host/path (overrides config)"),
		dataDir:    fs.String("data", "", "data directory (overrides config)"),
		notPi:      fs.Bool("notpi", false, "treat the world as full-featured even on ARM"),
		useUndo:    fs.Bool("useundo", false, "keep print-area undo enabled on Minecraft: Pi Edition"),
		verbose:    fs.Bool("v", false, "log operations to stderr"),
	}
}

func (c *common) config() config.Config {
	cfg, err := config.Load(*c.configPath)
	if err != nil {
		fatal("config", err)
	}
	if v := strings.TrimSpace(*c.addr); v != "" {
		cfg.World.Addr = v
	}
	if v := strings.TrimSpace(*c.dataDir); v != "" {
		cfg.DataDir = v
	}
	return cfg.Resolve(runtime.GOARCH, *c.notPi, *c.useUndo)
}

func (c *common) logger() *log.Logger {
	if !*c.verbose {
		return nil
	}
	return log.New(os.Stderr, "[voxelprint] ", log.LstdFlags|log.Lmicroseconds)
}

// open builds a session. connect dials the world; file-only commands skip it.
func (c *common) open(ctx context.Context, connect bool) *session.Session {
	cfg := c.config()
	logger := c.logger()
	d := session.Deps{Logger: logger}

	if connect {
		cl, err := mcpi.Dial(ctx, cfg.World.Addr, cfg.World.DialTimeout())
		if err != nil {
			fatal("Error connecting to Minecraft. Please ensure that Minecraft is running", err)
		}
		d.World = cl
	}
	if cfg.Index.Enabled {
		idx, err := indexdb.OpenSQLite(indexPath(cfg))
		if err != nil {
			fatal("open index", err)
		}
		d.Index = idx
	}
	if cfg.Journal.Enabled {
		d.Journal = vlog.NewOperationLogger(cfg.DataDir)
	}
	m, err := buildMirror(cfg, logger)
	if err != nil {
		fatal("mirror", err)
	}
	d.Mirror = m

	s, err := session.New(cfg, d)
	if err != nil {
		fatal("session", err)
	}
	return s
}

func indexPath(cfg config.Config) string {
	return filepath.Join(cfg.DataDir, "index", "voxelprint.sqlite")
}

func plateCmd(args []string) {
	fs := flag.NewFlagSet("plate", flag.ExitOnError)
	c := commonFlags(fs)
	size := fs.String("size", "10,10,10", "print area size x,y,z")
	yOffset := fs.Int("yoffset", 0, "vertical offset of the print area from the player")
	block := fs.String("block", "stone", "build plate block: "+strings.Join(voxel.BlockNames(), ", "))
	_ = fs.Parse(args)

	sz, err := parseSize(*size)
	if err != nil {
		usageErr("bad -size: %v", err)
	}
	ctx, cancel := signalContext()
	defer cancel()
	s := c.open(ctx, true)
	defer s.Close()

	p := newProgress("Reading blocks")
	res, err := s.CreatePrintArea(ctx, session.PlateRequest{Size: sz, YOffset: *yOffset, Block: *block}, p.update)
	p.done()
	if err != nil {
		fail(s, "create print area", err)
	}
	if !res.KnownBlock {
		warnf("unknown block %q, build plate set to air", *block)
	}
	end := res.PrintArea.Start.Add(res.PrintArea.Size)
	plate := "enabled"
	if !res.BuildPlate.Visible {
		plate = "transparent"
	}
	okf("Build plate %s %v to %v", plate, res.PrintArea.Start, end)
	if res.Archived != "" {
		infof("previous undo archived to %s", res.Archived)
	}
}

func clearCmd(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	c := commonFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	s := c.open(ctx, true)
	defer s.Close()

	p := newProgress("Saving undo")
	res, err := s.ClearArea(ctx, p.update)
	p.done()
	if err != nil {
		fail(s, "clear area", err)
	}
	if res.Undo == nil {
		warnf("full undo disabled; the cleared blocks cannot be restored")
	} else {
		infof("undo saved: %s records", formatCount(res.Undo.Records))
	}
	okf("Cleared %v", res.Area)
}

func restoreCmd(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	c := commonFlags(fs)
	plate := fs.Bool("plate", false, "restore the blocks under the build plate")
	area := fs.Bool("area", false, "restore the cleared print area")
	file := fs.String("file", "", "restore any snapshot (local path, URL or mirror://key)")
	_ = fs.Parse(args)

	n := 0
	for _, b := range []bool{*plate, *area, *file != ""} {
		if b {
			n++
		}
	}
	if n != 1 {
		usageErr("choose exactly one of -plate, -area or -file")
	}

	ctx, cancel := signalContext()
	defer cancel()
	s := c.open(ctx, true)
	defer s.Close()

	var (
		res restore.Result
		err error
	)
	switch {
	case *plate:
		res, err = s.RestoreBuildPlate(ctx)
	case *area:
		res, err = s.RestorePrintArea(ctx)
	default:
		res, err = s.Restore(ctx, *file)
	}
	if err != nil {
		fail(s, "restore", err)
	}
	okf("Restored %s records with %s writes", formatCount(res.Info.Records), formatCount(res.Writes()))
	if res.Moved {
		infof("player moved to %v", res.Player)
	}
}

func captureCmd(args []string) {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	c := commonFlags(fs)
	out := fs.String("out", "", "output snapshot path (.mbf added when there is no extension; .zst compresses)")
	_ = fs.Parse(args)
	if *out == "" && fs.NArg() > 0 {
		*out = fs.Arg(0)
	}
	if strings.TrimSpace(*out) == "" {
		usageErr("missing -out")
	}

	ctx, cancel := signalContext()
	defer cancel()
	s := c.open(ctx, true)
	defer s.Close()

	p := newProgress("Reading blocks")
	res, err := s.SaveCapture(ctx, *out, p.update)
	p.done()
	if err != nil {
		if res.Cancelled {
			warnf("capture cancelled; %s records kept in %s", formatCount(res.Records), res.Path)
		}
		fail(s, "capture", err)
	}
	okf("Saved %s records to %s (%s)", formatCount(res.Records), res.Path, fileSize(res.Path))
	if size := res.Extent.FormatPrintSize(s.Config().BlockSize); size != "" {
		infof("print size %s", size)
	}
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	c := commonFlags(fs)
	in := fs.String("in", "", "snapshot to convert (default: last capture; URL or mirror://key accepted)")
	out := fs.String("out", "", "output .scad path (default: input with .scad extension)")
	blockSize := fs.Float64("block_size", 0, "block size (overrides config)")
	where := fs.String("where", "", `filter expression, e.g. kind == "stair" || y < 3`)
	lib := fs.Bool("lib", true, "write minecraft-print.scad next to the output when missing")
	_ = fs.Parse(args)
	if *in == "" && fs.NArg() > 0 {
		*in = fs.Arg(0)
	}

	ctx, cancel := signalContext()
	defer cancel()
	s := c.open(ctx, false)
	defer s.Close()

	res, err := s.Export(ctx, session.ExportRequest{
		Input:        *in,
		Output:       *out,
		BlockSize:    *blockSize,
		Where:        *where,
		WriteLibrary: *lib,
	})
	if err != nil {
		fail(s, "export", err)
	}
	okf("Wrote %s instructions to %s", formatCount(res.Stats.Instructions), res.Output)
	infof("%s records, %s excluded, %s filtered", formatCount(res.Stats.Records), formatCount(res.Stats.Excluded), formatCount(res.Stats.Filtered))
}

func infoCmd(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	c := commonFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	s := c.open(ctx, false)
	defer s.Close()

	ext, size, err := s.PrintSize(ctx, fs.Arg(0))
	if err != nil {
		fail(s, "info", err)
	}
	if size == "" {
		warnf("no printable blocks")
		return
	}
	b := ext.Blocks()
	fmt.Printf("blocks      %d x %d x %d\n", b[0], b[1], b[2])
	fmt.Printf("print size  %s\n", size)
}

func whereCmd(args []string) {
	fs := flag.NewFlagSet("where", flag.ExitOnError)
	c := commonFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	s := c.open(ctx, true)
	defer s.Close()

	p, b, err := s.Where(ctx)
	if err != nil {
		fail(s, "where", err)
	}
	fmt.Printf("Position is %d,%d,%d\n", p.X, p.Y, p.Z)
	fmt.Printf("Block is %d, data %d\n", b.ID, b.Data)
}

func parseSize(s string) (voxel.Pos, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return voxel.Pos{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return voxel.Pos{}, err
		}
		v[i] = n
	}
	return voxel.PosOf(v), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
