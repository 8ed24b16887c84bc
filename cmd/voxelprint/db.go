package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"voxelprint.ai/internal/persistence/indexdb"
	vlog "voxelprint.ai/internal/persistence/log"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	c := commonFlags(fs)
	kind := fs.String("kind", "", "snapshot kind filter: capture, undo-build, undo-print")
	limit := fs.Int("limit", 20, "result limit")
	asJSON := fs.Bool("json", false, "print one JSON object per line")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	cfg := c.config()
	idx, err := indexdb.OpenSQLite(indexPath(cfg))
	if err != nil {
		fatal("open", err)
	}
	defer idx.Close()
	ctx := context.Background()

	switch q {
	case "snapshots":
		rows, err := idx.ListSnapshots(ctx, *kind, *limit)
		if err != nil {
			fatal("query", err)
		}
		if *asJSON {
			printJSONLines(rows)
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tKIND\tPATH\tSTART\tSIZE\tRECORDS\tMAJORITY\tFLAGS")
		for _, r := range rows {
			maj := "-"
			if r.HasMajority {
				maj = fmt.Sprint(r.Majority)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%dx%dx%d\t%s\t%s\t%s\n",
				humanize.Time(r.CreatedAt), r.Kind, r.Path, r.Start,
				r.Size.X, r.Size.Y, r.Size.Z, formatCount(r.Records), maj, flags(r))
		}
		_ = tw.Flush()

	case "operations", "ops":
		rows, err := idx.ListOperations(ctx, *limit)
		if err != nil {
			fatal("query", err)
		}
		if *asJSON {
			printJSONLines(rows)
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tOP\tPATH\tWRITES\tDURATION\tRESULT")
		for _, r := range rows {
			result := "ok"
			if r.Code != "" {
				result = r.Code
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				humanize.Time(r.StartedAt), r.Op, r.Path, formatCount(r.Writes), r.Duration.Round(time.Millisecond), result)
		}
		_ = tw.Flush()

	case "stats":
		st := idx.Stats()
		fmt.Printf("queue %d/%d dropped snapshots=%d operations=%d\n", st.QueueDepth, st.QueueCapacity, st.DropSnapshotTotal, st.DropOperationTotal)

	default:
		usageErr("unknown query %q (snapshots, operations, stats)", q)
	}
}

func flags(r indexdb.SnapshotRow) string {
	var f []string
	if r.Bulk {
		f = append(f, "bulk")
	}
	if r.Cancelled {
		f = append(f, "cancelled")
	}
	if len(f) == 0 {
		return "-"
	}
	return strings.Join(f, ",")
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	c := commonFlags(fs)
	op := fs.String("op", "", "only entries for this operation")
	failed := fs.Bool("failed", false, "only failed operations")
	_ = fs.Parse(args)

	cfg := c.config()
	entries, err := vlog.ReadJournal(vlog.JournalDir(cfg.DataDir))
	if err != nil {
		fatal("read journal", err)
	}
	var out []vlog.Entry
	for _, e := range entries {
		if *op != "" && e.Op != *op {
			continue
		}
		if *failed && e.Code == "" {
			continue
		}
		out = append(out, e)
	}
	printJSONLines(out)
}

func printJSONLines[T any](rows []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			fatal("encode", err)
		}
	}
}
