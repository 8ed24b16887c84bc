package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"voxelprint.ai/internal/transport/mcpi"
	"voxelprint.ai/internal/transport/ws"
	"voxelprint.ai/internal/voxel"
	"voxelprint.ai/internal/world/memworld"
)

func main() {
	var (
		tcpAddr  = flag.String("tcp", ":4711", "line protocol listen address (empty to disable)")
		httpAddr = flag.String("http", ":4712", "http listen address for the websocket bridge (empty to disable)")
		ground   = flag.Int("ground", 64, "first air layer of the flat terrain")
		noBulk   = flag.Bool("nobulk", false, "answer world.getBlocks with Fail, like Minecraft: Pi Edition")
		spawn    = flag.String("spawn", "0,64,0", "player spawn tile x,y,z")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[stubworld] ", log.LstdFlags|log.Lmicroseconds)

	sp, err := parsePos(*spawn)
	if err != nil {
		logger.Fatalf("bad -spawn: %v", err)
	}
	w := memworld.New(memworld.Options{Ground: *ground, NoBulk: *noBulk, Spawn: sp})

	ctx, cancel := signalContext()
	defer cancel()

	if *tcpAddr != "" {
		ln, err := net.Listen("tcp", *tcpAddr)
		if err != nil {
			logger.Fatalf("listen %s: %v", *tcpAddr, err)
		}
		srv := mcpi.NewServer(w, logger)
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
		go func() {
			if err := srv.Serve(ln); err != nil {
				logger.Printf("tcp server stopped: %v", err)
				cancel()
			}
		}()
		logger.Printf("line protocol on %s", ln.Addr())
	}

	if *httpAddr == "" {
		<-ctx.Done()
		logStats(logger, w)
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(rw http.ResponseWriter, r *http.Request) {
		st := w.Stats()
		rw.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(rw, "reads %d\ndata_reads %d\nbulk_reads %d\nwrites %d\nfills %d\nfill_volume %d\nmoves %d\noverrides %d\n",
			st.Reads, st.DataReads, st.BulkReads, st.Writes, st.Fills, st.FillVolume, st.Moves, w.Overrides())
	})
	mux.HandleFunc("/mcpi", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("websocket bridge on ws://%s/mcpi", *httpAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	logStats(logger, w)
}

func logStats(logger *log.Logger, w *memworld.World) {
	st := w.Stats()
	logger.Printf("stopped reads=%d data_reads=%d bulk_reads=%d writes=%d fills=%d moves=%d", st.Reads, st.DataReads, st.BulkReads, st.Writes, st.Fills, st.Moves)
}

func parsePos(s string) (voxel.Pos, error) {
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
