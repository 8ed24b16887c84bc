package mcpi

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/world"
)

// Server answers the line protocol on raw TCP connections, like the game's own
// API port.
type Server struct {
	d   *protocol.Dispatcher
	log *log.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(w world.Session, logger *log.Logger) *Server {
	return &Server{
		d:     &protocol.Dispatcher{World: w},
		log:   logger,
		conns: make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until Close. It returns nil after Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	for {
		c, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(c)
		}()
	}
}

func (s *Server) handle(c net.Conn) {
	defer func() {
		_ = c.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()
	s.printf("client connected remote=%s", c.RemoteAddr())

	ctx := context.Background()
	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 4096), 1024*1024)
	w := bufio.NewWriter(c)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		reply, ok, err := s.d.Handle(ctx, line)
		if err != nil {
			s.printf("request failed remote=%s line=%q err=%v", c.RemoteAddr(), line, err)
		}
		if !ok {
			continue
		}
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := w.WriteString(reply + "\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
	s.printf("client disconnected remote=%s", c.RemoteAddr())
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
