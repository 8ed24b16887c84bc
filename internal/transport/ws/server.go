// Package ws bridges the line protocol onto WebSocket text messages: one
// request per message, one reply message per getter.
package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voxelprint.ai/internal/protocol"
	"voxelprint.ai/internal/world"
)

type Server struct {
	d   *protocol.Dispatcher
	log *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w world.Session, logger *log.Logger) *Server {
	s := &Server{
		d:   &protocol.Dispatcher{World: w},
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.printf("client connected remote=%s", r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan string, 16)
		done := make(chan struct{})

		// Writer goroutine.
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case reply, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if typ != websocket.TextMessage || len(msg) == 0 {
				continue
			}
			line := string(msg)
			reply, ok, err := s.d.Handle(ctx, line)
			if err != nil {
				s.printf("request failed remote=%s line=%q err=%v", r.RemoteAddr, line, err)
			}
			if !ok {
				continue
			}
			select {
			case out <- reply:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		close(out)
		<-done
		s.printf("client disconnected remote=%s", r.RemoteAddr)
	}
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
