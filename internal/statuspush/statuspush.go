// Package statuspush streams control.Surface.GetState() snapshots to any
// connected websocket client: an initial snapshot on connect, then a fresh
// one every push interval as long as at least one client is listening.
//
// Grounded on devskill-org-miners-scheduler/scheduler/server.go's
// WebServer: a sync.Map client registry, a gorilla/websocket Upgrader, a
// broadcast channel drained by its own goroutine, and a ticker-driven
// periodic push — restated here for a controller's diagnostic state
// instead of a mining-rig scheduler's health status.
package statuspush

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moat-inv/invctl/internal/control"
)

// Server pushes control.Surface.GetState() snapshots to connected clients.
type Server struct {
	surface  control.Surface
	interval time.Duration

	upgrader websocket.Upgrader
	clients  sync.Map // *websocket.Conn -> struct{}
	done     chan struct{}

	http *http.Server
}

// New builds a Server listening on addr and serving websocket upgrades at
// path, pushing a fresh snapshot every interval.
func New(surface control.Surface, addr, path string, interval time.Duration) *Server {
	s := &Server{
		surface:  surface,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handle)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run starts the HTTP listener and the periodic broadcaster, blocking
// until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.broadcastLoop()

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		close(s.done)
		return err
	}

	close(s.done)
	s.clients.Range(func(key, _ any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("statuspush: upgrade: %v", err)
		return
	}
	s.clients.Store(conn, struct{}{})

	if err := conn.WriteJSON(s.surface.GetState()); err != nil {
		log.Printf("statuspush: initial send: %v", err)
	}

	defer func() {
		s.clients.Delete(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !s.hasClients() {
				continue
			}
			msg, err := json.Marshal(s.surface.GetState())
			if err != nil {
				log.Printf("statuspush: marshal: %v", err)
				continue
			}
			s.clients.Range(func(key, _ any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					s.clients.Delete(conn)
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

func (s *Server) hasClients() bool {
	found := false
	s.clients.Range(func(_, _ any) bool {
		found = true
		return false
	})
	return found
}
