package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamRegistry tracks open /ws/predict connections so shutdown can close
// them and wait for their handlers. http.Server.Shutdown does not wait for
// hijacked connections.
type StreamRegistry struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
	active  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewStreamRegistry() *StreamRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamRegistry{
		clients: make(map[*websocket.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context is cancelled when Shutdown starts.
func (s *StreamRegistry) Context() context.Context {
	return s.ctx
}

// Register adds a connection. It returns false once Shutdown has started.
func (s *StreamRegistry) Register(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[conn] = struct{}{}
	s.active.Add(1)
	return true
}

// Unregister removes a connection registered with Register.
func (s *StreamRegistry) Unregister(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		s.active.Done()
	}
}

// Count returns the number of open connections.
func (s *StreamRegistry) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown cancels in-flight classifications, closes every connection and
// waits for the handlers to return or ctx to end.
func (s *StreamRegistry) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for conn := range s.clients {
		_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
