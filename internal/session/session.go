package session

import (
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod is how often pings are sent to the peer. Must be less than
	// pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed from a peer.
	maxMessageSize = 8192

	// sendBufferSize bounds how many outbound frames may queue before a slow
	// or wedged peer is disconnected.
	sendBufferSize = 256
)

// InboundHandler is invoked once per inbound frame, on the Session's own
// read goroutine, so a Session never dispatches two frames concurrently
// with each other. Installing a new handler takes effect for the next
// frame; a dispatch already in flight keeps running with the handler it
// captured.
type InboundHandler func(frame []byte, self *Session)

// Session is one client's full-duplex WebSocket connection. Writes are
// serialized through a single writer goroutine so the underlying
// connection, which permits at most one writer at a time, is never
// accessed concurrently.
type Session struct {
	id             uuid.UUID
	conn           *websocket.Conn
	remoteEndpoint string
	logger         *log.Logger

	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	handler InboundHandler
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger overrides the Session's default stdout logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New wraps an already-upgraded WebSocket connection. The handshake is
// assumed complete (gorilla/websocket performs it synchronously during
// Upgrade); the returned Session queues writes immediately but does not
// dispatch reads or drain its outbound queue until Run is called.
func New(conn *websocket.Conn, opts ...Option) *Session {
	s := &Session{
		id:             uuid.New(),
		conn:           conn,
		remoteEndpoint: conn.RemoteAddr().String(),
		send:           make(chan []byte, sendBufferSize),
		closed:         make(chan struct{}),
		handler:        func([]byte, *Session) {},
	}
	s.logger = log.New(os.Stdout, "[session "+s.id.String()[:8]+"] ", log.LstdFlags)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the identity token used as a stable map key for this Session
// for the lifetime of the process.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// RemoteEndpoint returns the peer address, for diagnostics.
func (s *Session) RemoteEndpoint() string {
	return s.remoteEndpoint
}

// InstallInboundHandler atomically replaces the handler invoked for each
// future inbound frame.
func (s *Session) InstallInboundHandler(h InboundHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Session) currentHandler() InboundHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// Write enqueues payload for delivery. It never blocks: if the outbound
// queue is full the Session is considered wedged and is torn down. Safe to
// call from any goroutine, including before Run starts draining the queue.
func (s *Session) Write(payload []byte) {
	select {
	case s.send <- payload:
	case <-s.closed:
	default:
		s.logger.Printf("outbound queue full, dropping session %s", s.remoteEndpoint)
		s.Close()
	}
}

// Done returns a channel that is closed once the Session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Close issues a best-effort graceful close and stops the read/write
// pumps. Safe to call multiple times and from multiple goroutines; only
// the first call has any effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		deadline := time.Now().Add(writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	})
}

// Run starts the write pump in a new goroutine and drives the read loop on
// the calling goroutine until the connection ends. It returns once the
// Session has terminated, at which point the caller (the acceptor) should
// unregister the Session from the registry.
func (s *Session) Run() {
	go s.writePump()
	s.readPump()
}

func (s *Session) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				// Local Close aborted the read: stop silently.
			default:
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) || websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					s.logger.Printf("read error: %v", err)
				}
			}
			return
		}

		s.currentHandler()(frame, s)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Printf("write error: %v", err)
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.closed:
			return
		}
	}
}
