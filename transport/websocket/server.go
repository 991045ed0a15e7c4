package websocket

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/fusiongame/roomserver/internal/registry"
	"github.com/fusiongame/roomserver/internal/session"
)

// Config controls how the WebSocket acceptor behaves.
type Config struct {
	// CheckOrigin decides whether an upgrade request's Origin header is
	// acceptable. Nil defaults to allowing every origin, as most
	// WebSocket upgraders default to in development; a real deployment
	// should supply its own origin check.
	CheckOrigin func(r *http.Request) bool

	ReadBufferSize  int
	WriteBufferSize int
}

// Server binds a TCP listener and upgrades incoming HTTP requests on /ws
// to WebSocket connections, registering each with a Registry. It
// implements registry.Acceptor.
type Server struct {
	addr     string
	registry *registry.Registry
	router   *mux.Router
	upgrader websocket.Upgrader
	logger   *log.Logger

	listener net.Listener
	http     *http.Server
}

// NewServer creates a Server that will listen on addr once Bind is called.
func NewServer(addr string, reg *registry.Registry, cfg Config) *Server {
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(r *http.Request) bool { return true }
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = 1024
	}

	s := &Server{
		addr:     addr,
		registry: reg,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger: log.New(os.Stdout, "[websocket] ", log.LstdFlags),
	}
	s.router.HandleFunc("/ws", s.handleUpgrade)
	return s
}

// Handler exposes the underlying router so an outer mux (e.g. the process
// entry point, combining this with the REST API) can mount it.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Bind opens the listening socket. Part of registry.Acceptor.
func (s *Server) Bind() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.http = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return nil
}

// Run starts serving on the bound listener in a background goroutine and
// returns immediately. Part of registry.Acceptor.
func (s *Server) Run() error {
	go func() {
		s.logger.Printf("listening on %s", s.addr)
		if err := s.http.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("serve error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops accepting new connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade failed: %v", err)
		return
	}

	sess := session.New(conn)
	handler := s.registry.Register(sess)
	sess.InstallInboundHandler(handler)

	go func() {
		sess.Run()
		s.registry.Unregister(sess)
	}()
}
