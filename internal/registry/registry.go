package registry

import (
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/fusiongame/roomserver/internal/game"
	"github.com/fusiongame/roomserver/internal/session"
)

// Acceptor is the external collaborator that binds a listening socket and
// drives an asynchronous accept loop, handing each accepted connection to
// the Registry via Register once its handshake completes. The registry
// core does not implement transport; transport/websocket does.
type Acceptor interface {
	// Bind opens the listening socket.
	Bind() error
	// Run starts accepting connections. It must not block; it starts its
	// own goroutine(s) and returns immediately.
	Run() error
}

// Metrics is a small set of process-wide counters exposed for operational
// introspection. Nothing in the core reads them back; they exist purely
// for the read-only REST surface.
type Metrics struct {
	ConnectionsAccepted int64
	JoinsTotal          int64
	FullsTotal          int64
	BroadcastsTotal     int64
}

// Registry is the process-wide correlation between Sessions and Games. It
// owns the canonical set of unidentified Sessions, the name-to-Game map,
// and the Session-to-game-name correlation, and it installs the default
// "unjoined" handler on every Session it registers.
type Registry struct {
	logger *log.Logger

	stopped atomic.Bool

	correlationMu sync.RWMutex
	// correlation[id] present means the Session is registered. An empty
	// string means unidentified; any other value is the joined game's name.
	correlation map[uuid.UUID]string

	unidentifiedMu sync.RWMutex
	unidentified   map[uuid.UUID]*session.Session

	gamesMu sync.RWMutex
	games   map[string]*game.Game

	metrics Metrics

	// maxPerTeam is passed through to game.New for every Game this
	// Registry creates. Zero means "use game.MaxPerTeam".
	maxPerTeam int
}

// Option configures optional Registry behavior at construction time.
type Option func(*Registry)

// WithMaxPerTeam overrides the team capacity of every Game the Registry
// creates. A non-positive n leaves the package default, game.MaxPerTeam,
// in effect.
func WithMaxPerTeam(n int) Option {
	return func(r *Registry) { r.maxPerTeam = n }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:       log.New(os.Stdout, "[registry] ", log.LstdFlags),
		correlation:  make(map[uuid.UUID]string),
		unidentified: make(map[uuid.UUID]*session.Session),
		games:        make(map[string]*game.Game),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds sess to the set of unidentified Sessions and returns the
// handler it must install on it. Registering the same Session twice is a
// no-op that logs a warning and returns the same handler; no state
// changes.
func (r *Registry) Register(sess *session.Session) session.InboundHandler {
	id := sess.ID()

	r.correlationMu.Lock()
	if _, exists := r.correlation[id]; exists {
		r.correlationMu.Unlock()
		r.logger.Printf("second registration of session %s", sess.RemoteEndpoint())
		return r.unjoinedHandler
	}
	r.correlation[id] = ""
	r.correlationMu.Unlock()

	r.unidentifiedMu.Lock()
	r.unidentified[id] = sess
	r.unidentifiedMu.Unlock()

	atomic.AddInt64(&r.metrics.ConnectionsAccepted, 1)
	r.logger.Printf("registered session %s", sess.RemoteEndpoint())

	return r.unjoinedHandler
}

// Unregister removes sess from whatever state it was in: unidentified, or
// a member of a Game. It is idempotent; a second call for the same
// Session logs a warning and does nothing. Once Shutdown has been called,
// Unregister is a no-op, to avoid double-free races during teardown.
func (r *Registry) Unregister(sess *session.Session) {
	if r.stopped.Load() {
		return
	}

	id := sess.ID()

	r.correlationMu.Lock()
	name, ok := r.correlation[id]
	if !ok {
		r.correlationMu.Unlock()
		r.logger.Printf("unregister of unknown session %s", sess.RemoteEndpoint())
		return
	}
	delete(r.correlation, id)
	r.correlationMu.Unlock()

	if name == "" {
		r.unidentifiedMu.Lock()
		delete(r.unidentified, id)
		r.unidentifiedMu.Unlock()
		return
	}

	r.gamesMu.Lock()
	g, exists := r.games[name]
	if exists {
		g.Leave(sess)
		if g.PlayerCount() == 0 {
			delete(r.games, name)
			r.logger.Printf("game %q has no players, removing", name)
		}
	}
	r.gamesMu.Unlock()
}

// Games returns a snapshot of every currently live Game, for the read-only
// introspection API. Callers must not mutate the returned slice's Games.
func (r *Registry) Games() []*game.Game {
	r.gamesMu.RLock()
	defer r.gamesMu.RUnlock()

	out := make([]*game.Game, 0, len(r.games))
	for _, g := range r.games {
		out = append(out, g)
	}
	return out
}

// Game looks up a single Game by name, for the read-only introspection
// API.
func (r *Registry) Game(name string) (*game.Game, bool) {
	r.gamesMu.RLock()
	defer r.gamesMu.RUnlock()
	g, ok := r.games[name]
	return g, ok
}

// Metrics returns a snapshot of the process-wide counters.
func (r *Registry) Metrics() Metrics {
	return Metrics{
		ConnectionsAccepted: atomic.LoadInt64(&r.metrics.ConnectionsAccepted),
		JoinsTotal:          atomic.LoadInt64(&r.metrics.JoinsTotal),
		FullsTotal:          atomic.LoadInt64(&r.metrics.FullsTotal),
		BroadcastsTotal:     atomic.LoadInt64(&r.metrics.BroadcastsTotal),
	}
}

// SessionCount reports how many Sessions are currently registered
// (unidentified or joined).
func (r *Registry) SessionCount() int {
	r.correlationMu.RLock()
	defer r.correlationMu.RUnlock()
	return len(r.correlation)
}

// StartAccepting binds and starts acc. It is intended to be called once.
func (r *Registry) StartAccepting(acc Acceptor) bool {
	if err := acc.Bind(); err != nil {
		r.logger.Printf("failed to bind: %v", err)
		return false
	}
	if err := acc.Run(); err != nil {
		r.logger.Printf("failed to start accepting: %v", err)
		return false
	}
	return true
}

// Shutdown marks the registry stopped. No new joins are accepted
// thereafter (the unjoined handler checks the flag), and Unregister
// becomes a no-op for Sessions still in flight; remaining cleanup is left
// to process exit.
func (r *Registry) Shutdown() {
	r.stopped.Store(true)
}
