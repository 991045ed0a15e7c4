package game

import (
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fusiongame/roomserver/internal/player"
	"github.com/fusiongame/roomserver/internal/session"
)

// MaxPerTeam is the default capacity of a single team within a Game, used
// whenever New is given a non-positive capacity.
const MaxPerTeam = 5

// Team identifies which side of a Game a Session should join.
type Team int

const (
	// TeamA is the first team.
	TeamA Team = iota
	// TeamB is the second team.
	TeamB
	// TeamRandom lets the Game choose the smaller team, breaking ties
	// toward TeamA. It never spills into the other team if the chosen one
	// is full.
	TeamRandom
)

// ErrFull is returned when the requested team (or, for TeamRandom, both
// teams) has no room left.
var ErrFull = errors.New("game: team is full")

// ErrAlreadyJoined is returned when a Session that is already a member of
// this Game calls Join again. It is treated as a no-op, Full-equivalent
// failure: no state changes.
var ErrAlreadyJoined = errors.New("game: session already joined")

type member struct {
	session *session.Session
	state   *player.State
}

// JoinResult is returned by a successful Join.
type JoinResult struct {
	// Handler is the inbound handler the caller must install on the
	// joining Session so future frames from it are broadcast to the room.
	Handler session.InboundHandler
	// Snapshot is the current roster, including the just-joined player.
	Snapshot []player.Snapshot
	// MyID is the id assigned to the newly joined player.
	MyID int
}

// Game is a single room: two bounded teams of Sessions plus opaque
// per-session player state, and the broadcast fan-out between them.
type Game struct {
	Name      string
	CreatedAt time.Time

	logger     *log.Logger
	seq        *player.Sequence
	maxPerTeam int

	teamAMu sync.RWMutex
	teamA   map[uuid.UUID]*member

	teamBMu sync.RWMutex
	teamB   map[uuid.UUID]*member

	cacheMu      sync.RWMutex
	playersCache map[uuid.UUID]Team
}

// New creates an empty Game named name with team capacity maxPerTeam. A
// non-positive maxPerTeam falls back to the package default, MaxPerTeam.
// Construction is cheap and uncontended, matching the registry's
// create-on-first-join policy.
func New(name string, maxPerTeam int) *Game {
	if maxPerTeam <= 0 {
		maxPerTeam = MaxPerTeam
	}
	return &Game{
		Name:         name,
		CreatedAt:    time.Now(),
		logger:       log.New(os.Stdout, "[game "+name+"] ", log.LstdFlags),
		seq:          player.NewSequence(),
		maxPerTeam:   maxPerTeam,
		teamA:        make(map[uuid.UUID]*member),
		teamB:        make(map[uuid.UUID]*member),
		playersCache: make(map[uuid.UUID]Team),
	}
}

// BroadcastHandler returns a closure that forwards every inbound frame
// from a joined Session to Broadcast. It is bound once and installed on
// every Session that successfully joins this Game.
func (g *Game) BroadcastHandler() session.InboundHandler {
	return func(frame []byte, from *session.Session) {
		g.Broadcast(frame)
	}
}

func (g *Game) alreadyJoined(id uuid.UUID) bool {
	g.cacheMu.RLock()
	defer g.cacheMu.RUnlock()
	_, ok := g.playersCache[id]
	return ok
}

// Join adds sess to team, assigning it a fresh player identity under nick.
// If sess is already a member of this Game, it returns ErrAlreadyJoined
// and makes no state change. If the requested team (or, for TeamRandom,
// both teams) is at capacity, it returns ErrFull and makes no state
// change.
func (g *Game) Join(sess *session.Session, nick string, team Team) (*JoinResult, error) {
	id := sess.ID()
	if g.alreadyJoined(id) {
		return nil, ErrAlreadyJoined
	}

	var placed Team
	var m *member
	switch team {
	case TeamA:
		inserted, ok := g.insertLocked(&g.teamAMu, g.teamA, sess, nick)
		if !ok {
			return nil, ErrFull
		}
		placed, m = TeamA, inserted
	case TeamB:
		inserted, ok := g.insertLocked(&g.teamBMu, g.teamB, sess, nick)
		if !ok {
			return nil, ErrFull
		}
		placed, m = TeamB, inserted
	default: // TeamRandom
		var err error
		placed, m, err = g.joinRandom(sess, nick)
		if err != nil {
			return nil, err
		}
	}

	g.cacheMu.Lock()
	g.playersCache[id] = placed
	g.cacheMu.Unlock()

	g.logger.Printf("session %s joined team %d as %q (id=%d)", sess.RemoteEndpoint(), placed, nick, m.state.ID())

	return &JoinResult{
		Handler:  g.BroadcastHandler(),
		Snapshot: g.Snapshot(),
		MyID:     m.state.ID(),
	}, nil
}

// insertLocked acquires mu, checks capacity, and inserts sess/nick into
// team if there is room. It returns false, leaving team unchanged, if the
// team was already full.
func (g *Game) insertLocked(mu *sync.RWMutex, team map[uuid.UUID]*member, sess *session.Session, nick string) (*member, bool) {
	mu.Lock()
	defer mu.Unlock()
	if len(team) >= g.maxPerTeam {
		return nil, false
	}
	m := &member{session: sess, state: player.New(g.seq, nick)}
	team[sess.ID()] = m
	return m, true
}

// joinRandom picks the smaller team, ties toward TeamA, and inserts sess
// into it. Lock order is always A then B, matching every other operation
// that needs both team locks. It never spills into the other team if the
// chosen one turns out to be full.
func (g *Game) joinRandom(sess *session.Session, nick string) (Team, *member, error) {
	g.teamAMu.Lock()
	defer g.teamAMu.Unlock()
	g.teamBMu.Lock()
	defer g.teamBMu.Unlock()

	target := TeamA
	if len(g.teamA) > len(g.teamB) {
		target = TeamB
	}

	var chosen map[uuid.UUID]*member
	if target == TeamA {
		chosen = g.teamA
	} else {
		chosen = g.teamB
	}

	if len(chosen) >= g.maxPerTeam {
		return 0, nil, ErrFull
	}
	m := &member{session: sess, state: player.New(g.seq, nick)}
	chosen[sess.ID()] = m
	return target, m, nil
}

// Leave removes sess from whichever team holds it. It reports whether sess
// was present. It does not close sess.
func (g *Game) Leave(sess *session.Session) bool {
	id := sess.ID()

	g.teamAMu.Lock()
	_, inA := g.teamA[id]
	if inA {
		delete(g.teamA, id)
	}
	g.teamAMu.Unlock()

	g.teamBMu.Lock()
	_, inB := g.teamB[id]
	if inB {
		delete(g.teamB, id)
	}
	g.teamBMu.Unlock()

	if inA || inB {
		g.cacheMu.Lock()
		delete(g.playersCache, id)
		g.cacheMu.Unlock()
		return true
	}
	return false
}

// Broadcast sends frame to every member of both teams via their own
// Write. Per-Session write ordering is preserved by the Session's own
// outbound queue; no ordering is promised across Sessions.
func (g *Game) Broadcast(frame []byte) {
	g.teamAMu.RLock()
	for _, m := range g.teamA {
		m.session.Write(frame)
	}
	g.teamAMu.RUnlock()

	g.teamBMu.RLock()
	for _, m := range g.teamB {
		m.session.Write(frame)
	}
	g.teamBMu.RUnlock()
}

// PlayerCount returns the sum of both teams' sizes.
func (g *Game) PlayerCount() int {
	g.teamAMu.RLock()
	a := len(g.teamA)
	g.teamAMu.RUnlock()

	g.teamBMu.RLock()
	b := len(g.teamB)
	g.teamBMu.RUnlock()

	return a + b
}

// TeamSizes reports the current occupancy of each team, for introspection.
func (g *Game) TeamSizes() (a, b int) {
	g.teamAMu.RLock()
	a = len(g.teamA)
	g.teamAMu.RUnlock()

	g.teamBMu.RLock()
	b = len(g.teamB)
	g.teamBMu.RUnlock()

	return a, b
}

// Snapshot returns the current roster of both teams, in the shape sent to
// clients as the "players" field of a join-result.
func (g *Game) Snapshot() []player.Snapshot {
	g.teamAMu.RLock()
	defer g.teamAMu.RUnlock()
	g.teamBMu.RLock()
	defer g.teamBMu.RUnlock()

	out := make([]player.Snapshot, 0, len(g.teamA)+len(g.teamB))
	for _, m := range g.teamA {
		out = append(out, m.state.ToJSON())
	}
	for _, m := range g.teamB {
		out = append(out, m.state.ToJSON())
	}
	return out
}
