package registry

import (
	"encoding/json"
	"sync/atomic"

	"github.com/fusiongame/roomserver/internal/game"
	"github.com/fusiongame/roomserver/internal/player"
	"github.com/fusiongame/roomserver/internal/session"
)

// inboundRequest is the wire shape of every client-to-server frame
// received before a Session has joined a room.
type inboundRequest struct {
	Type string `json:"type"`
	Game string `json:"game"`
	Nick string `json:"nick"`
}

type joinResultResponse struct {
	Type    string            `json:"type"`
	Result  string            `json:"result"`
	MyID    int               `json:"my_id,omitempty"`
	Players []player.Snapshot `json:"players,omitempty"`
}

type warningResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Closed  bool   `json:"closed"`
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every response type here is a fixed, statically well-formed
		// struct; a marshal failure would mean a programming error.
		panic(err)
	}
	return b
}

var unidentifiedWarning = mustJSON(warningResponse{
	Type:    "warning",
	Message: "Received an unidentified package.",
	Closed:  false,
})

// unjoinedHandler is installed on every Session as of Register, and is
// invoked for each inbound frame of a not-yet-joined Session. It parses
// the frame as JSON and, for a "join" request, looks up or creates the
// named Game and attempts to join it, swapping in the Game's broadcast
// handler on success. It never blocks.
func (r *Registry) unjoinedHandler(frame []byte, sess *session.Session) {
	var req inboundRequest
	if err := json.Unmarshal(frame, &req); err != nil || req.Type != "join" {
		sess.Write(unidentifiedWarning)
		return
	}

	r.handleJoin(sess, req)
}

func (r *Registry) handleJoin(sess *session.Session, req inboundRequest) {
	if r.stopped.Load() {
		sess.Write(unidentifiedWarning)
		return
	}

	g := r.getOrCreateGame(req.Game)

	result, err := g.Join(sess, req.Nick, game.TeamRandom)
	if err != nil {
		atomic.AddInt64(&r.metrics.FullsTotal, 1)
		sess.Write(mustJSON(joinResultResponse{Type: "join-result", Result: "full"}))
		return
	}

	sess.InstallInboundHandler(r.countingBroadcastHandler(result.Handler))

	r.unidentifiedMu.Lock()
	delete(r.unidentified, sess.ID())
	r.unidentifiedMu.Unlock()

	r.correlationMu.Lock()
	r.correlation[sess.ID()] = req.Game
	r.correlationMu.Unlock()

	atomic.AddInt64(&r.metrics.JoinsTotal, 1)

	sess.Write(mustJSON(joinResultResponse{
		Type:    "join-result",
		Result:  "joined",
		MyID:    result.MyID,
		Players: result.Snapshot,
	}))
}

// countingBroadcastHandler wraps a joined Session's inbound handler so
// every frame it forwards to its Game's broadcast also bumps
// BroadcastsTotal, keeping the /api/stats counter live.
func (r *Registry) countingBroadcastHandler(next session.InboundHandler) session.InboundHandler {
	return func(frame []byte, self *session.Session) {
		atomic.AddInt64(&r.metrics.BroadcastsTotal, 1)
		next(frame, self)
	}
}

func (r *Registry) getOrCreateGame(name string) *game.Game {
	r.gamesMu.Lock()
	defer r.gamesMu.Unlock()

	g, ok := r.games[name]
	if !ok {
		g = game.New(name, r.maxPerTeam)
		r.games[name] = g
	}
	return g
}
