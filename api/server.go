package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fusiongame/roomserver/internal/game"
	"github.com/fusiongame/roomserver/internal/registry"
)

// Server is the read-only introspection REST API. It implements
// http.Handler so it can be mounted directly or combined with other
// handlers in an outer router.
type Server struct {
	registry *registry.Registry
	router   *mux.Router
}

// NewServer builds a Server backed by reg.
func NewServer(reg *registry.Registry) *Server {
	s := &Server{
		registry: reg,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/games", s.handleListGames).Methods("GET")
	api.HandleFunc("/games/{name}", s.handleGetGame).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// gameSummary is the JSON shape of a single game in the /api/games list
// and detail endpoints.
type gameSummary struct {
	Name         string `json:"name"`
	PlayerCount  int    `json:"player_count"`
	TeamA        int    `json:"team_a"`
	TeamB        int    `json:"team_b"`
	CreatedAtUTC string `json:"created_at"`
}

func summarize(g *game.Game) gameSummary {
	a, b := g.TeamSizes()
	return gameSummary{
		Name:         g.Name,
		PlayerCount:  g.PlayerCount(),
		TeamA:        a,
		TeamB:        b,
		CreatedAtUTC: g.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games := s.registry.Games()
	summaries := make([]gameSummary, 0, len(games))
	for _, g := range games {
		summaries = append(summaries, summarize(g))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"count": len(summaries),
		"games": summaries,
	})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	g, ok := s.registry.Game(name)
	if !ok {
		respondError(w, http.StatusNotFound, "game not found")
		return
	}

	respondJSON(w, http.StatusOK, summarize(g))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	metrics := s.registry.Metrics()

	respondJSON(w, http.StatusOK, map[string]any{
		"sessions_active":      s.registry.SessionCount(),
		"games_active":         len(s.registry.Games()),
		"connections_accepted": metrics.ConnectionsAccepted,
		"joins_total":          metrics.JoinsTotal,
		"fulls_total":          metrics.FullsTotal,
		"broadcasts_total":     metrics.BroadcastsTotal,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
