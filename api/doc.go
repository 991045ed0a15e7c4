// Package api provides a read-only HTTP REST introspection surface over
// the registry: which games are live, how many players each holds, and
// process-wide counters. It never mutates core state; the only way to
// join or leave a room is the WebSocket wire protocol in
// transport/websocket.
//
// Endpoints:
//
//	GET /api/games          - list of live games and their occupancy
//	GET /api/games/{name}   - a single game's detail, 404 if absent
//	GET /api/stats          - process-wide counters
//	GET /api/health         - liveness probe
//
// Usage:
//
//	srv := api.NewServer(reg)
//	http.ListenAndServe(":8081", srv)
package api
