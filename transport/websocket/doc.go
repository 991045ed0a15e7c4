// Package websocket is the acceptor: it binds an HTTP listener, upgrades
// incoming requests to WebSocket connections, and hands each resulting
// connection to the registry as a new Session.
//
// It implements registry.Acceptor so the registry core never depends on
// net/http or gorilla/websocket directly; the wiring lives here.
//
// Usage:
//
//	srv := websocket.NewServer(":8080", reg, websocket.Config{})
//	if !reg.StartAccepting(srv) {
//		log.Fatal("failed to start accepting connections")
//	}
package websocket
