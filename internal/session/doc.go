// Package session implements the per-client WebSocket pipeline.
//
// A Session wraps one gorilla/websocket connection and gives the rest of
// the server three things: a thread-safe Write that never blocks the
// caller on network I/O, an installable inbound handler that upper layers
// swap out as a client moves from unidentified to joined, and an identity
// token stable for the lifetime of the connection.
//
// Outbound pipeline:
//
// Writes are pushed onto a buffered channel and drained by a single
// goroutine (writePump). Because only that goroutine ever calls
// conn.WriteMessage, frames reach the wire in enqueue order with at most
// one write in flight, without an explicit mutex-guarded write queue.
//
// Inbound pipeline:
//
// One goroutine (readPump) posts blocking reads and dispatches each frame
// to the currently installed handler synchronously, so a Session never
// runs two handler invocations concurrently with each other.
//
// Usage:
//
//	sess := session.New(conn, session.WithLogger(logger))
//	sess.InstallInboundHandler(unjoinedHandler)
//	go sess.Run()
package session
