// Package game implements a single room: two bounded teams of Sessions and
// the broadcast fan-out between them.
//
// A Game is created on demand by the registry when the first client names
// it and is torn down by the registry once its last member leaves. It
// never closes a Session itself; Sessions may outlive their membership in
// any particular Game.
//
// Lock discipline: team A's lock is always acquired before team B's, and
// the players-cache lock, if needed, is acquired only after both team
// locks. Every operation that needs more than one lock follows this order
// to avoid deadlock, including the random-team placement in Join.
package game
