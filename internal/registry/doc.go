// Package registry implements the server-wide correlation between
// Sessions and Games: it tracks which Sessions have registered but not
// yet joined a room, owns the name-to-Game map, and creates or destroys
// Games on demand as clients join and leave.
//
// State machine of a Session from the Registry's perspective:
//
//	NEW --Register--> UNIDENTIFIED --join ok--> JOINED(game name)
//	 |                     |                         |
//	 |                     +--socket closed---+       |
//	 |                                        v       v
//	 +--------------------------------- UNREGISTERED (terminal)
//
// Transitions are driven only by Register, a successful join, and
// Unregister. A failed join leaves the Session in UNIDENTIFIED.
package registry
