// Package broadcast implements the room-based WebSocket hub using the actor pattern.
//
// The Hub owns all connected sessions and room membership. A single goroutine
// processes commands from a channel (no mutexes); per-connection write
// goroutines with bounded queues keep slow clients from backing up a room.
package broadcast
