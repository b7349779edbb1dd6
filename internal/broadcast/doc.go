// Package broadcast fans generator events out to WebSocket subscribers.
//
// The Registry holds the live subscribers behind a mutex and hands out copies for iteration,
// so joins and leaves never race a fan-out. Each Subscriber owns a buffered send channel drained
// by its own writer goroutine; Publish only ever does non-blocking enqueues and evicts subscribers
// that are full or gone. A slow peer therefore never delays the generator or other peers.
package broadcast
