// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (counter.go, event.go, pubsub.go, errors.go) hold the shared value types,
// the wire envelope and the small interfaces the other packages depend on. Interfaces live here so
// that the generator, the broadcaster and the HTTP layer never import each other directly.
package domain
