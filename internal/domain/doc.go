// Package domain defines the core domain types shared across the sync service.
//
// This package contains concept-oriented files (event.go, room.go, identity.go)
// with shared types and cross-cutting interfaces. No implementation code - just
// contracts. Prevents circular imports by keeping interfaces on the consumer side.
package domain
