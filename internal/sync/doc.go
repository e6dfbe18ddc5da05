// Package sync implements the pull channel: a cursor-based incremental diff
// service and the client-side reconciler that merges its results.
//
// Pull-sync is the consistency backstop for the push channel. Push delivery is
// at-most-once, so a client that missed events closes the gap by asking for
// every row changed since its last-known cursor, scoped to its branch.
package sync
