// Package storage defines the store abstractions behind the authorization
// server: registered clients, single-use authorization codes and linked
// access/refresh token pairs.
//
// The interfaces keep business logic independent of where records live.
// Operations that must be race-free (code redemption, refresh rotation) are
// expressed as single consume calls that take a check callback, so an
// implementation can run lookup, validation and deletion in one critical
// section.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory, mutex-guarded maps
//   - storage/mock: function-field wrapper for injecting failures in tests
package storage
