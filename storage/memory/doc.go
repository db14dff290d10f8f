// Package memory provides an in-memory implementation of storage.Store.
//
// Clients, codes and tokens live in plain maps guarded by one sync.RWMutex.
// Code redemption and refresh rotation run lookup, expiry check, caller
// check and deletion under the write lock, so two concurrent redemptions of
// the same code (or rotations of the same refresh token) can never both
// succeed.
//
// Expired records are removed lazily when touched. Sweep removes everything
// else; server.Sweeper calls it on an interval.
//
// Example usage:
//
//	store := memory.New()
//	store.SetLogger(logger)
//
//	srv, err := server.New(store, store, store, config, logger)
//	sweeper := server.NewSweeper(store, time.Minute, logger)
//	sweeper.Start()
//	defer sweeper.Stop()
package memory
