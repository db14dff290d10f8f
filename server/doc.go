// Package server implements the authorization server core: client
// registration, authorization codes bound to PKCE challenges, access and
// refresh token pairs with rotation, and bearer token validation.
//
// Server holds no HTTP concerns. It works against the storage interfaces,
// so the same logic runs over the in-memory store or a test double.
//
// Key properties:
//   - Codes are single use. Redemption checks and deletion happen in one
//     store operation, so only one of several concurrent redemptions wins.
//   - Refresh tokens rotate. Using one removes the old access/refresh pair
//     before the new pair is stored.
//   - Expiry is checked on every read. The Sweeper only reclaims memory.
//
// Example usage:
//
//	store := memory.New()
//	srv, err := server.New(store, store, store, &server.Config{
//	    Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sweeper := server.NewSweeper(store, time.Minute, logger)
//	sweeper.Start()
//	defer sweeper.Stop()
package server
