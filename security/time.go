package security

import "time"

// IsExpired reports whether expiresAt has passed at now, allowing grace for
// clock skew. A token is still valid while expiresAt+grace is strictly after
// now. With grace 0 a token expiring exactly at now is expired.
func IsExpired(expiresAt, now time.Time, grace time.Duration) bool {
	return !expiresAt.Add(grace).After(now)
}

// ExpiryReference returns the instant stores should compare expiries against
// so that their strict "expiresAt after now" check honors grace.
func ExpiryReference(now time.Time, grace time.Duration) time.Time {
	return now.Add(-grace)
}
