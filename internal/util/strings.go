package util

import "strings"

// SafeTruncate returns at most maxLen bytes of s without panicking.
// Use it whenever a code or token appears in a log line so that only a
// prefix is ever written. A negative maxLen yields "".
//
//	SafeTruncate("very-long-token-abc123", 8) // "very-lon"
//	SafeTruncate("short", 10)                  // "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so that resource identifiers
// (RFC 8707) compare equal with or without them.
//
//	NormalizeURL("https://mcp.example.com/") // "https://mcp.example.com"
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// SameResource reports whether two resource identifiers name the same
// protected resource after normalization.
func SameResource(a, b string) bool {
	return NormalizeURL(a) == NormalizeURL(b)
}

// ResourceCovers reports whether a token bound to resource may be honored by
// a server whose own resource identifier is base: the two are the same
// resource, or resource is a path below base.
//
//	ResourceCovers("https://mcp.example.com", "https://mcp.example.com/mcp") // true
//	ResourceCovers("https://mcp.example.com", "https://mcp.example.org")     // false
func ResourceCovers(base, resource string) bool {
	b, r := NormalizeURL(base), NormalizeURL(resource)
	return r == b || strings.HasPrefix(r, b+"/")
}
