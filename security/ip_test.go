package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		trustProxy bool
		proxyCount int
		want       string
	}{
		{"direct", "192.0.2.1:1234", "", "", false, 0, "192.0.2.1"},
		{"headers ignored without trust", "192.0.2.1:1234", "203.0.113.9", "203.0.113.8", false, 0, "192.0.2.1"},
		{"one trusted proxy", "10.0.0.1:1234", "203.0.113.9, 10.0.0.2", "", true, 1, "203.0.113.9"},
		{"zero count means one", "10.0.0.1:1234", "203.0.113.9, 10.0.0.2", "", true, 0, "203.0.113.9"},
		{"two trusted proxies", "10.0.0.1:1234", "198.51.100.7, 203.0.113.9, 10.0.0.2", "", true, 2, "198.51.100.7"},
		{"spoofed left entries skipped", "10.0.0.1:1234", "1.1.1.1, 203.0.113.9, 10.0.0.2", "", true, 1, "203.0.113.9"},
		{"short chain uses leftmost", "10.0.0.1:1234", "203.0.113.9", "", true, 3, "203.0.113.9"},
		{"invalid xff falls back to x-real-ip", "10.0.0.1:1234", "garbage", "203.0.113.5", true, 1, "203.0.113.5"},
		{"invalid headers fall back to remote", "10.0.0.1:1234", "garbage", "also-garbage", true, 1, "10.0.0.1"},
		{"ipv6 remote", "[2001:db8::1]:443", "", "", false, 0, "2001:db8::1"},
		{"remote without port", "192.0.2.1", "", "", false, 0, "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := GetClientIP(r, tt.trustProxy, tt.proxyCount); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPContext(t *testing.T) {
	ctx := httptest.NewRequest("GET", "/", nil).Context()
	if got := ClientIPFromContext(ctx); got != "" {
		t.Errorf("ClientIPFromContext() = %q, want empty", got)
	}
	if got := ClientIPFromContext(WithClientIP(ctx, "192.0.2.1")); got != "192.0.2.1" {
		t.Errorf("ClientIPFromContext() = %q, want 192.0.2.1", got)
	}
}
