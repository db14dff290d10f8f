package util

import (
	"net/netip"
	"strings"
)

// IsLoopbackHost reports whether hostname (as returned by url.URL.Hostname)
// refers to the local machine: "localhost", any 127.0.0.0/8 address, ::1 or
// an IPv4-mapped loopback address. 0.0.0.0 is not loopback.
func IsLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}

	hostname = strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	addr, err := netip.ParseAddr(hostname)
	if err != nil {
		return false
	}
	return addr.Unmap().IsLoopback()
}
