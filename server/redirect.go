package server

import (
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-authserver/storage"
)

// ValidateRedirectURI checks a presented redirect URI against the client's
// registered URIs. Exact matches win; otherwise a registered URI may use "*"
// for a single, non-empty path segment. A client that registered no URIs
// accepts any well-formed URI.
func (s *Server) ValidateRedirectURI(client *storage.Client, redirectURI string) error {
	if err := s.validateRedirectURIFormat(redirectURI, false); err != nil {
		return newError(ErrorCodeInvalidRequest, "%s", err.Error())
	}
	if len(client.RedirectURIs) == 0 {
		return nil
	}

	for _, registered := range client.RedirectURIs {
		if registered == redirectURI {
			return nil
		}
	}
	for _, registered := range client.RedirectURIs {
		if strings.Contains(registered, "*") && matchRedirectPattern(registered, redirectURI) {
			return nil
		}
	}
	return newError(ErrorCodeInvalidRequest, "redirect_uri not registered for client")
}

// matchRedirectPattern reports whether uri matches pattern. Scheme, host
// (case-insensitive), port and query must be equal; paths must have the same
// number of segments, with "*" matching any non-empty segment.
func matchRedirectPattern(pattern, uri string) bool {
	p, err := url.Parse(pattern)
	if err != nil {
		return false
	}
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}

	if !strings.EqualFold(p.Scheme, u.Scheme) || !strings.EqualFold(p.Host, u.Host) {
		return false
	}
	if p.RawQuery != u.RawQuery || u.Fragment != "" {
		return false
	}

	pSegs := strings.Split(p.Path, "/")
	uSegs := strings.Split(u.Path, "/")
	if len(pSegs) != len(uSegs) {
		return false
	}
	for i, seg := range pSegs {
		if seg == "*" {
			if uSegs[i] == "" {
				return false
			}
			continue
		}
		if seg != uSegs[i] {
			return false
		}
	}
	return true
}
