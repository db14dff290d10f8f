package server

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/oauth2"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// isUnreserved reports whether s consists only of RFC 3986 unreserved
// characters, the alphabet of code verifiers and challenges.
func isUnreserved(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}

// validateCodeChallenge checks the shape of an authorize-time challenge.
func (s *Server) validateCodeChallenge(challenge, method string) error {
	if challenge == "" {
		if method != "" {
			return newError(ErrorCodeInvalidRequest, "code_challenge_method without code_challenge")
		}
		if s.Config.RequirePKCE {
			return newError(ErrorCodeInvalidRequest, "code_challenge is required")
		}
		return nil
	}

	switch method {
	case PKCEMethodS256:
	case PKCEMethodPlain, "":
		// RFC 7636 defaults an absent method to plain.
		if !s.Config.AllowPKCEPlain {
			return newError(ErrorCodeInvalidRequest, "code_challenge_method must be S256")
		}
	default:
		return newError(ErrorCodeInvalidRequest, "unsupported code_challenge_method %q", method)
	}

	if len(challenge) < MinCodeVerifierLength || len(challenge) > MaxCodeVerifierLength {
		return newError(ErrorCodeInvalidRequest, "code_challenge must be %d-%d characters", MinCodeVerifierLength, MaxCodeVerifierLength)
	}
	if !isUnreserved(challenge) {
		return newError(ErrorCodeInvalidRequest, "code_challenge contains invalid characters")
	}
	return nil
}

// verifyPKCE checks verifier against the stored challenge. A code issued
// without a challenge needs no verifier; one issued with a challenge always
// needs it.
func verifyPKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier length %d outside %d-%d", len(verifier), MinCodeVerifierLength, MaxCodeVerifierLength)
	}
	if !isUnreserved(verifier) {
		return fmt.Errorf("code_verifier contains invalid characters")
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case PKCEMethodPlain, "":
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}
