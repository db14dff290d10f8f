package server

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

// Token type hints for revocation (RFC 7009)
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// ValidateRefreshToken returns the record of a live refresh token without
// modifying it.
func (s *Server) ValidateRefreshToken(ctx context.Context, refreshToken string) (*storage.RefreshToken, error) {
	rt, err := s.tokenStore.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	if security.IsExpired(rt.ExpiresAt, s.now(), s.Config.clockSkewGrace()) {
		return nil, ErrRefreshTokenExpired
	}
	return rt, nil
}

// RefreshAccessToken rotates a refresh token: the old pair is removed and a
// new pair with the same scope and resource is issued, all for the client
// that owns the token. Of two concurrent rotations of one token, exactly one
// succeeds. A failed client or resource check leaves the old pair intact.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID, resource string) (*TokenPair, error) {
	ctx, span := s.startSpan(ctx, "refresh_access_token")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeRefreshToken))

	if refreshToken == "" {
		return nil, newError(ErrorCodeInvalidRequest, "refresh_token is required")
	}
	if _, err := s.requireGrantType(ctx, clientID, GrantTypeRefreshToken); err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	old, err := s.tokenStore.ConsumeRefreshToken(ctx, refreshToken, s.expiryReference(), func(rt *storage.RefreshToken) error {
		if rt.ClientID != clientID {
			return ErrClientMismatch
		}
		if resource != "" && rt.Resource != "" && !util.SameResource(resource, rt.Resource) {
			return ErrResourceMismatch
		}
		return nil
	})
	if err != nil {
		err = mapRefreshError(err)
		instrumentation.RecordError(span, err)
		s.metrics.RecordTokenRefresh(ctx, redemptionResult(err))
		s.audit(ctx, security.EventRefreshTokenRejected, clientID, map[string]any{
			"reason":      AsError(err).Description,
			"fingerprint": security.Fingerprint(refreshToken),
		})
		return nil, err
	}

	pair, err := s.IssueTokenPair(ctx, clientID, old.Scope, old.Resource)
	if err != nil {
		instrumentation.RecordError(span, err)
		s.metrics.RecordTokenRefresh(ctx, "error")
		return nil, err
	}

	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenRotated, true))
	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordTokenRefresh(ctx, "success")
	s.metrics.RecordTokenIssued(ctx, GrantTypeRefreshToken)
	s.audit(ctx, security.EventTokenRefreshed, clientID, map[string]any{
		"scope": old.Scope,
	})
	s.Logger.Debug("Rotated refresh token",
		"client_id", clientID,
		"old_token_prefix", util.SafeTruncate(refreshToken, 8))
	return pair, nil
}

func mapRefreshError(err error) error {
	switch {
	case errors.Is(err, storage.ErrTokenNotFound):
		return ErrRefreshTokenNotFound
	case errors.Is(err, storage.ErrTokenExpired):
		return ErrRefreshTokenExpired
	}
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr
	}
	return fmt.Errorf("failed to consume refresh token: %w", err)
}

// RevokeRefreshToken removes a refresh token and its paired access token.
// Revoking an unknown token is not an error.
func (s *Server) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	revoked, err := s.tokenStore.RevokeRefreshToken(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if revoked {
		s.metrics.RecordTokenRevocation(ctx, TokenTypeHintRefreshToken)
	}
	return nil
}

// RevokeAccessToken removes an access token and its paired refresh token.
// Revoking an unknown token is not an error.
func (s *Server) RevokeAccessToken(ctx context.Context, accessToken string) error {
	revoked, err := s.tokenStore.RevokeAccessToken(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	if revoked {
		s.metrics.RecordTokenRevocation(ctx, TokenTypeHintAccessToken)
	}
	return nil
}

// RevokeToken implements RFC 7009 revocation for an authenticated client.
// The hint only chooses which kind of token is looked up first. Tokens that
// are unknown or belong to another client are left alone and reported as
// success.
func (s *Server) RevokeToken(ctx context.Context, token, tokenTypeHint, clientID string) error {
	ctx, span := s.startSpan(ctx, "revoke_token")
	defer span.End()

	if token == "" {
		return newError(ErrorCodeInvalidRequest, "token is required")
	}

	tryRefresh := func() (bool, error) {
		rt, err := s.tokenStore.GetRefreshToken(ctx, token)
		if err != nil {
			if errors.Is(err, storage.ErrTokenNotFound) {
				return false, nil
			}
			return false, err
		}
		if rt.ClientID != clientID {
			return true, nil
		}
		if err := s.RevokeRefreshToken(ctx, token); err != nil {
			return true, err
		}
		s.Auditor.LogTokenRevoked(clientID, security.ClientIPFromContext(ctx), TokenTypeHintRefreshToken, token)
		return true, nil
	}
	tryAccess := func() (bool, error) {
		at, err := s.tokenStore.GetAccessToken(ctx, token)
		if err != nil {
			if errors.Is(err, storage.ErrTokenNotFound) {
				return false, nil
			}
			return false, err
		}
		if at.ClientID != clientID {
			return true, nil
		}
		if err := s.RevokeAccessToken(ctx, token); err != nil {
			return true, err
		}
		s.Auditor.LogTokenRevoked(clientID, security.ClientIPFromContext(ctx), TokenTypeHintAccessToken, token)
		return true, nil
	}

	order := []func() (bool, error){tryRefresh, tryAccess}
	if tokenTypeHint == TokenTypeHintAccessToken {
		order = []func() (bool, error){tryAccess, tryRefresh}
	}
	for _, try := range order {
		found, err := try()
		if err != nil {
			instrumentation.RecordError(span, err)
			return err
		}
		if found {
			break
		}
	}

	instrumentation.SetSpanSuccess(span)
	return nil
}
