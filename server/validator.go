package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

// ValidateAccessToken returns the record for a live bearer token. Expired
// tokens are deleted on lookup. Tokens bound to a resource this server does
// not cover are rejected unless DisableAudienceCheck is set. Any store
// failure rejects the token.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "validate_access_token")
	defer span.End()

	at, err := s.validateAccessToken(ctx, token)
	if err != nil {
		instrumentation.RecordError(span, err)
		s.metrics.RecordTokenValidation(ctx, validationResult(err))
		s.audit(ctx, security.EventInvalidTokenPresented, "", map[string]any{
			"reason":      AsError(err).Description,
			"fingerprint": security.Fingerprint(token),
		})
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, at.ClientID, at.Scope, at.Resource)
	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordTokenValidation(ctx, "valid")
	return at, nil
}

func (s *Server) validateAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	if token == "" {
		return nil, ErrAccessTokenNotFound
	}

	at, err := s.tokenStore.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrAccessTokenNotFound
		}
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}

	if security.IsExpired(at.ExpiresAt, s.now(), s.Config.clockSkewGrace()) {
		if err := s.tokenStore.DeleteAccessToken(ctx, token); err != nil {
			s.Logger.Warn("Failed to delete expired access token", "error", err)
		}
		return nil, ErrAccessTokenExpired
	}

	if at.Resource != "" && !s.Config.DisableAudienceCheck && !util.ResourceCovers(s.Config.Resource, at.Resource) {
		s.audit(ctx, security.EventResourceMismatch, at.ClientID, map[string]any{
			"token_resource":  at.Resource,
			"server_resource": s.Config.Resource,
		})
		return nil, ErrAudienceMismatch
	}

	return at, nil
}

func validationResult(err error) string {
	switch {
	case errors.Is(err, ErrAccessTokenNotFound):
		return "not_found"
	case errors.Is(err, ErrAccessTokenExpired):
		return "expired"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	default:
		return "error"
	}
}
