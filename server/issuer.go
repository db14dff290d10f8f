package server

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/storage"
)

// TokenTypeBearer is the only token type this server issues
const TokenTypeBearer = "Bearer"

// TokenPair is a freshly issued access token and its refresh token
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        int64 // seconds until the access token expires
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	ClientID         string
	Scope            string
	Resource         string
}

// IssueTokenPair mints and stores a linked access/refresh token pair. Every
// grant issues tokens through here.
func (s *Server) IssueTokenPair(ctx context.Context, clientID, scope, resource string) (*TokenPair, error) {
	ctx, span := s.startSpan(ctx, "issue_token_pair")
	defer span.End()

	now := s.now()
	access := &storage.AccessToken{
		Token:     generateRandomToken(),
		ClientID:  clientID,
		Scope:     scope,
		Resource:  resource,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.Config.accessTokenTTL()),
	}
	refresh := &storage.RefreshToken{
		Token:     generateRandomToken(),
		ClientID:  clientID,
		Scope:     scope,
		Resource:  resource,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.Config.refreshTokenTTL()),
	}

	if err := s.tokenStore.SaveTokenPair(ctx, access, refresh); err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to save token pair: %w", err)
	}

	instrumentation.AddOAuthFlowAttributes(span, clientID, scope, resource)
	instrumentation.SetSpanSuccess(span)

	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        TokenTypeBearer,
		ExpiresIn:        s.Config.AccessTokenTTL,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		ClientID:         clientID,
		Scope:            scope,
		Resource:         resource,
	}, nil
}
