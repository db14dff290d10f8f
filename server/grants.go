package server

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
)

// ExchangeAuthorizationCode redeems code and issues a token pair carrying the
// code's scope. The tokens are bound to the code's resource, or to resource
// when the code was issued without one.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier, resource string) (*TokenPair, error) {
	ctx, span := s.startSpan(ctx, "exchange_authorization_code")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeAuthorizationCode))

	if code == "" {
		return nil, newError(ErrorCodeInvalidRequest, "code is required")
	}
	if err := s.validateResource(resource); err != nil {
		return nil, err
	}
	if _, err := s.requireGrantType(ctx, clientID, GrantTypeAuthorizationCode); err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	authCode, err := s.redeemCode(ctx, code, clientID, redirectURI, codeVerifier, resource)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	boundResource := authCode.Resource
	if boundResource == "" {
		boundResource = resource
	}

	pair, err := s.IssueTokenPair(ctx, clientID, authCode.Scope, boundResource)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordTokenIssued(ctx, GrantTypeAuthorizationCode)
	s.Auditor.LogTokenIssued(clientID, security.ClientIPFromContext(ctx), GrantTypeAuthorizationCode, pair.Scope)
	return pair, nil
}

// ClientCredentialsGrant authenticates a confidential client and issues a
// token pair for its own use.
func (s *Server) ClientCredentialsGrant(ctx context.Context, clientID, clientSecret, scope, resource string) (*TokenPair, error) {
	ctx, span := s.startSpan(ctx, "client_credentials_grant")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeClientCredentials))

	if _, err := s.AuthenticateClient(ctx, clientID, clientSecret); err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	if _, err := s.requireGrantType(ctx, clientID, GrantTypeClientCredentials); err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	if err := s.validateScope(scope); err != nil {
		return nil, err
	}
	if err := s.validateResource(resource); err != nil {
		return nil, err
	}

	pair, err := s.IssueTokenPair(ctx, clientID, scope, resource)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordTokenIssued(ctx, GrantTypeClientCredentials)
	s.Auditor.LogTokenIssued(clientID, security.ClientIPFromContext(ctx), GrantTypeClientCredentials, scope)
	return pair, nil
}
