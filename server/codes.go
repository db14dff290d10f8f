package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

// AuthorizationRequest holds the parameters of GET /oauth/authorize
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	Resource            string
}

// ValidateAuthorizationRedirect performs the checks that must pass before
// errors may be reported by redirecting to redirectURI: the client exists
// and the redirect URI is registered for it.
func (s *Server) ValidateAuthorizationRedirect(ctx context.Context, clientID, redirectURI string) (*storage.Client, error) {
	if clientID == "" {
		return nil, newError(ErrorCodeInvalidRequest, "client_id is required")
	}
	if redirectURI == "" {
		return nil, newError(ErrorCodeInvalidRequest, "redirect_uri is required")
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrUnknownClient
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if err := s.ValidateRedirectURI(client, redirectURI); err != nil {
		return nil, err
	}
	return client, nil
}

// ValidateAuthorizationRequest validates the remaining authorization request
// parameters for a client whose redirect URI has already been checked.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, client *storage.Client, req *AuthorizationRequest) error {
	if req.ResponseType != ResponseTypeCode {
		return newError(ErrorCodeUnsupportedResponseType, "response_type must be %q", ResponseTypeCode)
	}
	if !client.HasResponseType(ResponseTypeCode) || !client.HasGrantType(GrantTypeAuthorizationCode) {
		return newError(ErrorCodeUnauthorizedClient, "client is not allowed to use the authorization code flow")
	}
	if err := s.validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		s.metrics.RecordPKCEValidationFailed(ctx, req.CodeChallengeMethod)
		s.audit(ctx, security.EventPKCEValidationFailed, client.ClientID, map[string]any{"reason": err.Error()})
		return err
	}
	if err := s.validateScope(req.Scope); err != nil {
		return err
	}
	return s.validateResource(req.Resource)
}

// validateScope checks every requested scope against SupportedScopes.
func (s *Server) validateScope(scope string) error {
	if scope == "" || len(s.Config.SupportedScopes) == 0 {
		return nil
	}
	for _, sc := range strings.Fields(scope) {
		if !contains(s.Config.SupportedScopes, sc) {
			return newError(ErrorCodeInvalidScope, "unsupported scope %q", sc)
		}
	}
	return nil
}

// validateResource checks an RFC 8707 resource indicator: absolute URI
// without a fragment that, unless the audience check is disabled, lies under
// Config.Resource.
func (s *Server) validateResource(resource string) error {
	if resource == "" {
		return nil
	}
	u, err := url.Parse(resource)
	if err != nil || !u.IsAbs() {
		return newError(ErrorCodeInvalidTarget, "resource must be an absolute URI")
	}
	if u.Fragment != "" {
		return newError(ErrorCodeInvalidTarget, "resource must not contain a fragment")
	}
	if !s.Config.DisableAudienceCheck && !util.ResourceCovers(s.Config.Resource, resource) {
		return newError(ErrorCodeInvalidTarget, "resource is not served by this authorization server")
	}
	return nil
}

// IssueCode stores a new authorization code for an already validated request
// and returns its value. The code expires AuthorizationCodeTTL after issue.
func (s *Server) IssueCode(ctx context.Context, clientID, redirectURI, codeChallenge, codeChallengeMethod, scope, resource string) (string, error) {
	ctx, span := s.startSpan(ctx, "issue_code")
	defer span.End()

	if codeChallenge != "" && codeChallengeMethod == "" {
		codeChallengeMethod = PKCEMethodPlain
	}

	now := s.now()
	code := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		Scope:               scope,
		Resource:            resource,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.authorizationCodeTTL()),
	}

	if err := s.codeStore.SaveAuthorizationCode(ctx, code); err != nil {
		instrumentation.RecordError(span, err)
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	instrumentation.AddOAuthFlowAttributes(span, clientID, scope, resource)
	instrumentation.AddPKCEAttributes(span, codeChallengeMethod)
	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordCodeIssued(ctx, codeChallengeMethod)
	s.audit(ctx, security.EventAuthorizationCodeIssued, clientID, map[string]any{
		"pkce_method": codeChallengeMethod,
		"scope":       scope,
	})

	return code.Code, nil
}

// RedeemCode atomically validates and consumes an authorization code. Checks
// run in order: existence, expiry, client, redirect URI, PKCE verifier. A
// failed client, redirect or verifier check leaves the code in place, and
// only one concurrent redemption of a code can succeed.
func (s *Server) RedeemCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*storage.AuthorizationCode, error) {
	return s.redeemCode(ctx, code, clientID, redirectURI, codeVerifier, "")
}

// redeemCode is RedeemCode with an optional RFC 8707 resource from the token
// request. A code bound to a resource only redeems for that same resource.
func (s *Server) redeemCode(ctx context.Context, code, clientID, redirectURI, codeVerifier, resource string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startSpan(ctx, "redeem_code")
	defer span.End()

	authCode, err := s.codeStore.ConsumeAuthorizationCode(ctx, code, s.expiryReference(), func(c *storage.AuthorizationCode) error {
		if c.ClientID != clientID {
			return ErrClientMismatch
		}
		if c.RedirectURI != redirectURI {
			return ErrRedirectMismatch
		}
		if err := verifyPKCE(c.CodeChallenge, c.CodeChallengeMethod, codeVerifier); err != nil {
			s.metrics.RecordPKCEValidationFailed(ctx, c.CodeChallengeMethod)
			s.Logger.Debug("PKCE verification failed", "client_id", clientID, "error", err)
			return ErrInvalidCodeVerifier
		}
		if resource != "" && c.Resource != "" && !util.SameResource(resource, c.Resource) {
			return ErrResourceMismatch
		}
		return nil
	})
	if err != nil {
		err = mapCodeError(err)
		instrumentation.RecordError(span, err)
		s.metrics.RecordCodeRedemption(ctx, redemptionResult(err))
		s.audit(ctx, security.EventAuthorizationCodeRejected, clientID, map[string]any{
			"reason": AsError(err).Description,
			"code":   util.SafeTruncate(code, 8),
		})
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, clientID, authCode.Scope, authCode.Resource)
	instrumentation.SetSpanSuccess(span)
	s.metrics.RecordCodeRedemption(ctx, "success")
	return authCode, nil
}

func mapCodeError(err error) error {
	switch {
	case errors.Is(err, storage.ErrCodeNotFound):
		return ErrCodeNotFound
	case errors.Is(err, storage.ErrCodeExpired):
		return ErrCodeExpired
	}
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr
	}
	return fmt.Errorf("failed to consume authorization code: %w", err)
}

func redemptionResult(err error) string {
	var oerr *Error
	if !errors.As(err, &oerr) {
		return "error"
	}
	return strings.ReplaceAll(oerr.Description, " ", "_")
}
