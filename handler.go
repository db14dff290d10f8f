package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
)

// Endpoint paths
const (
	EndpointRegister                    = "/oauth/register"
	EndpointAuthorize                   = "/oauth/authorize"
	EndpointToken                       = "/oauth/token"
	EndpointRevoke                      = "/oauth/revoke"
	EndpointAuthorizationServerMetadata = "/.well-known/oauth-authorization-server"
	EndpointProtectedResourceMetadata   = "/.well-known/oauth-protected-resource"
)

// maxRequestBodySize bounds registration and token request bodies
const maxRequestBodySize = 1 << 20

// Handler is a thin HTTP adapter for the OAuth Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server  *server.Server
	logger  *slog.Logger
	tracer  trace.Tracer // OpenTelemetry tracer for HTTP layer
	metrics *instrumentation.Metrics
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("http"),
	}

	// Initialize tracer and metrics if instrumentation is enabled
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
		h.metrics = srv.Instrumentation.Metrics()
	}

	return h
}

// RegisterRoutes mounts every OAuth endpoint on mux. Registration,
// authorization, token and revocation requests are rate limited per IP when
// the server has a RateLimiter.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(EndpointRegister, h.endpoint(EndpointRegister, true, h.ServeClientRegistration))
	mux.Handle(EndpointAuthorize, h.endpoint(EndpointAuthorize, true, h.ServeAuthorization))
	mux.Handle(EndpointToken, h.endpoint(EndpointToken, true, h.ServeToken))
	mux.Handle(EndpointRevoke, h.endpoint(EndpointRevoke, true, h.ServeTokenRevocation))
	mux.Handle(EndpointAuthorizationServerMetadata, h.endpoint(EndpointAuthorizationServerMetadata, false, h.ServeAuthorizationServerMetadata))
	mux.Handle(EndpointProtectedResourceMetadata, h.endpoint(EndpointProtectedResourceMetadata, false, h.ServeProtectedResourceMetadata))
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// endpoint wraps fn with request IDs, client IP propagation, rate limiting,
// tracing and HTTP metrics.
func (h *Handler) endpoint(name string, rateLimited bool, fn http.HandlerFunc) http.Handler {
	return security.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		clientIP := h.clientIP(r)

		ctx := security.WithClientIP(r.Context(), clientIP)
		ctx, span := h.tracer.Start(ctx, "http"+strings.ReplaceAll(name, "/", "."))
		defer span.End()
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if !rateLimited || !h.checkIPRateLimit(rec, r, clientIP, name) {
			fn(rec, r)
		}

		instrumentation.AddHTTPAttributes(span, r.Method, name, rec.status)
		h.recordHTTPMetrics(ctx, name, r.Method, rec.status, startTime)
	}))
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP, endpoint string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	h.metrics.RecordRateLimitExceeded(r.Context(), endpoint)
	h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)
	w.Header().Set("Retry-After", "60")
	h.writeOAuthError(w, ErrRateLimitExceeded("Rate limit exceeded. Please try again later."))
	return true
}

// ==================== Client Registration (RFC 7591) ====================

// ServeClientRegistration handles POST /oauth/register. An empty body
// registers a client with default metadata.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	ctx := r.Context()
	clientIP := security.ClientIPFromContext(ctx)

	if !h.server.ValidateRegistrationToken(bearerToken(r)) {
		h.logger.Warn("Client registration rejected: invalid registration access token", "ip", clientIP)
		h.server.Auditor.LogAuthFailure("", clientIP, "invalid registration access token")
		h.writeOAuthError(w, ErrInvalidToken("Valid registration access token required"))
		return
	}

	req, err := decodeRegistrationRequest(w, r)
	if err != nil {
		h.writeOAuthError(w, ErrInvalidClientMetadata(err.Error()))
		return
	}

	reg, err := h.server.RegisterClient(ctx, server.ClientMetadata{
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
	}, clientIP)
	if err != nil {
		h.logger.Warn("Client registration failed", "ip", clientIP, "error", err)
		h.writeOAuthError(w, toOAuthError(err, ""))
		return
	}

	client := reg.Client
	redirectURIs := client.RedirectURIs
	if redirectURIs == nil {
		redirectURIs = []string{}
	}

	h.writeJSON(w, http.StatusCreated, ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            reg.ClientSecret,
		ClientName:              client.ClientName,
		RedirectURIs:            redirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientSecretExpiresAt:   0,
	})
}

func decodeRegistrationRequest(w http.ResponseWriter, r *http.Request) (*ClientRegistrationRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read registration request")
	}

	req := &ClientRegistrationRequest{}
	if len(bytes.TrimSpace(body)) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, req); err != nil {
		return nil, fmt.Errorf("malformed registration request: %v", err)
	}
	return req, nil
}

// ==================== Authorization Endpoint ====================

// ServeAuthorization handles GET /oauth/authorize. Problems with client_id
// or redirect_uri are reported as JSON; once the redirect URI is trusted,
// errors are sent to it as query parameters.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	ctx := r.Context()
	q := r.URL.Query()
	req := &server.AuthorizationRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Scope:               q.Get("scope"),
		Resource:            q.Get("resource"),
	}

	client, err := h.server.ValidateAuthorizationRedirect(ctx, req.ClientID, req.RedirectURI)
	if err != nil {
		oerr := toOAuthError(err, "")
		if oerr.Status != http.StatusInternalServerError {
			oerr.Status = http.StatusBadRequest
		}
		h.logger.Warn("Authorization request rejected", "client_id", req.ClientID, "error", oerr.Description)
		h.writeOAuthError(w, oerr)
		return
	}

	if err := h.server.ValidateAuthorizationRequest(ctx, client, req); err != nil {
		h.redirectWithError(w, r, req.RedirectURI, toOAuthError(err, ""), req.State)
		return
	}

	code, err := h.server.IssueCode(ctx, client.ClientID, req.RedirectURI, req.CodeChallenge, req.CodeChallengeMethod, req.Scope, req.Resource)
	if err != nil {
		h.logger.Error("Failed to issue authorization code", "client_id", client.ClientID, "error", err)
		h.redirectWithError(w, r, req.RedirectURI, ErrServerError("Failed to issue authorization code"), req.State)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, appendQuery(req.RedirectURI, map[string]string{
		"code":  code,
		"state": req.State,
	}), http.StatusFound)
}

func (h *Handler) redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI string, oerr *OAuthError, state string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, appendQuery(redirectURI, map[string]string{
		"error":             oerr.Code,
		"error_description": oerr.Description,
		"state":             state,
	}), http.StatusFound)
}

// appendQuery adds the non-empty params to rawURL's query string.
func appendQuery(rawURL string, params map[string]string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ==================== Token Endpoint ====================

// ServeToken handles POST /oauth/token for the authorization_code,
// refresh_token and client_credentials grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest("Malformed request body"))
		return
	}

	grantType := r.PostForm.Get("grant_type")
	switch grantType {
	case server.GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r)
	case server.GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r)
	case server.GrantTypeClientCredentials:
		h.handleClientCredentialsGrant(w, r)
	case "":
		h.writeOAuthError(w, ErrInvalidRequest("grant_type is required"))
	default:
		h.writeOAuthError(w, ErrUnsupportedGrantType(fmt.Sprintf("Unsupported grant_type %q", grantType)))
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creds, oerr := clientCredentialsFromRequest(r)
	if oerr == nil {
		oerr = h.authenticateClient(ctx, creds)
	}
	if oerr != nil {
		h.writeClientError(w, creds, oerr)
		return
	}

	code := r.PostForm.Get("code")
	redirectURI := r.PostForm.Get("redirect_uri")
	if code == "" {
		h.writeOAuthError(w, ErrInvalidRequest("code is required"))
		return
	}
	if redirectURI == "" {
		h.writeOAuthError(w, ErrInvalidRequest("redirect_uri is required"))
		return
	}

	pair, err := h.server.ExchangeAuthorizationCode(ctx, code, creds.id, redirectURI, r.PostForm.Get("code_verifier"), r.PostForm.Get("resource"))
	if err != nil {
		h.logger.Warn("Authorization code exchange failed", "client_id", creds.id, "error", err)
		h.writeOAuthError(w, toOAuthError(err, server.GrantTypeAuthorizationCode))
		return
	}

	h.writeTokenResponse(w, pair)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creds, oerr := clientCredentialsFromRequest(r)
	if oerr == nil {
		oerr = h.authenticateClient(ctx, creds)
	}
	if oerr != nil {
		h.writeClientError(w, creds, oerr)
		return
	}

	refreshToken := r.PostForm.Get("refresh_token")
	if refreshToken == "" {
		h.writeOAuthError(w, ErrInvalidRequest("refresh_token is required"))
		return
	}

	pair, err := h.server.RefreshAccessToken(ctx, refreshToken, creds.id, r.PostForm.Get("resource"))
	if err != nil {
		h.logger.Warn("Refresh token rejected", "client_id", creds.id, "error", err)
		h.writeOAuthError(w, toOAuthError(err, server.GrantTypeRefreshToken))
		return
	}

	h.writeTokenResponse(w, pair)
}

func (h *Handler) handleClientCredentialsGrant(w http.ResponseWriter, r *http.Request) {
	creds, oerr := clientCredentialsFromRequest(r)
	if oerr != nil {
		h.writeClientError(w, creds, oerr)
		return
	}
	if creds.id == "" || creds.secret == "" {
		h.writeClientError(w, creds, ErrInvalidClient("Client authentication required"))
		return
	}

	pair, err := h.server.ClientCredentialsGrant(r.Context(), creds.id, creds.secret, r.PostForm.Get("scope"), r.PostForm.Get("resource"))
	if err != nil {
		h.logger.Warn("Client credentials grant failed", "client_id", creds.id, "error", err)
		h.writeClientError(w, creds, toOAuthError(err, server.GrantTypeClientCredentials))
		return
	}

	h.writeTokenResponse(w, pair)
}

// ==================== Token Revocation (RFC 7009) ====================

// ServeTokenRevocation handles POST /oauth/revoke. Unknown tokens and
// tokens of other clients produce the same 200 response as a revocation.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest("Malformed request body"))
		return
	}

	ctx := r.Context()
	creds, oerr := clientCredentialsFromRequest(r)
	if oerr == nil {
		oerr = h.authenticateClient(ctx, creds)
	}
	if oerr != nil {
		h.writeClientError(w, creds, oerr)
		return
	}

	if err := h.server.RevokeToken(ctx, r.PostForm.Get("token"), r.PostForm.Get("token_type_hint"), creds.id); err != nil {
		h.writeOAuthError(w, toOAuthError(err, ""))
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusOK)
}

// ==================== Client Authentication ====================

type clientCredentials struct {
	id     string
	secret string
	basic  bool // sent in the Authorization header
}

// clientCredentialsFromRequest reads client credentials from HTTP Basic auth
// or, failing that, from the form body. The form must have been parsed.
func clientCredentialsFromRequest(r *http.Request) (clientCredentials, *OAuthError) {
	if id, secret, ok := r.BasicAuth(); ok {
		// RFC 6749 2.3.1: credentials are form-encoded before base64
		if v, err := url.QueryUnescape(id); err == nil {
			id = v
		}
		if v, err := url.QueryUnescape(secret); err == nil {
			secret = v
		}
		creds := clientCredentials{id: id, secret: secret, basic: true}
		if formID := r.PostForm.Get("client_id"); formID != "" && formID != id {
			return creds, ErrInvalidRequest("client_id does not match the Authorization header")
		}
		return creds, nil
	}

	return clientCredentials{
		id:     r.PostForm.Get("client_id"),
		secret: r.PostForm.Get("client_secret"),
	}, nil
}

// authenticateClient checks the caller's identity for the code, refresh and
// revocation endpoints. A client_id alone identifies the caller; a secret,
// when presented, must be correct.
func (h *Handler) authenticateClient(ctx context.Context, creds clientCredentials) *OAuthError {
	if creds.id == "" {
		return ErrInvalidRequest("client_id is required")
	}

	if creds.secret != "" {
		if _, err := h.server.AuthenticateClient(ctx, creds.id, creds.secret); err != nil {
			oerr := toOAuthError(err, "")
			if oerr.Code == ErrorCodeInvalidClient {
				return ErrInvalidClient("Client authentication failed")
			}
			return oerr
		}
		return nil
	}

	if !h.server.ValidateClientID(ctx, creds.id) {
		h.server.Auditor.LogAuthFailure(creds.id, security.ClientIPFromContext(ctx), "unknown client")
		return ErrInvalidClient("Client authentication failed")
	}
	return nil
}

// writeClientError writes a client authentication failure. Clients that
// authenticated with HTTP Basic get a matching Basic challenge.
func (h *Handler) writeClientError(w http.ResponseWriter, creds clientCredentials, oerr *OAuthError) {
	if oerr.Code == ErrorCodeInvalidClient && creds.basic {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	h.writeOAuthError(w, oerr)
}

// ==================== Discovery Metadata ====================

// ServeAuthorizationServerMetadata serves RFC 8414 Authorization Server Metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	h.writeJSON(w, http.StatusOK, h.buildAuthServerMetadata())
}

func (h *Handler) buildAuthServerMetadata() AuthorizationServerMetadata {
	issuer := h.issuer()

	pkceMethods := []string{server.PKCEMethodS256}
	if h.server.Config.AllowPKCEPlain {
		pkceMethods = append(pkceMethods, server.PKCEMethodPlain)
	}

	return AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + EndpointAuthorize,
		TokenEndpoint:                     issuer + EndpointToken,
		RegistrationEndpoint:              issuer + EndpointRegister,
		RevocationEndpoint:                issuer + EndpointRevoke,
		ScopesSupported:                   h.server.Config.SupportedScopes,
		ResponseTypesSupported:            []string{server.ResponseTypeCode},
		GrantTypesSupported:               server.SupportedGrantTypes,
		TokenEndpointAuthMethodsSupported: server.SupportedAuthMethods,
		CodeChallengeMethodsSupported:     pkceMethods,
	}
}

// ServeProtectedResourceMetadata serves RFC 9728 Protected Resource Metadata
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	h.writeJSON(w, http.StatusOK, ProtectedResourceMetadata{
		Resource:               h.server.Config.Resource,
		AuthorizationServers:   []string{h.issuer()},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        h.server.Config.SupportedScopes,
	})
}

// ProtectedResourceMetadataURL returns the absolute URL of the RFC 9728 document
func (h *Handler) ProtectedResourceMetadataURL() string {
	return h.issuer() + EndpointProtectedResourceMetadata
}

func (h *Handler) issuer() string {
	return strings.TrimRight(h.server.Config.Issuer, "/")
}

// ==================== Bearer Token Middleware ====================

type contextKey string

const tokenInfoKey contextKey = "token_info"

// TokenInfoFromContext returns the validated token of the current request
func TokenInfoFromContext(ctx context.Context) (*TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKey).(*TokenInfo)
	return info, ok
}

// ContextWithTokenInfo stores a validated token in ctx
func ContextWithTokenInfo(ctx context.Context, info *TokenInfo) context.Context {
	return context.WithValue(ctx, tokenInfoKey, info)
}

// ValidateToken is middleware that requires a valid bearer access token.
// Any validation failure, including a store error, is answered with 401.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.clientIP(r)
		ctx := security.WithClientIP(r.Context(), clientIP)

		accessToken := bearerToken(r)
		if accessToken == "" {
			h.writeUnauthorizedError(w, "Missing or malformed bearer token")
			return
		}

		at, err := h.server.ValidateAccessToken(ctx, accessToken)
		if err != nil {
			h.logger.Debug("Token validation failed", "ip", clientIP, "error", err)
			h.writeUnauthorizedError(w, "Token validation failed: "+server.AsError(err).Description)
			return
		}

		ctx = ContextWithTokenInfo(ctx, &TokenInfo{
			ClientID:  at.ClientID,
			Scope:     at.Scope,
			Resource:  at.Resource,
			ExpiresAt: at.ExpiresAt,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer" header
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ==================== Response Helpers ====================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	h.writeJSON(w, status, ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, oerr *OAuthError) {
	h.writeError(w, oerr.Code, oerr.Description, oerr.Status)
}

func (h *Handler) writeMethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	h.writeError(w, ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
}

// writeUnauthorizedError answers a protected request whose bearer token was
// missing or rejected, pointing the client at the resource metadata.
func (h *Handler) writeUnauthorizedError(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(ErrorCodeInsufficientScope, description))
	h.writeError(w, ErrorCodeInvalidToken, description, http.StatusUnauthorized)
}

// formatWWWAuthenticate formats the WWW-Authenticate header value per
// RFC 6750 and RFC 9728.
//
//	Bearer resource_metadata="https://example.com/.well-known/oauth-protected-resource",
//	       error="insufficient_scope",
//	       error_description="Token validation failed: token expired"
func (h *Handler) formatWWWAuthenticate(errCode, errorDesc string) string {
	params := []string{fmt.Sprintf(`resource_metadata="%s"`, h.ProtectedResourceMetadataURL())}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, errCode))
	}
	if errorDesc != "" {
		// Escape backslashes first, then quotes
		escaped := strings.ReplaceAll(errorDesc, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		params = append(params, fmt.Sprintf(`error_description="%s"`, escaped))
	}
	return "Bearer " + strings.Join(params, ", ")
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, pair *server.TokenPair) {
	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		RefreshToken: pair.RefreshToken,
		Scope:        pair.Scope,
	})
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	h.metrics.RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
