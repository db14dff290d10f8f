package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	oauth "github.com/giantswarm/mcp-authserver"
)

// newMCPHandler serves a stateless Streamable HTTP MCP server with a single
// whoami tool. It must be mounted behind Handler.ValidateToken.
func newMCPHandler(version string) http.Handler {
	s := mcpserver.NewMCPServer("mcp-authserver", version,
		mcpserver.WithToolCapabilities(false),
	)
	s.AddTool(mcp.NewTool("whoami",
		mcp.WithDescription("Report the OAuth client, scope and resource of the current access token"),
	), handleWhoami)

	return mcpserver.NewStreamableHTTPServer(s,
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(tokenInfoContext),
	)
}

// tokenInfoContext carries the validated token into tool handlers.
func tokenInfoContext(ctx context.Context, r *http.Request) context.Context {
	if info, ok := oauth.TokenInfoFromContext(r.Context()); ok {
		return oauth.ContextWithTokenInfo(ctx, info)
	}
	return ctx
}

func handleWhoami(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, ok := oauth.TokenInfoFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("request is not authenticated"), nil
	}

	scope := info.Scope
	if scope == "" {
		scope = "(none)"
	}
	resource := info.Resource
	if resource == "" {
		resource = "(unbound)"
	}

	return mcp.NewToolResultText(fmt.Sprintf("client_id: %s\nscope: %s\nresource: %s\nexpires_at: %s",
		info.ClientID, scope, resource, info.ExpiresAt.UTC().Format(time.RFC3339))), nil
}
