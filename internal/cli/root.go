// Package cli implements the authserver command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-authserver/internal/config"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// NewRootCmd builds the authserver command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "authserver",
		Short: "OAuth 2.1 authorization server for MCP clients",
		Long: "authserver is an in-memory OAuth 2.1 authorization server with dynamic client\n" +
			"registration, PKCE and refresh token rotation.\n\n" +
			"Run 'authserver serve' to start it and 'authserver env' to list the\n" +
			"environment variables it reads.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newEnvCmd())
	return rootCmd
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List supported environment variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Usage(cmd.OutOrStdout())
		},
	}
}
