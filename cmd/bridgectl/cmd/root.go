// Package cmd implements the bridgectl operator CLI: token minting, message
// inspection, attester signing helpers, TOTP enrollment, and a thin client
// for the relayer HTTP API. Nothing here talks to the relayer database
// directly; mutations go through the audited admin endpoints.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X .../cmd.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "bridgectl",
	Short: "Operator toolbox for the FlareBridge relayer",
	Long: `bridgectl bundles the chores around running the relayer: minting API
bearer tokens, computing and decoding canonical bridge messages,
producing attester signatures for testing, generating the TOTP secret
that guards the admin API, and querying or administering a running
relayer over its HTTP API.

API commands read the relayer address from --api-url or BRIDGE_API_URL
and the bearer token from BRIDGE_API_TOKEN.`,
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
