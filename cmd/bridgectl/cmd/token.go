package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/etrid/flarebridge/pkg/auth"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
	tokenIssuer  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for an attester or operator",
	Long: `Mints an HS256 bearer token signed with the shared JWT secret.

The secret is read from the JWT_SECRET environment variable so it never
lands in shell history. Attester tokens may only submit signatures under
their own subject; admin tokens unlock the admin API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("JWT_SECRET environment variable is not set")
		}

		token, err := auth.GenerateToken(tokenSubject, tokenRole, secret, tokenIssuer, tokenTTL)
		if err != nil {
			return err
		}

		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject: attester id or operator name")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleAttester, "token role: attester or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "flarebridge", "token issuer")
	tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}
