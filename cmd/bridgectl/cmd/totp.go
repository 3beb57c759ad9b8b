package cmd

import (
	"fmt"

	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
)

var (
	totpIssuer  string
	totpAccount string
)

var totpCmd = &cobra.Command{
	Use:   "totp-secret",
	Short: "Generate the TOTP secret that guards the admin API",
	Long: `Generates a new TOTP secret and the otpauth enrollment URL. Deploy the
secret as ADMIN_TOTP_SECRET and enroll the URL in the operator's
authenticator; admin mutations then require a current code in the
X-TOTP-Code header.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      totpIssuer,
			AccountName: totpAccount,
		})
		if err != nil {
			return err
		}

		fmt.Printf("secret: %s\n", key.Secret())
		fmt.Printf("url:    %s\n", key.URL())
		return nil
	},
}

func init() {
	totpCmd.Flags().StringVar(&totpIssuer, "issuer", "flarebridge", "issuer shown in the authenticator")
	totpCmd.Flags().StringVar(&totpAccount, "account", "", "operator account name, usually an email")
	totpCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(totpCmd)
}
