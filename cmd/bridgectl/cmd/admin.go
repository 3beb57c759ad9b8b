package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var (
	adminTOTPCode    string
	reloadSetFile    string
	reloadSetJSONDoc = `{
  "threshold": 5,
  "attesters": [
    {"id": "attester-1", "public_key": "04..."},
    ...
  ]
}`
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator mutations against the admin API",
	Long: `Admin verbs require an admin bearer token in BRIDGE_API_TOKEN plus a
current TOTP code in --code. Every call lands in the audit log.`,
}

var adminRequeueCmd = &cobra.Command{
	Use:   "requeue <messageHash>",
	Short: "Requeue a failed relay job for another attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := newAPIClient().post(
			"/api/v1/admin/relays/"+url.PathEscape(args[0])+"/requeue", nil, adminTOTPCode)
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

var adminExpireCmd = &cobra.Command{
	Use:   "expire <messageHash>",
	Short: "Force-expire a pending attestation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := newAPIClient().post(
			"/api/v1/admin/attestations/"+url.PathEscape(args[0])+"/expire", nil, adminTOTPCode)
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

var adminPauseCmd = &cobra.Command{
	Use:   "pause <chain>",
	Short: "Pause a chain monitor without dropping its subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := newAPIClient().post(
			"/api/v1/admin/monitors/"+url.PathEscape(args[0])+"/pause", nil, adminTOTPCode)
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

var adminResumeCmd = &cobra.Command{
	Use:   "resume <chain>",
	Short: "Resume a paused chain monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := newAPIClient().post(
			"/api/v1/admin/monitors/"+url.PathEscape(args[0])+"/resume", nil, adminTOTPCode)
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

var adminReloadAttestersCmd = &cobra.Command{
	Use:   "reload-attesters",
	Short: "Swap the authorized attester set and threshold",
	Long: "Reads the new signing policy from a JSON file of the form:\n\n" + reloadSetJSONDoc,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(reloadSetFile)
		if err != nil {
			return fmt.Errorf("failed to read attester set: %w", err)
		}
		var body json.RawMessage = raw
		if !json.Valid(body) {
			return fmt.Errorf("%s is not valid JSON", reloadSetFile)
		}

		resp, err := newAPIClient().post("/api/v1/admin/attesters/reload", body, adminTOTPCode)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func init() {
	adminCmd.PersistentFlags().StringVar(&adminTOTPCode, "code", "", "current TOTP code from the operator authenticator")
	adminCmd.MarkPersistentFlagRequired("code")
	adminReloadAttestersCmd.Flags().StringVar(&reloadSetFile, "file", "attesters.json", "path to the attester set JSON")

	adminCmd.AddCommand(adminRequeueCmd, adminExpireCmd, adminPauseCmd, adminResumeCmd, adminReloadAttestersCmd)
	rootCmd.AddCommand(adminCmd)
}
