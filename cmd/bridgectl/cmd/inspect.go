package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	listStatus string
	listChain  string
	listLimit  int
	listOffset int
	lookupTx   string
)

var attestationsCmd = &cobra.Command{
	Use:   "attestations",
	Short: "List and inspect attestations",
}

var attestationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attestations, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := newAPIClient().get("/api/v1/attestations?" + pageQuery())
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

var attestationsGetCmd = &cobra.Command{
	Use:   "get <messageHash>",
	Short: "Show one attestation with its signatures",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := newAPIClient().get("/api/v1/attestations/" + url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

var depositsCmd = &cobra.Command{
	Use:   "deposits",
	Short: "List and inspect observed deposits",
}

var depositsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deposits, optionally filtered by chain and status",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := pageQuery()
		if listChain != "" {
			q += "&chain=" + url.QueryEscape(listChain)
		}
		raw, err := newAPIClient().get("/api/v1/deposits?" + q)
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

var depositsLookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Find a deposit by chain and transaction reference",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listChain == "" || lookupTx == "" {
			return fmt.Errorf("both --chain and --tx are required")
		}
		raw, err := newAPIClient().get(fmt.Sprintf("/api/v1/deposits/lookup?chain=%s&tx_reference=%s",
			url.QueryEscape(listChain), url.QueryEscape(lookupTx)))
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

var relaysCmd = &cobra.Command{
	Use:   "relays",
	Short: "Inspect relay jobs",
}

var relaysGetCmd = &cobra.Command{
	Use:   "get <messageHash>",
	Short: "Show the relay job for a message hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := newAPIClient().get("/api/v1/relays/" + url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

var relaysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List relay jobs, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := newAPIClient().get("/api/v1/relays?" + pageQuery())
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

func pageQuery() string {
	q := fmt.Sprintf("limit=%d&offset=%d", listLimit, listOffset)
	if listStatus != "" {
		q += "&status=" + url.QueryEscape(listStatus)
	}
	return q
}

func init() {
	for _, cmd := range []*cobra.Command{attestationsListCmd, depositsListCmd, relaysListCmd} {
		cmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
		cmd.Flags().IntVar(&listLimit, "limit", 50, "page size")
		cmd.Flags().IntVar(&listOffset, "offset", 0, "page offset")
	}
	depositsListCmd.Flags().StringVar(&listChain, "chain", "", "filter by chain")
	depositsLookupCmd.Flags().StringVar(&listChain, "chain", "", "source chain name")
	depositsLookupCmd.Flags().StringVar(&lookupTx, "tx", "", "chain-native transaction reference")

	attestationsCmd.AddCommand(attestationsListCmd, attestationsGetCmd)
	depositsCmd.AddCommand(depositsListCmd, depositsLookupCmd)
	relaysCmd.AddCommand(relaysListCmd, relaysGetCmd)
	rootCmd.AddCommand(attestationsCmd, depositsCmd, relaysCmd)
}
