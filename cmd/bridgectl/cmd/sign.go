package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/etrid/flarebridge/pkg/crypto"
)

var (
	signMessageHash string
	verifySignature string
	verifyAddress   string
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a message hash with an attester key",
	Long: `Signs a canonical message hash with a secp256k1 private key and prints
the 65-byte recoverable signature. The key is read from the ATTESTER_KEY
environment variable so it never lands in shell history.

Intended for staging attesters and end-to-end tests; production attesters
sign inside their own infrastructure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keyHex := os.Getenv("ATTESTER_KEY")
		if keyHex == "" {
			return fmt.Errorf("ATTESTER_KEY environment variable is not set")
		}

		key, err := crypto.ParsePrivateKey(keyHex)
		if err != nil {
			return err
		}

		digest, err := crypto.DecodeDigestHex(signMessageHash)
		if err != nil {
			return err
		}

		sig, err := crypto.Sign(digest, key)
		if err != nil {
			return err
		}

		fmt.Printf("signer:    %s\n", crypto.AddressFromPrivateKey(key))
		fmt.Printf("signature: 0x%s\n", hex.EncodeToString(sig))
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recover the signer of an attestation signature",
	Long: `Recovers the signer address from a recoverable signature over a message
hash. With --address the recovered signer is additionally checked against
the expected attester address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		digest, err := crypto.DecodeDigestHex(signMessageHash)
		if err != nil {
			return err
		}

		sig, err := crypto.DecodeSignatureHex(verifySignature)
		if err != nil {
			return err
		}

		signer, err := crypto.RecoverSigner(digest, sig)
		if err != nil {
			return err
		}
		fmt.Printf("signer: %s\n", signer)

		if verifyAddress != "" {
			if err := crypto.VerifySignature(digest, sig, verifyAddress); err != nil {
				return err
			}
			fmt.Println("signature matches the expected address")
		}
		return nil
	},
}

func init() {
	signCmd.Flags().StringVar(&signMessageHash, "message-hash", "", "canonical message hash, hex encoded")
	signCmd.MarkFlagRequired("message-hash")

	verifyCmd.Flags().StringVar(&signMessageHash, "message-hash", "", "canonical message hash, hex encoded")
	verifyCmd.Flags().StringVar(&verifySignature, "signature", "", "65-byte recoverable signature, hex encoded")
	verifyCmd.Flags().StringVar(&verifyAddress, "address", "", "expected attester address (optional)")
	verifyCmd.MarkFlagRequired("message-hash")
	verifyCmd.MarkFlagRequired("signature")

	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
}
