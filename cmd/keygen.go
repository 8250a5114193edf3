package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metatrace/metascan/internal/attest"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 signing key for record attestation",
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := attest.GenerateKey(keygenOut)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %s\npublic key: %s\n", keygenOut, signer.PublicKey())
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOut, "out", "metascan.key", "output path for the private key seed")
	rootCmd.AddCommand(keygenCmd)
}
