package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metatrace/metascan/internal/attest"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <record-id>",
	Short: "Verify the attestation signature on a stored analysis record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		rec, att, err := env.Service.GetRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if att == nil {
			return fmt.Errorf("record %s has no attestation", args[0])
		}

		if err := attest.Verify(rec, att); err != nil {
			return err
		}
		fmt.Printf("signature valid\npublic key: %s\nsigned at:  %s\n", att.PublicKey, att.SignedAt)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
