package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var jwksCmd = &cobra.Command{
	Use:   "jwks",
	Short: "Fetch every configured key set and print what was cached",
	RunE: func(cmd *cobra.Command, _ []string) error {
		v, err := buildVerifier(cfg, log)
		if err != nil {
			return err
		}
		if err := v.Hydrate(cmd.Context()); err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v.KeySets().Stats())
	},
}

func init() {
	rootCmd.AddCommand(jwksCmd)
}
