package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/PaulFidika/jwtverify/core"
	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	"github.com/spf13/cobra"
)

var (
	verifySync     bool
	verifyAudience []string
	verifyTokenUse string
	verifyKeyFile  string
)

var verifyCmd = &cobra.Command{
	Use:   "verify [token]",
	Short: "Verify a token and print its payload",
	Long:  "Verify a token given as an argument or on stdin. With --sync only pre-seeded key sets are used. --jwks-file installs a local key set for the configured issuer and implies --sync.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readToken(args)
		if err != nil {
			return err
		}
		v, err := buildVerifier(cfg, log)
		if err != nil {
			return err
		}
		if verifyKeyFile != "" {
			ks, err := jwtkit.LoadKeySetFile(verifyKeyFile)
			if err != nil {
				return err
			}
			if err := v.CacheKeySet("", ks); err != nil {
				return err
			}
			verifySync = true
		}

		var opts []core.Option
		if len(verifyAudience) > 0 {
			opts = append(opts, core.WithAudience(verifyAudience...))
		}
		if verifyTokenUse != "" {
			opts = append(opts, core.WithTokenUse(verifyTokenUse))
		}

		var verify func() (jwtkit.Payload, error)
		if verifySync {
			verify = func() (jwtkit.Payload, error) { return v.VerifySync(token, opts...) }
		} else {
			verify = func() (jwtkit.Payload, error) { return v.Verify(cmd.Context(), token, opts...) }
		}
		payload, err := verify()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	},
}

func readToken(args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	verifyCmd.Flags().BoolVar(&verifySync, "sync", false, "use cached key sets only, never fetch")
	verifyCmd.Flags().StringSliceVar(&verifyAudience, "audience", nil, "override the accepted audiences")
	verifyCmd.Flags().StringVar(&verifyTokenUse, "token-use", "", "require token_use (access or id)")
	verifyCmd.Flags().StringVar(&verifyKeyFile, "jwks-file", "", "verify offline against a local JWKS document")
	rootCmd.AddCommand(verifyCmd)
}
