package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darmiel/trustbroker/internal/audit"
)

var fingerprintRaw bool

var fingerprintCmd = &cobra.Command{
	Use:     "fingerprint TOKEN",
	Aliases: []string{"fp"},
	Short:   `Calculate the audit fingerprint of a token`,
	Long: `Calculates the fingerprint stored in the audit trail's 'token_fingerprint' field,
so a leaked token can be traced back to the request that minted it.`,
	Example: `  trustbroker fingerprint ya29.a0Af...

  # Read the token from stdin
  echo "ya29..." | trustbroker fingerprint -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string

		if args[0] != "-" {
			token = args[0]
		} else {
			log.Debug().Msg("Reading token from stdin")

			data, err := os.ReadFile("/dev/stdin")
			if err != nil {
				return fmt.Errorf("failed to read token from stdin: %w", err)
			}
			token = strings.TrimSpace(string(data))
		}

		if token == "" {
			return fmt.Errorf("token cannot be empty")
		}

		fp := audit.Fingerprint(token)
		if fingerprintRaw {
			fmt.Println(fp)
			return nil
		}
		fmt.Println("Fingerprint:", fp)
		if jti := audit.JWTID(token); jti != "" {
			fmt.Println("JWT ID:     ", jti)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)

	fingerprintCmd.Flags().BoolVarP(&fingerprintRaw, "raw", "r", false,
		"Output only the fingerprint value without additional text")
}
