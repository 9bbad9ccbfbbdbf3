package cmd

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darmiel/trustbroker/pkg/client"
)

var (
	tokenOwner        string
	tokenScopes       []string
	tokenTarget       string
	tokenSession      string
	tokenSavedSession bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Interact with access tokens",
}

var tokenGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Mint a cloud access token",
	Long: `Requests an access token for --owner with the configured credential, or for the
owner of a session token. The token is printed to stdout, everything else goes to stderr.`,
	Example: `  # As yourself, with your Kerberos tickets
  trustbroker token get --kerberos --owner alice@EXAMPLE.COM \
    --scope https://www.googleapis.com/auth/devstorage.read_write

  # With the session token saved by 'session issue --save'
  trustbroker token get --saved-session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionToken := tokenSession
		if tokenSavedSession {
			if sessionToken = f.SavedSessionToken(); sessionToken == "" {
				return fmt.Errorf("no saved session token for this server")
			}
		}
		if sessionToken == "" && tokenOwner == "" {
			return fmt.Errorf("provide --owner or a session token")
		}

		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		tok, correlation, err := cli.GetAccessToken(cmd.Context(), client.AccessTokenOptions{
			Owner:        tokenOwner,
			Scopes:       tokenScopes,
			Target:       tokenTarget,
			SessionToken: sessionToken,
		})
		if err != nil {
			return logError(err, correlation, "failed to get access token")
		}

		log.Info().
			Str("correlation_id", correlation).
			Msgf("%s token expires in %s", greenCheck, time.Until(tok.ExpiresAt).Round(time.Second))
		fmt.Println(tok.Token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenGetCmd)

	tokenGetCmd.Flags().StringVarP(&tokenOwner, "owner", "o", "", "Principal the token is minted for")
	tokenGetCmd.Flags().StringSliceVarP(&tokenScopes, "scope", "s", nil, "OAuth scopes (repeatable)")
	tokenGetCmd.Flags().StringVar(&tokenTarget, "target", "", "Resource the token is restricted to")
	tokenGetCmd.Flags().StringVar(&tokenSession, "session", "", "Session token to authorize with")
	tokenGetCmd.Flags().BoolVar(&tokenSavedSession, "saved-session", false, "Use the saved session token")
	tokenGetCmd.MarkFlagsMutuallyExclusive("session", "saved-session")
}
