package cmd

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darmiel/trustbroker/internal/api"
	"github.com/darmiel/trustbroker/internal/cliconfig"
)

var (
	sessionOwner     string
	sessionRenewer   string
	sessionScopes    []string
	sessionTarget    string
	sessionSave      bool
	sessionExtension time.Duration
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Issue, renew and cancel session tokens",
	Long: `Session tokens let a job mint access tokens for the owner after the owner's
credential expired. Only the renewer (the owner unless set) may renew a session and
only the owner may cancel it.`,
}

var sessionIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a session token",
	Example: `  trustbroker session issue --kerberos --owner alice@EXAMPLE.COM \
    --renewer yarn/rm.example.com@EXAMPLE.COM \
    --scope https://www.googleapis.com/auth/devstorage.read_write`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		tok, correlation, err := cli.GetSessionToken(cmd.Context(), api.SessionTokenPayload{
			Owner:   sessionOwner,
			Renewer: sessionRenewer,
			Target:  sessionTarget,
			Scopes:  sessionScopes,
		})
		if err != nil {
			return logError(err, correlation, "failed to issue session token")
		}

		log.Info().
			Str("correlation_id", correlation).
			Msgf("%s session expires at %s", greenCheck, tok.ExpiresAt.Local().Format(time.RFC1123))

		if sessionSave {
			if err := f.SaveCredential(func(c *cliconfig.Credential) {
				c.SessionToken = tok.Token
			}); err != nil {
				return fmt.Errorf("saving session token: %w", err)
			}
			logSuccess("saved session token")
			return nil
		}
		fmt.Println(tok.Token)
		return nil
	},
}

var sessionRenewCmd = &cobra.Command{
	Use:   "renew [SESSION-TOKEN]",
	Short: "Extend a session token",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := sessionTokenArg(args)
		if err != nil {
			return err
		}
		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		expiresAt, correlation, err := cli.RenewSessionToken(cmd.Context(), token, sessionExtension)
		if err != nil {
			return logError(err, correlation, "failed to renew session token")
		}
		logSuccess("session expires at %s", bold(expiresAt.Local().Format(time.RFC1123)))
		return nil
	},
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel [SESSION-TOKEN]",
	Short: "Cancel a session token",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := sessionTokenArg(args)
		if err != nil {
			return err
		}
		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		correlation, err := cli.CancelSessionToken(cmd.Context(), token)
		if err != nil {
			return logError(err, correlation, "failed to cancel session token")
		}

		if token == f.SavedSessionToken() {
			if err := f.SaveCredential(func(c *cliconfig.Credential) {
				c.SessionToken = ""
			}); err != nil {
				log.Warn().Err(err).Msg("session cancelled but the saved token could not be removed")
			}
		}
		logSuccess("session cancelled")
		return nil
	},
}

// sessionTokenArg returns the token given as argument or the saved one.
func sessionTokenArg(args []string) (string, error) {
	if len(args) == 1 && args[0] != "" {
		return args[0], nil
	}
	if token := f.SavedSessionToken(); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("no session token given and none saved for this server")
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionIssueCmd, sessionRenewCmd, sessionCancelCmd)

	sessionIssueCmd.Flags().StringVarP(&sessionOwner, "owner", "o", "", "Principal the session mints tokens for")
	sessionIssueCmd.Flags().StringVar(&sessionRenewer, "renewer", "", "Principal allowed to renew (default: owner)")
	sessionIssueCmd.Flags().StringSliceVarP(&sessionScopes, "scope", "s", nil, "OAuth scopes (repeatable)")
	sessionIssueCmd.Flags().StringVar(&sessionTarget, "target", "", "Resource tokens of the session are restricted to")
	sessionIssueCmd.Flags().BoolVar(&sessionSave, "save", false, "Save the session token instead of printing it")
	_ = sessionIssueCmd.MarkFlagRequired("owner")
	_ = sessionIssueCmd.MarkFlagRequired("scope")

	sessionRenewCmd.Flags().DurationVar(&sessionExtension, "extension", 0, "Requested extension (default: server renew period)")
}
