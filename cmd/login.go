package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darmiel/trustbroker/internal/cliconfig"
	"github.com/darmiel/trustbroker/pkg/client"
)

var loginCmd = &cobra.Command{
	Use:   "login ADMIN-TOKEN",
	Short: "Save an admin token for a trust broker server",
	Long: `Verifies the admin JWT against the server's admin API and saves it locally,
so audit, tasks and map commands can use it. Pass "-" to read the token from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]
		if token == "-" {
			data, err := os.ReadFile("/dev/stdin")
			if err != nil {
				return fmt.Errorf("failed to read token from stdin: %w", err)
			}
			token = strings.TrimSpace(string(data))
		}
		if token == "" {
			return fmt.Errorf("token cannot be empty")
		}

		server, err := f.GetRemoteAddr()
		if err != nil {
			return err
		}
		cli, err := client.New(server, client.WithAdminToken(token))
		if err != nil {
			return err
		}

		log.Info().Msgf("Verifying admin token with %q...", server)
		if _, correlation, err := cli.ListTasks(cmd.Context()); err != nil {
			return logError(err, correlation, "admin token was rejected")
		}

		if err := f.SaveCredential(func(c *cliconfig.Credential) {
			c.AdminToken = token
		}); err != nil {
			return fmt.Errorf("login succeeded but could not save credentials: %w", err)
		}

		host, _ := cliconfig.HostOf(server)
		logSuccess("saved credentials for %s", bold(host))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
