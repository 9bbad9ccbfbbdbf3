package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/groups"
	"github.com/darmiel/trustbroker/internal/mapping"
	"github.com/darmiel/trustbroker/internal/proxy"
)

var impersonateCmd = &cobra.Command{
	Use:   "impersonate PROXY USER",
	Short: "Check whether a proxy principal may act on behalf of a user",
	Long: `Evaluates the proxy_users rules of a local configuration file. The user is
mapped to its cloud identity first, which is matched against the allowed users and,
through the configured group resolver, the allowed groups.`,
	Example: `  trustbroker impersonate hive/host.example.com@EXAMPLE.COM alice@EXAMPLE.COM --config broker.yaml`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := f.LoadServerConfig()
		if err != nil {
			return err
		}

		engine, err := mapping.New(cfg.Mapping)
		if err != nil {
			return fmt.Errorf("compiling mapping rules: %w", err)
		}
		resolver, err := groups.FromConfig(cmd.Context(), cfg.Groups)
		if err != nil {
			return fmt.Errorf("creating group resolver: %w", err)
		}

		proxyUser, user := core.Principal(args[0]), core.Principal(args[1])
		validator := proxy.NewValidator(func() []core.ProxyRule {
			return cfg.ProxyUsers
		}, engine, resolver)

		if err := validator.ValidateImpersonator(cmd.Context(), proxyUser, user); err != nil {
			log.Error().Str("kind", string(core.KindOf(err))).Msgf("%s %v", redCross, err)
			return BeQuietError{}
		}
		logSuccess("%s may act on behalf of %s", bold(proxyUser), bold(user))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(impersonateCmd)

	addConfigFlag(impersonateCmd.Flags())
	_ = impersonateCmd.MarkFlagRequired("config")
}
