package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darmiel/trustbroker/internal/mapping"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Interact with the configuration",
	Long:  `Utilities for validating the broker configuration`,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Parses the configuration, checks it and compiles the mapping rules.
Backends are not contacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := f.LoadServerConfig()
		if err != nil {
			log.Error().Err(err).Msgf("%s Configuration is invalid.", redCross)
			return BeQuietError{}
		}
		engine, err := mapping.New(cfg.Mapping)
		if err != nil {
			log.Error().Err(err).Msgf("%s Mapping rules do not compile.", redCross)
			return BeQuietError{}
		}
		logSuccess("Configuration is valid (%d mapping rule(s), %d proxy user(s)).",
			len(engine.Rules()), len(cfg.ProxyUsers))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)

	addConfigFlag(configValidateCmd.Flags())
	_ = configValidateCmd.MarkFlagRequired("config")
}
