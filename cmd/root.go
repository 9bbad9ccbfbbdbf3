package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/darmiel/trustbroker/internal/buildinfo"
	"github.com/darmiel/trustbroker/internal/logging"
)

// global flags
var (
	userConfig string
	f          = NewFactory()
)

const (
	ServerAddrKey = "addr"
	TokenKey      = "token"
	AdminTokenKey = "admin_token"
	KerberosKey   = "kerberos"
	SPNKey        = "spn"
)

var rootCmd = &cobra.Command{
	Use:   "trustbroker",
	Short: fmt.Sprintf("Trust broker (version: %s, commit: %s)", buildinfo.Version, buildinfo.CommitHash),
	Long: `trustbroker exchanges on-premise identities (Kerberos, OIDC) for short-lived
cloud access tokens. Principals are mapped to cloud identities by configurable rules,
trusted services may act on behalf of users, and session tokens let long-running
jobs keep minting tokens after the user's credential expired.`,
	Version: buildinfo.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, configErr := initConfig()
		logging.Init(nil)
		if configErr != nil { // handle error after logging is initialized
			return configErr
		}
		if configPath != "" {
			log.Debug().Msgf("using config file: %s", configPath)
		}
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		var quiet BeQuietError
		if !errors.As(err, &quiet) {
			log.Error().Err(err).Msg("execution failed")
		}
		os.Exit(1)
	}
}

func init() {
	// setup pre-flag logger
	logging.InitDefault()

	rootCmd.PersistentFlags().StringVar(&userConfig, "user-config", "",
		"User configuration file for default values (default is $HOME/.trustbroker.yaml)")

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag(logging.LevelKey, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	_ = viper.BindPFlag(logging.FormatKey, rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.PersistentFlags().Bool("no-color", false, "Disable color output")
	_ = viper.BindPFlag(logging.NoColorKey, rootCmd.PersistentFlags().Lookup("no-color"))

	rootCmd.PersistentFlags().StringVar(&f.RemoteAddr, "server", "", "Address of the remote trust broker")
	_ = viper.BindPFlag(ServerAddrKey, rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.PersistentFlags().String("token", "", "Bearer token to authenticate with (OIDC or static backend)")
	_ = viper.BindPFlag(TokenKey, rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().Bool("kerberos", false, "Authenticate with SPNEGO using the Kerberos credential cache")
	_ = viper.BindPFlag(KerberosKey, rootCmd.PersistentFlags().Lookup("kerberos"))

	rootCmd.PersistentFlags().String("spn", "", "Service principal of the broker (default HTTP/<host>)")
	_ = viper.BindPFlag(SPNKey, rootCmd.PersistentFlags().Lookup("spn"))

	viper.SetEnvPrefix("TRUSTBROKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))

	viper.AutomaticEnv()

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func initConfig() (string, error) {
	// reads in config file and ENV variables if set.
	if userConfig != "" {
		viper.SetConfigFile(userConfig)
	} else {
		// search order: current dir, $HOME, XDG config
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}

		config, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(config + "/trustbroker")
		}

		viper.SetConfigType("yaml")
		viper.SetConfigName(".trustbroker")
	}

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		var notFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundError) {
			return "", err
		}
	} else {
		return viper.ConfigFileUsed(), nil
	}

	return "", nil
}
