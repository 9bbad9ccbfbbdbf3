package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/darmiel/trustbroker/internal/cliconfig"
	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/pkg/client"
)

type Factory struct {
	// RemoteAddr is the address of the trust broker to connect to.
	RemoteAddr string

	// ConfigPath is the server configuration used by serve and the local commands.
	ConfigPath string
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) GetRemoteAddr() (string, error) {
	server := f.RemoteAddr // prio 1: command-line flag
	if server == "" {
		server = viper.GetString(ServerAddrKey) // prio 2: config/env
	}
	if server == "" {
		return "", fmt.Errorf("server address not configured (use --server or set TRUSTBROKER_ADDR)")
	}
	return server, nil
}

// GetClient returns a client authenticated with the configured credential.
// Admin requests use the saved admin token unless TRUSTBROKER_ADMIN_TOKEN is set.
func (f *Factory) GetClient() (*client.Client, error) {
	server, err := f.GetRemoteAddr()
	if err != nil {
		return nil, err
	}

	var opts []client.Option

	adminToken := viper.GetString(AdminTokenKey)
	if adminToken == "" {
		if cred := f.savedCredential(server); cred != nil {
			adminToken = cred.AdminToken
		}
	}
	if adminToken != "" {
		opts = append(opts, client.WithAdminToken(adminToken))
	}

	switch {
	case viper.GetString(TokenKey) != "":
		opts = append(opts, client.WithBearerToken(viper.GetString(TokenKey)))
	case viper.GetBool(KerberosKey):
		krb, err := client.KerberosFromCCache(client.DefaultCCachePath(), client.DefaultKrb5Conf)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithKerberos(krb, viper.GetString(SPNKey)))
	}

	return client.New(server, opts...)
}

// SavedSessionToken returns the session token stored by 'session issue --save'.
func (f *Factory) SavedSessionToken() string {
	server, err := f.GetRemoteAddr()
	if err != nil {
		return ""
	}
	if cred := f.savedCredential(server); cred != nil {
		return cred.SessionToken
	}
	return ""
}

func (f *Factory) savedCredential(server string) *cliconfig.Credential {
	cfg, err := cliconfig.Load()
	if err != nil {
		log.Debug().Err(err).Msg("cannot load saved credentials")
		return nil
	}
	cred, err := cfg.GetCredential(server)
	if err != nil {
		return nil
	}
	return cred
}

// SaveCredential updates the saved credential of the current server.
func (f *Factory) SaveCredential(update func(*cliconfig.Credential)) error {
	server, err := f.GetRemoteAddr()
	if err != nil {
		return err
	}
	cfg, err := cliconfig.Load()
	if err != nil {
		return err
	}
	if err := cfg.Update(server, update); err != nil {
		return err
	}
	return cliconfig.Save(cfg)
}

func (f *Factory) LoadServerConfig() (*config.Config, error) {
	if f.ConfigPath == "" {
		return nil, fmt.Errorf("configuration file not specified (use --config)")
	}
	return config.Load(f.ConfigPath)
}
