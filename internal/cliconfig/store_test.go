package cliconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSave(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Credentials)

	_, err = cfg.GetCredential("broker.example.com:8080")
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	require.NoError(t, cfg.Update("https://broker.example.com:8080", func(c *Credential) {
		c.AdminToken = "admin"
	}))
	require.NoError(t, cfg.Update("broker.example.com:8080", func(c *Credential) {
		c.SessionToken = "session"
	}))
	require.NoError(t, Save(cfg))

	info, err := os.Stat(filepath.Join(home, ".trustbroker", "credentials.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load()
	require.NoError(t, err)
	cred, err := loaded.GetCredential("http://broker.example.com:8080/")
	require.NoError(t, err)
	assert.Equal(t, &Credential{AdminToken: "admin", SessionToken: "session"}, cred)
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		server  string
		want    string
		wantErr bool
	}{
		{server: "localhost:8080", want: "localhost:8080"},
		{server: "https://broker.example.com/", want: "broker.example.com"},
		{server: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			got, err := HostOf(tt.server)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
