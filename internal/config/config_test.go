package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
authentication:
  type: kerberos
  keytab: /etc/security/broker.keytab
  service_principal: broker/broker.example.com
database:
  type: sql
  timeout: 3s
  dsn: "file::memory:"
encryption:
  type: local
  key: MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE=
provider:
  type: stub
proxy_users:
  - proxy: presto/testhost@EXAMPLE.COM
    users: ["*"]
  - proxy: hive/testhost@EXAMPLE.COM
    groups: ["datascience@example.com"]
groups:
  cache_ttl: 5m
  members:
    datascience@example.com:
      - alice@example.com
mapping:
  project: my-project
  domain: example.com
  rules:
    - name: shadow
      if: "true"
      then: "{{.Primary}}@{{.Domain}}"
access_boundary:
  enabled: true
session:
  renew_period: 12h
cache:
  safety_margin: 30s
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "kerberos", cfg.Authentication.Type)
	assert.Equal(t, "/etc/security/broker.keytab", cfg.Authentication.Settings["keytab"])
	assert.NotContains(t, cfg.Authentication.Settings, "type")
	assert.Equal(t, "sql", cfg.Database.Type)
	assert.Equal(t, 3*time.Second, cfg.Database.Timeout)
	assert.NotContains(t, cfg.Database.Settings, "timeout")
	assert.Equal(t, DefaultBackendTimeout, cfg.Encryption.Timeout)
	assert.Equal(t, "stub", cfg.Provider.Type)

	require.Len(t, cfg.ProxyUsers, 2)
	assert.True(t, cfg.ProxyUsers[0].AllowsAnyUser())
	assert.Equal(t, []string{"datascience@example.com"}, cfg.ProxyUsers[1].Groups)
	assert.Equal(t, []string{"alice@example.com"}, cfg.Groups.Members["datascience@example.com"])
	assert.Equal(t, 5*time.Minute, cfg.Groups.CacheTTL)

	require.Len(t, cfg.Mapping.Rules, 1)
	assert.NotNil(t, cfg.Mapping.Rules[0].CompiledIf)
	assert.Equal(t, "my-project", cfg.Mapping.Project)
	assert.True(t, cfg.AccessBoundary.Enabled)

	// explicit values win, the rest is defaulted
	assert.Equal(t, 12*time.Hour, cfg.Session.RenewPeriod)
	assert.Equal(t, DefaultMaxLifetime, cfg.Session.MaxLifetime)
	assert.Equal(t, 30*time.Second, cfg.Cache.SafetyMargin)
	assert.Equal(t, DefaultCacheSize, cfg.Cache.Size)
	assert.Equal(t, DefaultMintTimeout, cfg.Cache.MintTimeout)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "missing backend type",
			doc: `
authentication: {type: static}
database: {type: memory}
encryption: {type: dummy}
provider: {}
`,
		},
		{
			name: "bad mapping rule",
			doc: `
authentication: {type: static}
database: {type: memory}
encryption: {type: dummy}
provider: {type: stub}
mapping:
  rules:
    - name: broken
      if: "primary +"
      then: "x"
`,
		},
		{
			name: "lifetime shorter than renew period",
			doc: `
authentication: {type: static}
database: {type: memory}
encryption: {type: dummy}
provider: {type: stub}
session:
  renew_period: 48h
  max_lifetime: 24h
`,
		},
		{
			name: "backend timeout not a duration",
			doc: `
authentication: {type: static}
database: {type: memory, timeout: soon}
encryption: {type: dummy}
provider: {type: stub}
`,
		},
		{
			name: "unknown groups type",
			doc: `
authentication: {type: static}
database: {type: memory}
encryption: {type: dummy}
provider: {type: stub}
groups: {type: ldap}
`,
		},
		{
			name: "file audit without path",
			doc: `
authentication: {type: static}
database: {type: memory}
encryption: {type: dummy}
provider: {type: stub}
audit: {enabled: true, type: file}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestBackendConfig_Decode(t *testing.T) {
	type settings struct {
		Keytab  string        `mapstructure:"keytab"`
		Skew    time.Duration `mapstructure:"max_clock_skew"`
		Retries int           `mapstructure:"retries"`
	}

	b := BackendConfig{Type: "kerberos", Settings: map[string]any{
		"keytab":         "/tmp/kt",
		"max_clock_skew": "2m",
		"retries":        "3",
	}}
	var s settings
	require.NoError(t, b.Decode(&s))
	assert.Equal(t, settings{Keytab: "/tmp/kt", Skew: 2 * time.Minute, Retries: 3}, s)

	b.Settings["unknown"] = true
	assert.Error(t, b.Decode(&s))
}

func TestStore_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	initial, err := Load(path)
	require.NoError(t, err)
	store := NewStore(initial, path)
	assert.Same(t, initial, store.Get())

	updated := []byte(sampleConfig + "reload_interval: 1m\n")
	require.NoError(t, os.WriteFile(path, updated, 0o600))

	cfg, err := store.Reload()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, store.Get().ReloadInterval)
	assert.Same(t, cfg, store.Get())

	// an invalid file keeps the previous configuration live
	require.NoError(t, os.WriteFile(path, []byte("authentication: [broken"), 0o600))
	_, err = store.Reload()
	assert.Error(t, err)
	assert.Same(t, cfg, store.Get())

	_, err = NewStore(initial, "").Reload()
	assert.Error(t, err)
}
