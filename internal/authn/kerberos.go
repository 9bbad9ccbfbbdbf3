package authn

import (
	"context"
	"fmt"
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/spnego"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const KerberosType = "kerberos"

var _ core.Authenticator = (*KerberosAuthenticator)(nil)

// KerberosAuthenticator verifies SPNEGO tokens carrying a Kerberos AP-REQ against the
// broker's service keytab.
type KerberosAuthenticator struct {
	settings *service.Settings
}

type kerberosSettings struct {
	// Keytab is the path to the broker's service keytab.
	Keytab string `mapstructure:"keytab"`
	// ServicePrincipal selects the keytab entry, e.g. "broker/broker.example.com".
	ServicePrincipal string `mapstructure:"service_principal"`
	// MaxClockSkew tolerated between client and broker.
	MaxClockSkew time.Duration `mapstructure:"max_clock_skew"`
}

func NewKerberos(kt *keytab.Keytab, servicePrincipal string, maxClockSkew time.Duration) *KerberosAuthenticator {
	var opts []func(*service.Settings)
	if servicePrincipal != "" {
		opts = append(opts, service.KeytabPrincipal(servicePrincipal))
	}
	if maxClockSkew > 0 {
		opts = append(opts, service.MaxClockSkew(maxClockSkew))
	}
	return &KerberosAuthenticator{
		settings: service.NewSettings(kt, opts...),
	}
}

func NewKerberosFromConfig(_ context.Context, cfg config.BackendConfig) (core.Authenticator, error) {
	var s kerberosSettings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	if s.Keytab == "" {
		return nil, fmt.Errorf("kerberos authentication missing 'keytab'")
	}
	kt, err := keytab.Load(s.Keytab)
	if err != nil {
		return nil, fmt.Errorf("loading keytab '%s': %w", s.Keytab, err)
	}
	return NewKerberos(kt, s.ServicePrincipal, s.MaxClockSkew), nil
}

func (k *KerberosAuthenticator) Name() string {
	return KerberosType
}

func (k *KerberosAuthenticator) Scheme() string {
	return SchemeNegotiate
}

func (k *KerberosAuthenticator) AuthenticateUser(_ context.Context, rawCredential []byte) (core.Principal, error) {
	if len(rawCredential) == 0 {
		return "", core.Unauthenticated(nil, "Missing Kerberos credential")
	}

	var token spnego.SPNEGOToken
	if err := token.Unmarshal(rawCredential); err != nil {
		return "", core.Unauthenticated(err, "Malformed SPNEGO token")
	}
	if !token.Init {
		return "", core.Unauthenticated(nil, "SPNEGO token is not an initial negotiation token")
	}

	var mech spnego.KRB5Token
	if err := mech.Unmarshal(token.NegTokenInit.MechTokenBytes); err != nil {
		return "", core.Unauthenticated(err, "Malformed Kerberos mechanism token")
	}
	if !mech.IsAPReq() {
		return "", core.Unauthenticated(nil, "Kerberos mechanism token is not an AP-REQ")
	}

	ok, creds, err := service.VerifyAPREQ(&mech.APReq, k.settings)
	if err != nil || !ok {
		return "", core.Unauthenticated(err, "Kerberos ticket verification failed")
	}

	return core.Principal(creds.CName().PrincipalNameString() + "@" + creds.Domain()), nil
}
