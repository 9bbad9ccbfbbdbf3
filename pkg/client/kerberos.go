package client

import (
	"fmt"
	"os"

	krbclient "github.com/jcmturner/gokrb5/v8/client"
	krbconfig "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
)

const (
	DefaultKrb5Conf = "/etc/krb5.conf"
	ccachePrefix    = "FILE:"
)

// DefaultCCachePath returns the credential cache named by KRB5CCNAME or the default
// /tmp/krb5cc_<uid>.
func DefaultCCachePath() string {
	if name := os.Getenv("KRB5CCNAME"); name != "" {
		if len(name) > len(ccachePrefix) && name[:len(ccachePrefix)] == ccachePrefix {
			return name[len(ccachePrefix):]
		}
		return name
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// KerberosFromCCache logs in with the tickets of an existing credential cache (kinit).
func KerberosFromCCache(ccachePath, krb5ConfPath string) (*krbclient.Client, error) {
	cfg, err := krbconfig.Load(krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("loading krb5 config '%s': %w", krb5ConfPath, err)
	}
	ccache, err := credentials.LoadCCache(ccachePath)
	if err != nil {
		return nil, fmt.Errorf("loading credential cache '%s': %w", ccachePath, err)
	}
	cl, err := krbclient.NewFromCCache(ccache, cfg, krbclient.DisablePAFXFAST(true))
	if err != nil {
		return nil, fmt.Errorf("creating kerberos client: %w", err)
	}
	return cl, nil
}

// KerberosFromKeytab logs in as principal "user@REALM" with a keytab, as services do.
func KerberosFromKeytab(username, realm, keytabPath, krb5ConfPath string) (*krbclient.Client, error) {
	cfg, err := krbconfig.Load(krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("loading krb5 config '%s': %w", krb5ConfPath, err)
	}
	kt, err := keytab.Load(keytabPath)
	if err != nil {
		return nil, fmt.Errorf("loading keytab '%s': %w", keytabPath, err)
	}
	cl := krbclient.NewWithKeytab(username, realm, kt, cfg, krbclient.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		return nil, fmt.Errorf("kerberos login: %w", err)
	}
	return cl, nil
}
