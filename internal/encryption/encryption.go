package encryption

import (
	"github.com/darmiel/trustbroker/internal/backends"
	"github.com/darmiel/trustbroker/internal/core"
)

// Factories lists the encryption backends selectable in the configuration.
var Factories = map[string]backends.Factory[core.Encrypter]{
	LocalType: NewLocalFromConfig,
	AgeType:   NewAgeFromConfig,
	VaultType: NewVaultFromConfig,
	DummyType: NewDummyFromConfig,
}
