package providers

import (
	"github.com/darmiel/trustbroker/internal/backends"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/providers/localjwt"
	"github.com/darmiel/trustbroker/internal/providers/serviceaccount"
	"github.com/darmiel/trustbroker/internal/providers/stub"
)

// Factories lists the token providers selectable in the configuration.
var Factories = map[string]backends.Factory[core.TokenProvider]{
	serviceaccount.Type: serviceaccount.NewFromConfig,
	localjwt.Type:       localjwt.NewFromConfig,
	stub.Type:           stub.NewFromConfig,
}
