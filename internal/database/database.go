package database

import (
	"github.com/darmiel/trustbroker/internal/backends"
	"github.com/darmiel/trustbroker/internal/core"
)

// Factories lists the database backends selectable in the configuration.
var Factories = map[string]backends.Factory[core.SessionStore]{
	MemoryType:  NewMemoryFromConfig,
	SQLType:     NewSQLFromConfig,
	LevelDBType: NewLevelDBFromConfig,
}
