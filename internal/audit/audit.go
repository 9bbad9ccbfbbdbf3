package audit

import (
	"fmt"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const (
	FileType   = "file"
	MemoryType = "memory"
)

// FromConfig creates the auditor selected by the configuration.
// Disabled auditing yields a NoopAuditor.
func FromConfig(cfg config.AuditConfig) (core.Auditor, error) {
	if !cfg.Enabled {
		return NewNoopAuditor(), nil
	}
	switch cfg.Type {
	case FileType:
		return NewFileAuditor(cfg.Path)
	case MemoryType:
		return NewInMemoryAuditor(cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unknown audit type %q", cfg.Type)
	}
}
