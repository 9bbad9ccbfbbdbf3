package audit

import (
	"sync"

	"github.com/darmiel/trustbroker/internal/core"
)

// DefaultMemoryEntries bounds the entries an InMemoryAuditor keeps.
const DefaultMemoryEntries = 10_000

var (
	_ core.Auditor     = (*InMemoryAuditor)(nil)
	_ core.AuditReader = (*InMemoryAuditor)(nil)
)

// InMemoryAuditor is an auditor that stores the most recent audit entries in memory.
type InMemoryAuditor struct {
	mu         sync.Mutex
	entries    []core.AuditEntry
	maxEntries int
}

// NewInMemoryAuditor creates an auditor keeping at most maxEntries entries.
// A non-positive maxEntries uses DefaultMemoryEntries.
func NewInMemoryAuditor(maxEntries int) *InMemoryAuditor {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	return &InMemoryAuditor{
		entries:    make([]core.AuditEntry, 0),
		maxEntries: maxEntries,
	}
}

func (i *InMemoryAuditor) Log(entry core.AuditEntry) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.entries = append(i.entries, entry)
	if over := len(i.entries) - i.maxEntries; over > 0 {
		i.entries = append(i.entries[:0:0], i.entries[over:]...)
	}
	return nil
}

func (i *InMemoryAuditor) GetRecent(limit int) ([]core.AuditEntry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	limit = max(0, min(limit, len(i.entries)))
	start := len(i.entries) - limit
	entries := make([]core.AuditEntry, limit)
	copy(entries, i.entries[start:])

	return entries, nil
}

func (i *InMemoryAuditor) Find(filter func(entry core.AuditEntry) bool, limit int) ([]core.AuditEntry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var matches []core.AuditEntry
	for _, entry := range i.entries {
		if filter(entry) {
			matches = append(matches, entry)
		}
	}

	if len(matches) > limit {
		matches = matches[len(matches)-max(limit, 0):]
	}

	return matches, nil
}

func (i *InMemoryAuditor) Close() error {
	return nil
}
