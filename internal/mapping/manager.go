package mapping

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

// Manager holds the current Engine and replaces it when the mapping configuration changes.
type Manager struct {
	current atomic.Pointer[Engine]
	mu      sync.Mutex
}

func NewManager(cfg config.MappingConfig) (*Manager, error) {
	eng, err := New(cfg)
	if err != nil {
		return nil, err
	}
	m := &Manager{}
	m.current.Store(eng)
	return m, nil
}

func (m *Manager) Engine() *Engine {
	return m.current.Load()
}

// MapUser maps principal with the current engine.
func (m *Manager) MapUser(ctx context.Context, principal core.Principal) (string, error) {
	return m.Engine().MapUser(ctx, principal)
}

// Update compiles the new rules and swaps them in. The current engine stays active
// if the rules are invalid.
func (m *Manager) Update(cfg config.MappingConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidate, err := New(cfg)
	if err != nil {
		return err
	}
	m.current.Store(candidate)
	return nil
}
