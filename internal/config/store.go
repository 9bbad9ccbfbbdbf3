package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Store holds the live configuration. Reads are lock-free, reloads are serialized.
type Store struct {
	path    string
	current atomic.Pointer[Config]
	mu      sync.Mutex
}

// NewStore creates a store with an initial configuration.
// path is used by Reload and may be empty for static configurations.
func NewStore(initial *Config, path string) *Store {
	s := &Store{path: path}
	s.current.Store(initial)
	return s
}

func (s *Store) Get() *Config {
	return s.current.Load()
}

// Set replaces the live configuration.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(cfg)
}

// Reload re-reads the configuration file. The live configuration is only
// replaced if the new file is valid.
func (s *Store) Reload() (*Config, error) {
	if s.path == "" {
		return nil, fmt.Errorf("config store has no file to reload from")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	return cfg, nil
}
