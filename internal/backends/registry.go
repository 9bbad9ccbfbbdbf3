package backends

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

// Factory constructs a backend from its configuration block.
type Factory[T any] func(ctx context.Context, cfg config.BackendConfig) (T, error)

// Role names, used in logs and errors.
const (
	RoleAuthentication = "authentication"
	RoleDatabase       = "database"
	RoleEncryption     = "encryption"
	RoleTokenProvider  = "token-provider"
)

// DefaultRetireDelay is how long a replaced backend stays open for calls that
// obtained it before the configuration change.
const DefaultRetireDelay = 30 * time.Second

type instance[T any] struct {
	kind  string
	value T
}

// Slot holds the singleton backend of one role.
// Reads of an up-to-date instance are lock-free. Construction is serialized,
// so concurrent first uses build at most one instance.
type Slot[T any] struct {
	role      string
	factories map[string]Factory[T]
	source    func() config.BackendConfig

	current atomic.Pointer[instance[T]]
	mu      sync.Mutex

	retireDelay time.Duration
	retiring    map[*instance[T]]*time.Timer
}

// NewSlot creates a slot that selects its factory with the Type of the block returned by source.
func NewSlot[T any](role string, factories map[string]Factory[T], source func() config.BackendConfig) *Slot[T] {
	return &Slot[T]{
		role:      role,
		factories: factories,
		source:    source,

		retireDelay: DefaultRetireDelay,
		retiring:    make(map[*instance[T]]*time.Timer),
	}
}

// Get returns the backend for the currently configured type, constructing it if the type
// changed since the last call. Construction failures are internal errors.
func (s *Slot[T]) Get(ctx context.Context) (T, error) {
	cfg := s.source()
	if inst := s.current.Load(); inst != nil && inst.kind == cfg.Type {
		return inst.value, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// re-check, another caller may have built it while we waited
	cfg = s.source()
	if inst := s.current.Load(); inst != nil && inst.kind == cfg.Type {
		return inst.value, nil
	}

	var zero T
	factory, ok := s.factories[cfg.Type]
	if !ok {
		return zero, core.Internal(
			fmt.Errorf("unknown %s backend type %q (supported: %v)", s.role, cfg.Type, s.Supported()),
			"%s backend unavailable", s.role)
	}

	value, err := factory(ctx, cfg)
	if err != nil {
		return zero, core.Internal(
			fmt.Errorf("building %s backend %q: %w", s.role, cfg.Type, err),
			"%s backend unavailable", s.role)
	}

	old := s.current.Swap(&instance[T]{kind: cfg.Type, value: value})
	if old != nil {
		log.Info().
			Str("role", s.role).
			Str("old", old.kind).
			Str("new", cfg.Type).
			Msg("backend replaced after configuration change")
		s.retire(old)
	} else {
		log.Debug().Str("role", s.role).Str("type", cfg.Type).Msg("backend initialized")
	}

	return value, nil
}

// Supported lists the registered backend types in sorted order.
func (s *Slot[T]) Supported() []string {
	names := make([]string, 0, len(s.factories))
	for name := range s.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close closes the current instance if it holds resources.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old := s.current.Swap(nil); old != nil {
		closeBackend(s.role, old.value)
	}
	for old, timer := range s.retiring {
		if timer.Stop() {
			closeBackend(s.role, old.value)
		}
		delete(s.retiring, old)
	}
}

// retire closes a replaced instance once in-flight calls had time to finish.
// Callers hold s.mu.
func (s *Slot[T]) retire(old *instance[T]) {
	s.retiring[old] = time.AfterFunc(s.retireDelay, func() {
		s.mu.Lock()
		_, pending := s.retiring[old]
		delete(s.retiring, old)
		s.mu.Unlock()

		if pending {
			log.Debug().Str("role", s.role).Str("type", old.kind).Msg("closing retired backend")
			closeBackend(s.role, old.value)
		}
	})
}

func closeBackend(role string, v any) {
	c, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("role", role).Msg("failed to close backend")
	}
}

// Factories holds the compile-time factory tables of every role.
type Factories struct {
	Authentication map[string]Factory[core.Authenticator]
	Database       map[string]Factory[core.SessionStore]
	Encryption     map[string]Factory[core.Encrypter]
	TokenProvider  map[string]Factory[core.TokenProvider]
}

// Registry resolves the configured backend of every role.
// It is built once at startup and passed to the components that need backends.
type Registry struct {
	Authentication *Slot[core.Authenticator]
	Database       *Slot[core.SessionStore]
	Encryption     *Slot[core.Encrypter]
	TokenProvider  *Slot[core.TokenProvider]
}

// NewRegistry creates a registry reading backend selections from the live configuration.
func NewRegistry(store *config.Store, factories Factories) *Registry {
	return &Registry{
		Authentication: NewSlot(RoleAuthentication, factories.Authentication, func() config.BackendConfig {
			return store.Get().Authentication
		}),
		Database: NewSlot(RoleDatabase, factories.Database, func() config.BackendConfig {
			return store.Get().Database
		}),
		Encryption: NewSlot(RoleEncryption, factories.Encryption, func() config.BackendConfig {
			return store.Get().Encryption
		}),
		TokenProvider: NewSlot(RoleTokenProvider, factories.TokenProvider, func() config.BackendConfig {
			return store.Get().Provider
		}),
	}
}

// Warmup constructs every backend so configuration errors surface at startup.
func (r *Registry) Warmup(ctx context.Context) error {
	if _, err := r.Authentication.Get(ctx); err != nil {
		return err
	}
	if _, err := r.Database.Get(ctx); err != nil {
		return err
	}
	if _, err := r.Encryption.Get(ctx); err != nil {
		return err
	}
	if _, err := r.TokenProvider.Get(ctx); err != nil {
		return err
	}
	return nil
}

// Close releases all backends.
func (r *Registry) Close() {
	r.Authentication.Close()
	r.Database.Close()
	r.Encryption.Close()
	r.TokenProvider.Close()
}
