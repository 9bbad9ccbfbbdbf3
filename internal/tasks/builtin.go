package tasks

import (
	"context"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/logging"
)

const (
	SessionSweepTask = "session-sweep"
	ConfigReloadTask = "config-reload"
)

// Sweeper removes expired sessions and reports how many were removed.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// SessionSweep returns a task that deletes expired session records.
func SessionSweep(sweeper Sweeper) TaskFunc {
	return func(ctx context.Context, logger logging.InternalLogger) error {
		n, err := sweeper.SweepExpired(ctx)
		if err != nil {
			return err
		}
		logger.Info("removed %d expired session(s)", n)
		return nil
	}
}

// ConfigReload returns a task that re-reads the configuration file and hands the new
// configuration to every hook. An invalid file keeps the live configuration.
func ConfigReload(store *config.Store, hooks ...func(*config.Config) error) TaskFunc {
	return func(_ context.Context, logger logging.InternalLogger) error {
		cfg, err := store.Reload()
		if err != nil {
			return err
		}
		logger.Info("configuration reloaded: %d mapping rule(s), %d proxy rule(s)",
			len(cfg.Mapping.Rules), len(cfg.ProxyUsers))

		for _, hook := range hooks {
			if err := hook(cfg); err != nil {
				logger.Warn("applying reloaded configuration: %v", err)
			}
		}
		return nil
	}
}
