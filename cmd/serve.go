package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/darmiel/trustbroker/internal/api"
	"github.com/darmiel/trustbroker/internal/audit"
	"github.com/darmiel/trustbroker/internal/authn"
	"github.com/darmiel/trustbroker/internal/backends"
	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/database"
	"github.com/darmiel/trustbroker/internal/encryption"
	"github.com/darmiel/trustbroker/internal/groups"
	"github.com/darmiel/trustbroker/internal/mapping"
	"github.com/darmiel/trustbroker/internal/metrics"
	"github.com/darmiel/trustbroker/internal/providers"
	"github.com/darmiel/trustbroker/internal/proxy"
	"github.com/darmiel/trustbroker/internal/service"
	"github.com/darmiel/trustbroker/internal/session"
	"github.com/darmiel/trustbroker/internal/tasks"
	"github.com/darmiel/trustbroker/internal/tokencache"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trust broker server",
	Long: `Starts the HTTP API. Backends are built from the configuration file on first use
and rebuilt when a reload changes their type. Mapping rules, proxy users and session
settings follow config reloads without a restart.`,
	Example: `  trustbroker serve --config broker.yaml --addr :8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		cfg, err := f.LoadServerConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		store := config.NewStore(cfg, f.ConfigPath)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().Msg("Initializing backends...")
		registry := backends.NewRegistry(store, backends.Factories{
			Authentication: authn.Factories,
			Database:       database.Factories,
			Encryption:     encryption.Factories,
			TokenProvider:  providers.Factories,
		})
		defer registry.Close()
		if err := registry.Warmup(ctx); err != nil {
			return fmt.Errorf("initializing backends: %w", err)
		}

		promRegistry, m := metrics.NewRegistry()

		mappings, err := mapping.NewManager(cfg.Mapping)
		if err != nil {
			return fmt.Errorf("compiling mapping rules: %w", err)
		}

		cache, err := tokencache.New(tokencache.Options{
			Size:         cfg.Cache.Size,
			SafetyMargin: cfg.Cache.SafetyMargin,
			MintTimeout:  cfg.Cache.MintTimeout,
			Metrics:      m,
		})
		if err != nil {
			return err
		}

		sessions := session.NewManager(session.Options{
			Store:     registry.Database.Get,
			Encrypter: registry.Encryption.Get,
			Settings:  func() config.SessionConfig { return store.Get().Session },
			Timeouts: func() session.Timeouts {
				c := store.Get()
				return session.Timeouts{Store: c.Database.Timeout, Encryption: c.Encryption.Timeout}
			},
			Metrics: m,
		})

		resolver, err := groups.FromConfig(ctx, cfg.Groups)
		if err != nil {
			return fmt.Errorf("creating group resolver: %w", err)
		}

		auditor, err := audit.FromConfig(cfg.Audit)
		if err != nil {
			return fmt.Errorf("creating auditor: %w", err)
		}
		defer func() {
			if err := auditor.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close auditor")
			}
		}()

		broker := service.NewBroker(service.Options{
			Provider:       registry.TokenProvider.Get,
			AccessBoundary: func() config.AccessBoundaryConfig { return store.Get().AccessBoundary },
			Proxy: proxy.NewValidator(func() []core.ProxyRule {
				return store.Get().ProxyUsers
			}, mappings, resolver),
			Mapping:  mappings,
			Cache:    cache,
			Sessions: sessions,
			Auditor:  auditor,
			Metrics:  m,
		})

		taskManager := tasks.NewManager(0)
		taskManager.Register(tasks.SessionSweepTask, cfg.Session.SweepInterval, tasks.SessionSweep(sessions))
		taskManager.Register(tasks.ConfigReloadTask, cfg.ReloadInterval, tasks.ConfigReload(store,
			func(next *config.Config) error {
				return mappings.Update(next.Mapping)
			},
			cache.PurgeOnProviderChange(cfg.Provider.Type),
		))
		taskManager.Start(ctx)

		srv := api.NewServer(api.Options{
			Broker:        broker,
			Authenticator: registry.Authentication.Get,
			Tasks:         taskManager,
			Metrics:       promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
			AdminKey: func() []byte {
				return []byte(store.Get().Admin.SigningKey)
			},
		})

		server := &http.Server{
			Addr:              addr,
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			log.Info().Msgf("Starting server on %s...", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("server crashed: %w", err)
			}
		case <-ctx.Done():
		}
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		stop()
		taskManager.Wait()

		log.Info().Msg("Server exited")
		return nil
	},
}

func addConfigFlag(fs *pflag.FlagSet) {
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "Path to the broker configuration file")
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addConfigFlag(serveCmd.Flags())
	_ = serveCmd.MarkFlagRequired("config")
	serveCmd.Flags().String("addr", ":8080", "address to listen on")
}
