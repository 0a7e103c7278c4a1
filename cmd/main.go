package main

import (
	"fmt"
	"os"

	"github.com/BetterCallFirewall/Intruder/internal/config"
	"github.com/BetterCallFirewall/Intruder/internal/driven"
	"github.com/BetterCallFirewall/Intruder/internal/httpexec"
	"github.com/BetterCallFirewall/Intruder/internal/limits"
	"github.com/BetterCallFirewall/Intruder/internal/logger"
	"github.com/BetterCallFirewall/Intruder/internal/payloads"
	"github.com/BetterCallFirewall/Intruder/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	dbPath   string
)

func main() {
	root := &cobra.Command{
		Use:           "intruder",
		Short:         "Templated HTTP attack campaigns",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides INTRUDER_LOG_LEVEL)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database file (overrides INTRUDER_DB)")

	root.AddCommand(newServeCommand(), newRunCommand(), newCatalogCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration and applies the global flags
func bootstrap() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, logger.New(logger.ParseLevel(cfg.Log.Level)), nil
}

func openStore(cfg *config.Config, log *logrus.Logger) (storage.Store, error) {
	if cfg.Database.Path == "" {
		log.Debug("Keeping campaigns in memory")
		return storage.NewMemoryStorage(), nil
	}
	store, err := storage.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.WithField("path", cfg.Database.Path).Info("Using sqlite storage")
	return store, nil
}

// newLimiter applies the INTRUDER_MAX_* overrides to the default campaign limits
func newLimiter(cfg *config.Config) (*limits.CampaignLimiter, error) {
	l := *limits.DefaultCampaignLimits()
	if cfg.Limits.MaxConcurrency > 0 {
		l.MaxConcurrency = cfg.Limits.MaxConcurrency
	}
	if cfg.Limits.MaxPayloadsPerSet > 0 {
		l.MaxPayloadsPerSet = cfg.Limits.MaxPayloadsPerSet
	}
	if cfg.Limits.MaxTotalRequests > 0 {
		l.MaxTotalRequests = cfg.Limits.MaxTotalRequests
	}
	if cfg.Limits.MaxResponseBytes > 0 {
		l.MaxResponseBytes = cfg.Limits.MaxResponseBytes
	}

	limiter := limits.NewCampaignLimiter(nil)
	if err := limiter.UpdateLimits(&l); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}
	if err := limiter.ValidateLimits(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}
	return limiter, nil
}

// newProvider loads the catalog and decides which wordlist files campaigns may read.
// INTRUDER_WORDLIST_DIR confines files everywhere; without it only local runs may read files.
func newProvider(cfg *config.Config, limiter *limits.CampaignLimiter, localFiles bool) (*payloads.Provider, error) {
	catalog, err := payloads.DefaultCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load payload catalog: %w", err)
	}

	provider := payloads.NewProvider(catalog, limiter)
	switch {
	case cfg.Engine.WordlistDir != "":
		err = provider.AllowFiles(cfg.Engine.WordlistDir)
	case localFiles:
		err = provider.AllowFiles("")
	}
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// newManager wires the limits, executor, payload provider and storage into a manager
func newManager(cfg *config.Config, log *logrus.Logger, store storage.Store, localFiles bool) (*driven.CampaignManager, error) {
	limiter, err := newLimiter(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(cfg, limiter, localFiles)
	if err != nil {
		return nil, err
	}

	opts := httpexec.DefaultOptions()
	opts.Timeout = cfg.Engine.RequestTimeout
	opts.InsecureTLS = cfg.Engine.InsecureTLS
	opts.ProxyURL = cfg.Engine.ProxyURL
	opts.MaxResponseBytes = limiter.GetLimits().MaxResponseBytes

	client, err := httpexec.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	managerOpts := driven.DefaultCampaignManagerOptions()
	managerOpts.Executor = client
	managerOpts.Store = store
	managerOpts.Limits = limiter
	managerOpts.Provider = provider
	managerOpts.Logger = log
	managerOpts.DefaultConcurrency = cfg.Engine.DefaultConcurrency
	managerOpts.DefaultDelayMs = cfg.Engine.DefaultDelayMs
	return driven.NewCampaignManager(managerOpts)
}
