package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/sentinel/internal/config"
	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/registry"
	"github.com/harrison/sentinel/internal/reporter"
	"github.com/harrison/sentinel/internal/spool"
	"github.com/harrison/sentinel/internal/storeclient"
)

func addGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default: .sentinel/config.yaml)")
	flags.String("store-url", "", "Base URL of the analytics store (overrides config)")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	flags.String("log-dir", "", "Directory for run logs (overrides config)")
	flags.Bool("no-file-log", false, "Log to the console only")
	flags.Bool("no-spool", false, "Do not spool undelivered records")
}

// loadConfig reads the config file, applies flag overrides and validates
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var storeURL, logLevel, logDir, metricsAddr *string
	if cmd.Flags().Changed("store-url") {
		v, _ := cmd.Flags().GetString("store-url")
		storeURL = &v
	}
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		logLevel = &v
	}
	if cmd.Flags().Changed("log-dir") {
		v, _ := cmd.Flags().GetString("log-dir")
		logDir = &v
	}
	if f := cmd.Flags().Lookup("metrics-addr"); f != nil && f.Changed {
		v := f.Value.String()
		metricsAddr = &v
	}
	cfg.MergeWithFlags(storeURL, logLevel, logDir, metricsAddr)

	if noSpool, _ := cmd.Flags().GetBool("no-spool"); noSpool {
		cfg.Spool.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// environment is what every command needs: configuration, a logger and the
// store-backed reporter
type environment struct {
	cfg      *config.Config
	log      logger.Logger
	store    *storeclient.Client
	outbox   *spool.Store
	reporter *reporter.RetryingReporter
	closers  []func() error
}

// newEnvironment wires the ambient stack. wrap, when set, decorates the
// console and file loggers (the monitor's log tee).
func newEnvironment(cmd *cobra.Command, wrap func(*config.Config, logger.Logger) logger.Logger) (*environment, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	env := &environment{cfg: cfg}

	console := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.Log.Level)
	var log logger.Logger = console
	if noFile, _ := cmd.Flags().GetBool("no-file-log"); !noFile && cfg.Log.Dir != "" {
		fileLog, err := logger.NewFileLogger(cfg.Log.Dir, cfg.Log.Level, logger.RotationOptions{
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create file logger: %w", err)
		}
		env.closers = append(env.closers, fileLog.Close)
		log = logger.NewMultiLogger(console, fileLog)
	}
	if wrap != nil {
		log = wrap(cfg, log)
	}
	env.log = log

	env.store = storeclient.New(cfg.Store.URL, cfg.Store.Timeout)

	if cfg.Spool.Enabled {
		if cfg.Spool.Path == "" {
			p, err := config.GetSpoolPath()
			if err != nil {
				env.Close()
				return nil, fmt.Errorf("resolve spool path: %w", err)
			}
			cfg.Spool.Path = p
		}
		outbox, err := spool.Open(cfg.Spool.Path)
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("open spool: %w", err)
		}
		env.outbox = outbox
		env.closers = append(env.closers, outbox.Close)
	}

	opts := reporter.Options{
		MaxRetries:  cfg.Store.MaxRetries,
		Backoff:     cfg.Store.Backoff,
		MaxBackoff:  cfg.Store.MaxBackoff,
		DrainRate:   cfg.Spool.DrainRate,
		DrainBurst:  cfg.Spool.DrainBurst,
		MaxAttempts: cfg.Spool.MaxAttempts,
	}
	if env.outbox != nil {
		env.reporter = reporter.New(env.store, env.outbox, opts, log)
	} else {
		env.reporter = reporter.New(env.store, nil, opts, log)
	}
	return env, nil
}

// Close releases the spool and file logger
func (e *environment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// loadAgents discovers agent declarations and registers them
func loadAgents(dir string, log logger.Logger) (*registry.Registry, []registry.Declaration, error) {
	reg := registry.New()
	if dir == "" {
		return reg, nil, nil
	}
	decls, problems, err := registry.Discover(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("discover agents in %s: %w", dir, err)
	}
	for _, p := range problems {
		log.LogWarn(fmt.Sprintf("skipping agent declaration: %v", p))
	}
	registry.LoadInto(reg, decls)
	log.LogDebug(fmt.Sprintf("loaded %d agent declaration(s) from %s", len(decls), dir))
	return reg, decls, nil
}
