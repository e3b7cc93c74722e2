package main

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/BadgerOps/mediagrab/internal/config"
	"github.com/BadgerOps/mediagrab/internal/download"
	"github.com/BadgerOps/mediagrab/internal/logging"
	"github.com/BadgerOps/mediagrab/internal/safety"
	"github.com/BadgerOps/mediagrab/internal/source"
	"github.com/BadgerOps/mediagrab/internal/source/booru"
	"github.com/BadgerOps/mediagrab/internal/source/nekobot"
	"github.com/BadgerOps/mediagrab/internal/stats"
)

var (
	// Global flags
	cfgPath     string
	envFile     string
	downloadDir string
	logLevel    string
	logFormat   string
	logFile     string
	quiet       bool
	globalCfg   *config.Config
	logger      *slog.Logger
	closeLog    func() error

	// Global components
	globalRegistry   *source.Registry
	globalDownloader *download.Downloader
	globalBackend    stats.Backend
	globalRecorder   *stats.Recorder
)

// initializeComponents wires sources, the downloader and the stats recorder from globalCfg
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	fs := afero.NewOsFs()

	// Search and autocomplete share one client and one rate limit
	searchClient := safety.NewHTTPClient(globalCfg.Search.Timeout)
	var limiter *rate.Limiter
	if globalCfg.Search.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(globalCfg.Search.RatePerSecond), max(globalCfg.Search.Burst, 1))
	}

	globalRegistry = source.NewRegistry()
	if globalCfg.Sources.Booru.Enabled {
		globalRegistry.Register(booru.New(globalCfg.Sources.Booru, searchClient, limiter, logger))
	}
	if globalCfg.Sources.Nekobot.Enabled {
		globalRegistry.Register(nekobot.New(globalCfg.Sources.Nekobot, searchClient, limiter, logger))
	}

	client := download.NewClient(fs, logger)
	client.SetUserAgent(globalCfg.Download.UserAgent)

	var prober download.Prober
	if path, err := exec.LookPath(globalCfg.Download.FFprobe); err == nil {
		prober = download.NewFFprobe(path)
	} else {
		logger.Debug("ffprobe not available, audio will be reported as unknown", "command", globalCfg.Download.FFprobe)
	}

	globalDownloader = download.NewDownloader(client, fs, prober, download.Options{
		BaseDir: globalCfg.Download.Dir,
		Retries: globalCfg.Download.RetryCount,
		Timeout: globalCfg.Download.Timeout,
	}, logger)

	switch globalCfg.Stats.Backend {
	case "sqlite":
		backend, err := stats.NewSQLite(globalCfg.Stats.DBPath, logger)
		if err != nil {
			return fmt.Errorf("failed to open stats database: %w", err)
		}
		globalBackend = backend
	default:
		globalBackend = stats.NewJSONFile(fs, globalCfg.Stats.Path)
	}
	globalRecorder = stats.NewRecorder(globalBackend, logger)

	logger.Debug("components initialized", "sources", globalRegistry.Names(), "stats_backend", globalCfg.Stats.Backend)
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":       true,
		"version":    true,
		"config":     true,
		"show":       true,
		"init":       true,
		"categories": true,
	}
	return skipInitCmds[cmdName]
}

// closeComponents releases the stats backend and the log file
func closeComponents() {
	if globalBackend != nil {
		if err := globalBackend.Close(); err != nil {
			logger.Error("failed to close stats backend", "error", err)
		}
		globalBackend = nil
	}
	if closeLog != nil {
		_ = closeLog()
		closeLog = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mediagrab",
		Short: "Batch download images and videos from booru-style media APIs",
		Long: `mediagrab searches a media source for a category or a free-form tag set
and downloads a batch of matching images or videos into a per-category folder,
skipping posts it has already fetched in the same batch. Every completed
download is added to a persistent statistics ledger.`,
		Example: `  mediagrab categories
  mediagrab fetch --category anime --count 5
  mediagrab fetch --tags "landscape,sunset" --type image --count 3
  mediagrab fetch --category video --type video --source booru
  mediagrab suggest cat
  mediagrab stats`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(cmd); err != nil {
				return err
			}

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if err := globalCfg.ApplyEnv(envFile); err != nil {
				return err
			}

			// Override with command-line flags if provided
			if downloadDir != "" {
				globalCfg.Download.Dir = downloadDir
			}

			if err := globalCfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger.Debug("config loaded", "path", cfgPath, "download_dir", globalCfg.Download.Dir)

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeComponents()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with source credentials, loaded if present")
	cmd.PersistentFlags().StringVar(&downloadDir, "download-dir", "", "override download directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json or console)")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append debug-level JSON logs to this file")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	// Add subcommands
	cmd.AddCommand(
		newFetchCmd(),
		newStatsCmd(),
		newCategoriesCmd(),
		newSuggestCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging(cmd *cobra.Command) error {
	l, closeFn, err := logging.New(logging.Options{
		Level:  logLevel,
		Format: logFormat,
		File:   logFile,
		Quiet:  quiet,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	logger = l
	closeLog = closeFn
	slog.SetDefault(logger)
	return nil
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

// output returns where user-facing text goes; --quiet discards it.
func output(cmd *cobra.Command) io.Writer {
	if quiet {
		return io.Discard
	}
	return cmd.OutOrStdout()
}
