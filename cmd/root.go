package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxevents/internal/config"
	"github.com/teemow/inboxevents/internal/logging"
)

// rootCmd represents the base command for the inboxevents application
var rootCmd = &cobra.Command{
	Use:   "inboxevents",
	Short: "Extracts events from labeled Gmail messages into an events table",
	Long: `inboxevents reads the messages matching a Gmail query, asks a language
model to extract one event per message, and upserts the normalized events
into a keyed table (DynamoDB, PostgreSQL or SQLite).

Configuration comes from a YAML file (--config or CONFIG_PATH), environment
variables and flags, in increasing order of precedence.`,
	SilenceUsage: true,
}

var (
	configPath string
	debugMode  bool
	logFormat  string
)

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "inboxevents version %s\n" .Version}}`)

	// If no subcommand is provided, run the ingest command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "ingest")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// Exit codes. Configuration problems are told apart so wrappers can skip retrying them.
const (
	exitFailure     = 1
	exitConfigError = 2
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case config.IsConfigError(err):
		return exitConfigError
	default:
		return exitFailure
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default: $CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json or text (default: $LOG_FORMAT or json)")

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newInitStoreCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// loadConfig reads the configuration and sets up the process logger from it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if debugMode {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
