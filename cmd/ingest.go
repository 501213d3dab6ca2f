package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/teemow/inboxevents/internal/config"
	"github.com/teemow/inboxevents/internal/dedup"
	"github.com/teemow/inboxevents/internal/extract"
	"github.com/teemow/inboxevents/internal/gmail"
	"github.com/teemow/inboxevents/internal/instrumentation"
	"github.com/teemow/inboxevents/internal/logging"
	"github.com/teemow/inboxevents/internal/pipeline"
	"github.com/teemow/inboxevents/internal/retry"
	"github.com/teemow/inboxevents/internal/server"
)

// ingestFlags holds the flag overrides of the ingest command.
type ingestFlags struct {
	query         string
	table         string
	backend       string
	dedupFallback string
	metricsAddr   string
	maxMessages   int
	output        string
}

func newIngestCmd() *cobra.Command {
	var f ingestFlags

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Extract events from matching mail and upsert them",
		Long: `List the Gmail messages matching the query, extract one event per message
with the language model, and create or update it in the events table.

A message that fails is counted and skipped. The command only fails when the
configuration is invalid or the mailbox cannot be listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			applyIngestFlags(cmd, cfg, f)

			if f.output != "text" && f.output != "json" {
				return fmt.Errorf("invalid output format %q, must be text or json", f.output)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ValidateCredentials(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sum, err := runIngest(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), f.output, sum)
		},
	}

	cmd.Flags().StringVar(&f.query, "query", "", "Gmail search query (default: $GMAIL_QUERY or label:events)")
	cmd.Flags().StringVar(&f.table, "table", "", "Events table name (default: $EVENTS_TABLE)")
	cmd.Flags().StringVar(&f.backend, "backend", "", "Store backend: dynamodb, postgres or sqlite")
	cmd.Flags().StringVar(&f.dedupFallback, "dedup-fallback", "", "Scan fallback policy: lenient or strict")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().IntVar(&f.maxMessages, "max-messages", 0, "Process at most this many messages (0: all)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "Summary output format: text or json")

	return cmd
}

// applyIngestFlags overrides cfg with the flags that were set explicitly.
func applyIngestFlags(cmd *cobra.Command, cfg *config.Config, f ingestFlags) {
	flags := cmd.Flags()
	if flags.Changed("query") {
		cfg.Gmail.Query = f.query
	}
	if flags.Changed("table") {
		cfg.Store.Table = f.table
	}
	if flags.Changed("backend") {
		cfg.Store.Backend = f.backend
	}
	if flags.Changed("dedup-fallback") {
		cfg.DedupFallback = f.dedupFallback
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if flags.Changed("max-messages") {
		cfg.MaxMessages = f.maxMessages
	}
}

func runIngest(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Summary, error) {
	var sum pipeline.Summary

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return sum, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		// ctx may already be cancelled; flush with a fresh one
		flushCtx := context.WithoutCancel(ctx)
		if err := provider.ForceFlush(flushCtx); err != nil {
			logger.Warn("instrumentation flush failed", logging.Err(err))
		}
		if err := provider.Shutdown(flushCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	if cfg.MetricsAddr != "" && provider.Enabled() {
		metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return sum, fmt.Errorf("failed to create metrics server: %w", err)
		}
		if err := metricsServer.Start(); err != nil {
			return sum, fmt.Errorf("metrics server failed to start: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.DefaultShutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", logging.Err(err))
			}
		}()
	}

	var awsCfg aws.Config
	if needsAWS(cfg) {
		if awsCfg, err = loadAWSConfig(ctx, cfg); err != nil {
			return sum, err
		}
	}

	creds := newSecretCache(awsCfg, cfg)
	ts, err := creds.ResolveTokenSource(ctx, cfg.Gmail.Credentials)
	if err != nil {
		return sum, err
	}
	apiKey, err := creds.ResolveAPIKey(ctx, cfg.LLM.APIKey)
	if err != nil {
		return sum, err
	}
	logger.Debug("credentials resolved", slog.String("api_key", logging.SanitizeSecret(apiKey)))

	mailbox, err := gmail.NewClient(ctx, ts, gmail.Options{
		Retry:          retry.Policy{MaxRetries: cfg.Gmail.MaxRetries},
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		return sum, err
	}

	var cache extract.Cache
	if cfg.Cache.RedisURL != "" {
		redis.SetLogger(logging.NewSlogAdapter(logger))
		rc, rdb, err := extract.DialRedisCache(cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			return sum, err
		}
		defer rdb.Close()
		cache = rc
	}

	extractor := extract.New(extract.Options{
		Model:          cfg.LLM.Model,
		BaseURL:        cfg.LLM.BaseURL,
		Timezone:       cfg.LLM.Timezone,
		RequestTimeout: cfg.RequestTimeout,
		Retry:          retry.Policy{MaxRetries: cfg.LLM.MaxRetries},
		Cache:          cache,
		Metrics:        metrics,
		Logger:         logger,
	})

	events, err := openStore(ctx, cfg, awsCfg, metrics)
	if err != nil {
		return sum, err
	}
	defer events.Close()

	runner := pipeline.NewRunner(pipeline.Options{
		Mailbox:   mailbox,
		Extractor: extractor,
		Upserter: dedup.New(dedup.Options{
			Store:  events,
			Policy: dedup.Policy(cfg.DedupFallback),
			Logger: logger,
		}),
		APIKey:      apiKey,
		MaxMessages: cfg.MaxMessages,
		Metrics:     metrics,
		Audit:       instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging),
		Logger:      logger,
	})

	logger.Info("starting run",
		slog.String("query", cfg.Gmail.Query),
		slog.String("backend", events.Backend()),
		slog.String("table", cfg.Store.Table),
		slog.String("model", extractor.Model()))

	return runner.Run(ctx, pipeline.Request{Query: cfg.Gmail.Query})
}

func writeSummary(w io.Writer, format string, sum pipeline.Summary) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	_, err := fmt.Fprintf(w, "processed=%d created=%d updated=%d deduplicated=%d failed=%d skipped=%d\n",
		sum.Processed, sum.Created, sum.Updated, sum.Deduplicated, sum.Failed, sum.Skipped)
	return err
}
