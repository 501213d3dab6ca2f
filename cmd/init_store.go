package cmd

import (
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"

	"github.com/teemow/inboxevents/internal/config"
	"github.com/teemow/inboxevents/internal/instrumentation"
)

func newInitStoreCmd() *cobra.Command {
	var table, backend string

	cmd := &cobra.Command{
		Use:   "init-store",
		Short: "Create the events table and its indexes",
		Long: `Create the events table with the category, source_name and start_time
indexes. An existing table is left unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("table") {
				cfg.Store.Table = table
			}
			if cmd.Flags().Changed("backend") {
				cfg.Store.Backend = backend
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			var awsCfg aws.Config
			if cfg.Store.Backend == config.BackendDynamoDB {
				if awsCfg, err = loadAWSConfig(ctx, cfg); err != nil {
					return err
				}
			}

			events, err := openStore(ctx, cfg, awsCfg, &instrumentation.Metrics{})
			if err != nil {
				return err
			}
			defer events.Close()

			if err := events.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("failed to create table %s: %w", cfg.Store.Table, err)
			}
			logger.Info("events table ready",
				slog.String("backend", events.Backend()),
				slog.String("table", cfg.Store.Table))
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "Events table name (default: $EVENTS_TABLE)")
	cmd.Flags().StringVar(&backend, "backend", "", "Store backend: dynamodb, postgres or sqlite")
	return cmd
}
