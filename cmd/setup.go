package cmd

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/teemow/inboxevents/internal/config"
	"github.com/teemow/inboxevents/internal/instrumentation"
	"github.com/teemow/inboxevents/internal/secrets"
	"github.com/teemow/inboxevents/internal/store"
)

// needsAWS reports whether any configured component talks to AWS.
func needsAWS(cfg *config.Config) bool {
	return cfg.Store.Backend == config.BackendDynamoDB || cfg.UsesSecretStore()
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// newSecretCache returns a credential cache backed by Secrets Manager when a
// secret id is configured, else one that only reads inline values and files.
func newSecretCache(awsCfg aws.Config, cfg *config.Config) *secrets.Cache {
	if !cfg.UsesSecretStore() {
		return secrets.NewCache(nil)
	}
	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.AWS.SecretsEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.SecretsEndpoint)
		}
	})
	return secrets.NewCache(client)
}

func openStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config, metrics *instrumentation.Metrics) (store.Store, error) {
	s, err := store.Open(ctx, store.Options{
		Backend:          cfg.Store.Backend,
		Table:            cfg.Store.Table,
		AWS:              awsCfg,
		DynamoDBEndpoint: cfg.AWS.DynamoDBEndpoint,
		PostgresDSN:      cfg.Store.PostgresDSN,
		SQLitePath:       cfg.Store.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	return store.Instrument(s, metrics), nil
}
