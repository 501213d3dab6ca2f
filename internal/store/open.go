package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Table   string

	// AWS and DynamoDBEndpoint configure the dynamodb backend.
	AWS              aws.Config
	DynamoDBEndpoint string

	PostgresDSN string
	SQLitePath  string
}

// Open creates the configured backend. The schema is not touched.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendDynamoDB:
		return OpenDynamoDB(opts.AWS, opts.Table, opts.DynamoDBEndpoint), nil
	case BackendPostgres:
		return OpenPostgres(ctx, opts.PostgresDSN, opts.Table)
	case BackendSQLite:
		return OpenSQLite(opts.SQLitePath, opts.Table)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
