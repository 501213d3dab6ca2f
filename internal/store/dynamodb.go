package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/teemow/inboxevents/internal/event"
)

// BackendDynamoDB is the name of the DynamoDB backend.
const BackendDynamoDB = "dynamodb"

// tableActiveTimeout bounds the wait for a new table to become active.
const tableActiveTimeout = 5 * time.Minute

// DynamoDBAPI is the subset of the DynamoDB client used here.
type DynamoDBAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDB stores records in a DynamoDB table keyed by id.
type DynamoDB struct {
	api   DynamoDBAPI
	table string
}

// NewDynamoDB creates a store on an existing client.
func NewDynamoDB(api DynamoDBAPI, table string) *DynamoDB {
	return &DynamoDB{api: api, table: table}
}

// OpenDynamoDB creates a client from cfg. endpoint overrides the service
// endpoint, e.g. for DynamoDB Local.
func OpenDynamoDB(cfg aws.Config, table, endpoint string) *DynamoDB {
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewDynamoDB(client, table)
}

// Backend implements Store.
func (d *DynamoDB) Backend() string { return BackendDynamoDB }

// Close implements Store. The client holds no resources.
func (d *DynamoDB) Close() error { return nil }

// QueryByStartTime implements Store.
func (d *DynamoDB) QueryByStartTime(ctx context.Context, startTime string) ([]event.Record, error) {
	p := dynamodb.NewQueryPaginator(d.api, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		IndexName:              aws.String(IndexStartTime),
		KeyConditionExpression: aws.String("start_time = :s"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: startTime},
		},
	})

	var recs []event.Record
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, wrap(BackendDynamoDB, "query", err)
		}
		page, err := unmarshalRecords(out.Items)
		if err != nil {
			return nil, wrap(BackendDynamoDB, "query", err)
		}
		recs = append(recs, page...)
	}
	return recs, nil
}

// ScanByEmailID implements Store. The scan follows LastEvaluatedKey until the
// table is exhausted.
func (d *DynamoDB) ScanByEmailID(ctx context.Context, emailID string) ([]event.Record, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.table),
		FilterExpression: aws.String("email_id = :e"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e": &types.AttributeValueMemberS{Value: emailID},
		},
	}

	var recs []event.Record
	for {
		out, err := d.api.Scan(ctx, input)
		if err != nil {
			return nil, wrap(BackendDynamoDB, "scan", err)
		}
		page, err := unmarshalRecords(out.Items)
		if err != nil {
			return nil, wrap(BackendDynamoDB, "scan", err)
		}
		recs = append(recs, page...)

		if len(out.LastEvaluatedKey) == 0 {
			return recs, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Put implements Store.
func (d *DynamoDB) Put(ctx context.Context, rec event.Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return wrap(BackendDynamoDB, "put", fmt.Errorf("marshal record: %w", err))
	}
	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	return wrap(BackendDynamoDB, "put", err)
}

// EnsureSchema implements Store. An existing table is left as it is.
func (d *DynamoDB) EnsureSchema(ctx context.Context) error {
	_, err := d.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return wrap(BackendDynamoDB, "describe_table", err)
	}

	if _, err := d.api.CreateTable(ctx, tableDefinition(d.table)); err != nil {
		return wrap(BackendDynamoDB, "create_table", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(d.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table)}, tableActiveTimeout); err != nil {
		return wrap(BackendDynamoDB, "create_table", err)
	}
	return nil
}

func tableDefinition(table string) *dynamodb.CreateTableInput {
	gsi := func(name, attr string) types.GlobalSecondaryIndex {
		return types.GlobalSecondaryIndex{
			IndexName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attr), KeyType: types.KeyTypeHash},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}
	}
	attr := func(name string) types.AttributeDefinition {
		return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeS}
	}

	return &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			attr("id"), attr("category"), attr("source_name"), attr("start_time"),
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			gsi(IndexCategory, "category"),
			gsi(IndexSourceName, "source_name"),
			gsi(IndexStartTime, "start_time"),
		},
	}
}

func unmarshalRecords(items []map[string]types.AttributeValue) ([]event.Record, error) {
	recs := make([]event.Record, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &recs); err != nil {
		return nil, fmt.Errorf("unmarshal records: %w", err)
	}
	for i := range recs {
		if recs[i].Tags == nil {
			recs[i].Tags = []string{}
		}
	}
	return recs, nil
}
