package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// CatalogAPI is the subset of the DynamoDB client the catalog uses.
type CatalogAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CatalogRepository records which pool map versions were published and where.
type CatalogRepository struct {
	client    CatalogAPI
	tableName string
}

// NewCatalogRepository initializes a new CatalogRepository.
func NewCatalogRepository(client CatalogAPI, tableName string) CatalogRepository {
	return CatalogRepository{
		client:    client,
		tableName: tableName,
	}
}

// RecordSnapshot stores a catalog entry. A version is recorded once; a second
// record for the same pool and version fails with ErrStaleTopology.
func (repo *CatalogRepository) RecordSnapshot(ctx context.Context, record domain.SnapshotRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot record: %w", err)
	}

	_, err = repo.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(repo.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#version)"),
		ExpressionAttributeNames: map[string]string{
			"#version": "version",
		},
	})
	var exists *types.ConditionalCheckFailedException
	if errors.As(err, &exists) {
		return fmt.Errorf("%w: pool %s version %d is already recorded", zerrors.ErrStaleTopology, record.Pool, record.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the catalog entry of one version.
func (repo *CatalogRepository) GetSnapshot(ctx context.Context, pool string, version uint32) (domain.SnapshotRecord, error) {
	result, err := repo.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(repo.tableName),
		Key: map[string]types.AttributeValue{
			"pool":    &types.AttributeValueMemberS{Value: pool},
			"version": &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(version), 10)},
		},
	})
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("failed to get snapshot record: %w", err)
	}
	if result.Item == nil {
		return domain.SnapshotRecord{}, fmt.Errorf("%w: pool %s version %d", zerrors.ErrSnapshotNotFound, pool, version)
	}

	var record domain.SnapshotRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("failed to unmarshal snapshot record: %w", err)
	}
	return record, nil
}

// LatestSnapshot retrieves the entry with the highest version of a pool.
func (repo *CatalogRepository) LatestSnapshot(ctx context.Context, pool string) (domain.SnapshotRecord, error) {
	result, err := repo.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(repo.tableName),
		KeyConditionExpression: aws.String("#pool = :pool"),
		ExpressionAttributeNames: map[string]string{
			"#pool": "pool",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pool": &types.AttributeValueMemberS{Value: pool},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	if len(result.Items) == 0 {
		return domain.SnapshotRecord{}, fmt.Errorf("%w: pool %s has no snapshots", zerrors.ErrSnapshotNotFound, pool)
	}

	var record domain.SnapshotRecord
	if err := attributevalue.UnmarshalMap(result.Items[0], &record); err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("failed to unmarshal snapshot record: %w", err)
	}
	return record, nil
}

// ListSnapshots retrieves every entry of a pool in version order.
func (repo *CatalogRepository) ListSnapshots(ctx context.Context, pool string) ([]domain.SnapshotRecord, error) {
	paginator := dynamodb.NewQueryPaginator(repo.client, &dynamodb.QueryInput{
		TableName:              aws.String(repo.tableName),
		KeyConditionExpression: aws.String("#pool = :pool"),
		ExpressionAttributeNames: map[string]string{
			"#pool": "pool",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pool": &types.AttributeValueMemberS{Value: pool},
		},
	})

	var records []domain.SnapshotRecord
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query snapshots: %w", err)
		}
		for _, item := range page.Items {
			var record domain.SnapshotRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				return nil, fmt.Errorf("failed to unmarshal snapshot record: %w", err)
			}
			records = append(records, record)
		}
	}
	return records, nil
}
