package migrate

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	PoolMapCatalogTableName = "poolmap_catalog"
	PoolMapCatalogVersion   = "20260301000000_poolmap_catalog_table"
)

type CreatePoolMapCatalogTable struct {
	Table string
}

func (m *CreatePoolMapCatalogTable) Version() string {
	return PoolMapCatalogVersion
}

func (m *CreatePoolMapCatalogTable) TableName() string {
	if m.Table == "" {
		return PoolMapCatalogTableName
	}
	return m.Table
}

func (m *CreatePoolMapCatalogTable) Up(ctx context.Context, client *dynamodb.Client) error {
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("pool"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("version"),
				AttributeType: types.ScalarAttributeTypeN,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("pool"),
				KeyType:       types.KeyTypeHash, // Partition Key
			},
			{
				AttributeName: aws.String("version"),
				KeyType:       types.KeyTypeRange, // Sort Key
			},
		},
		TableName:   aws.String(m.TableName()),
		BillingMode: types.BillingModePayPerRequest,
		Tags: []types.Tag{
			{
				Key:   aws.String("Purpose"),
				Value: aws.String("PoolMapCatalog"),
			},
		},
	}

	_, err := client.CreateTable(ctx, input)
	if err != nil {
		return err
	}

	// Wait for table to become active
	waiter := dynamodb.NewTableExistsWaiter(client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(m.TableName()),
	}, 5*time.Minute)
}

func (m *CreatePoolMapCatalogTable) Down(ctx context.Context, client *dynamodb.Client) error {
	_, err := client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(m.TableName()),
	})
	return err
}
