package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/repository/migrate"
)

type DynamoDb struct {
	Client *dynamodb.Client
}

func NewDatabase(awsConfig aws.Config) (*DynamoDb, error) {
	client := dynamodb.NewFromConfig(awsConfig)
	if client == nil {
		return nil, fmt.Errorf("failed to create DynamoDB client")
	}
	return &DynamoDb{Client: client}, nil
}

// MigrateDb applies every migration. Tables that already exist are left alone.
func (d *DynamoDb) MigrateDb(ctx context.Context, catalogTable string) error {
	for _, m := range migrate.Migrations(catalogTable) {
		err := m.Up(ctx, d.Client)
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			log.Infof("Table %s already exists, skipping %s", m.TableName(), m.Version())
			continue
		}
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Version(), err)
		}
		log.Infof("Applied migration %s", m.Version())
	}
	return nil
}

// MigrateDown drops the tables of every migration, newest first.
func (d *DynamoDb) MigrateDown(ctx context.Context, catalogTable string) error {
	ms := migrate.Migrations(catalogTable)
	for i := len(ms) - 1; i >= 0; i-- {
		err := ms[i].Down(ctx, d.Client)
		var missing *types.ResourceNotFoundException
		if errors.As(err, &missing) {
			continue
		}
		if err != nil {
			return fmt.Errorf("rollback of %s failed: %w", ms[i].Version(), err)
		}
		log.Infof("Rolled back migration %s", ms[i].Version())
	}
	return nil
}
