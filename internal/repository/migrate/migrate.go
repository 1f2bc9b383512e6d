package migrate

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Migration creates or drops one DynamoDB table.
type Migration interface {
	Version() string
	TableName() string
	Up(ctx context.Context, client *dynamodb.Client) error
	Down(ctx context.Context, client *dynamodb.Client) error
}

// Migrations lists every migration in the order it is applied. catalogTable
// names the pool map catalog table; empty selects the default.
func Migrations(catalogTable string) []Migration {
	return []Migration{
		&CreatePoolMapCatalogTable{Table: catalogTable},
	}
}
