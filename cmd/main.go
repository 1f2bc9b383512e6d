package main

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zplace/internal/config"
	"github.com/zzenonn/zplace/internal/logging"
	"github.com/zzenonn/zplace/internal/placement"
	"github.com/zzenonn/zplace/internal/repository/db"
	"github.com/zzenonn/zplace/internal/repository/objectstore"
	"github.com/zzenonn/zplace/internal/service"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "zplace",
	Short: "Deterministic object placement for a versioned pool map",
	Long: "zplace computes object layouts over a versioned fault-domain tree, plans rebuild,\n" +
		"reintegration and server addition, and publishes pool map versions to a snapshot store.",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	flags.String("log-level", "", "trace, debug, info, warn or error")
	flags.String("log-format", "", "text or json")
	flags.String("algorithm", "", "placement algorithm: jump or ring")
	flags.String("fault-domain", "", "fault domain level, e.g. rack or node")
	flags.String("store", "", "snapshot store: file://dir, s3://bucket/prefix or gs://bucket/prefix")
	flags.String("pool", "", "pool name")
	flags.String("catalog-table", "", "DynamoDB catalog table (empty disables the catalog)")
	flags.String("shard-store", "", "simulator badger directory (empty keeps shards in memory)")
	flags.Int("concurrency", 0, "simulator workers")
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the DynamoDB snapshot catalog",
}

var catalogInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the catalog table",
	RunE: func(cmd *cobra.Command, args []string) error {
		dynamoDb, err := database(cmd.Context())
		if err != nil {
			return err
		}
		if err := dynamoDb.MigrateDb(cmd.Context(), cfg.Snapshot.CatalogTable); err != nil {
			return fmt.Errorf("failed to migrate the catalog: %w", err)
		}
		fmt.Println("Catalog initialized and migrated successfully")
		return nil
	},
}

var catalogDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Drop the catalog table",
	RunE: func(cmd *cobra.Command, args []string) error {
		dynamoDb, err := database(cmd.Context())
		if err != nil {
			return err
		}
		if err := dynamoDb.MigrateDown(cmd.Context(), cfg.Snapshot.CatalogTable); err != nil {
			return fmt.Errorf("failed to roll back the catalog: %w", err)
		}
		fmt.Println("Catalog migrations rolled back successfully")
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the recorded pool map versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := catalogRepository(cmd.Context())
		if err != nil {
			return err
		}
		if catalog == nil {
			return fmt.Errorf("no catalog table is configured")
		}
		records, err := catalog.ListSnapshots(cmd.Context(), cfg.Snapshot.Pool)
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("v%-6d targets=%-5d domains=%-4d bytes=%-7d %s %s\n",
				r.Version, r.Targets, r.Domains, r.StoredBytes, r.CreatedAt.Format("2006-01-02T15:04:05Z"), r.Location)
		}
		return nil
	},
}

func initConfig() {
	var err error
	cfg, err = config.LoadConfig(cfgFile, rootCmd)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logging.InitLogger(cfg)
}

func database(ctx context.Context) (*db.DynamoDb, error) {
	awsConfig, err := cfg.AWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	dynamoDb, err := db.NewDatabase(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}
	return dynamoDb, nil
}

// catalogRepository returns nil when no catalog table is configured.
func catalogRepository(ctx context.Context) (*db.CatalogRepository, error) {
	if cfg.Snapshot.CatalogTable == "" {
		return nil, nil
	}
	dynamoDb, err := database(ctx)
	if err != nil {
		return nil, err
	}
	repo := db.NewCatalogRepository(dynamoDb.Client, cfg.Snapshot.CatalogTable)
	return &repo, nil
}

func snapshotService(ctx context.Context) (*service.SnapshotService, error) {
	bucket, err := objectstore.ParseBucketConfig(cfg.Snapshot.Store)
	if err != nil {
		return nil, err
	}

	var awsConfig *aws.Config
	if bucket.Type == objectstore.S3Type {
		c, err := cfg.AWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		awsConfig = &c
	}
	var gcsClient *storage.Client
	if bucket.Type == objectstore.GCSType {
		if gcsClient, err = cfg.GCSClient(ctx); err != nil {
			return nil, err
		}
	}

	store, err := objectstore.NewObjectRepositoryFactory(awsConfig, gcsClient).CreateRepository(ctx, bucket)
	if err != nil {
		return nil, err
	}
	log.Debugf("Snapshot store %s (%s)", bucket, store.GetStorageType())

	catalog, err := catalogRepository(ctx)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		return service.NewSnapshotService(store, nil, cfg.Snapshot.Pool)
	}
	return service.NewSnapshotService(store, catalog, cfg.Snapshot.Pool)
}

func newEngine() (*placement.Engine, error) {
	opts, err := cfg.PlacementOptions()
	if err != nil {
		return nil, err
	}
	cache, err := placement.NewLayoutCache(cfg.Placement.CacheEntries)
	if err != nil {
		return nil, err
	}
	return placement.NewEngine(opts, cache), nil
}

// loadEngine activates the given pool map version (zero for the newest).
func loadEngine(ctx context.Context, version uint32) (*placement.Engine, *placement.Map, error) {
	snapshots, err := snapshotService(ctx)
	if err != nil {
		return nil, nil, err
	}
	snap, err := snapshots.GetSnapshot(ctx, version)
	if err != nil {
		return nil, nil, err
	}
	engine, err := newEngine()
	if err != nil {
		return nil, nil, err
	}
	m, err := engine.Activate(snap)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	return engine, m, nil
}

func init() {
	catalogCmd.AddCommand(catalogInitCmd, catalogDownCmd, catalogListCmd)
	rootCmd.AddCommand(catalogCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
