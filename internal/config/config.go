package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/placement"
	"github.com/zzenonn/zplace/internal/topology"
)

// PlacementConfig selects and tunes the placement algorithm
type PlacementConfig struct {
	Algorithm    string `mapstructure:"algorithm"`
	FaultDomain  string `mapstructure:"fault_domain"`
	MinVersion   uint32 `mapstructure:"min_version"`
	RingCount    uint32 `mapstructure:"ring_count"`
	CacheEntries int64  `mapstructure:"cache_entries"`
}

// SnapshotConfig says where pool map versions are published
type SnapshotConfig struct {
	Store        string `mapstructure:"store"` // file://dir, s3://bucket/prefix or gs://bucket/prefix
	Pool         string `mapstructure:"pool"`
	CatalogTable string `mapstructure:"catalog_table"` // empty disables the DynamoDB catalog
}

// SimulatorConfig tunes the pseudo-cluster
type SimulatorConfig struct {
	ShardStore  string `mapstructure:"shard_store"` // badger directory, empty keeps shards in memory
	Concurrency int    `mapstructure:"concurrency"`
	ObjectSize  int    `mapstructure:"object_size"`
}

// Config holds the application configuration
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"` // text or json
	Placement PlacementConfig `mapstructure:"placement"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Simulator SimulatorConfig `mapstructure:"simulator"`

	// AWS SDK uses a shared configuration object (credentials, region,
	// retry policies) for both S3 and DynamoDB. The GCS client handles its
	// own configuration. Both are created on first use.
	awsOnce   sync.Once
	awsConfig aws.Config
	awsErr    error
	gcsOnce   sync.Once
	gcsClient *storage.Client
	gcsErr    error
}

// flagKeys maps persistent flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":     "log_level",
	"log-format":    "log_format",
	"algorithm":     "placement.algorithm",
	"fault-domain":  "placement.fault_domain",
	"store":         "snapshot.store",
	"pool":          "snapshot.pool",
	"catalog-table": "snapshot.catalog_table",
	"shard-store":   "simulator.shard_store",
	"concurrency":   "simulator.concurrency",
}

// LoadConfig loads configuration from config.yaml, environment variables, or CLI flags
// Priority: CLI flags > Environment variables > config.yaml > defaults
func LoadConfig(configPath string, rootCmd *cobra.Command) (*Config, error) {
	if err := setupViper(configPath, rootCmd); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupViper configures Viper with defaults, paths, and bindings
func setupViper(configPath string, rootCmd *cobra.Command) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	setDefaults()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if rootCmd != nil {
		flags := rootCmd.PersistentFlags()
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := viper.BindPFlag(key, f); err != nil {
					return fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("placement.algorithm", string(placement.MapJump))
	viper.SetDefault("placement.fault_domain", topology.TypeRoot.String())
	viper.SetDefault("placement.min_version", 0)
	viper.SetDefault("placement.ring_count", 1)
	viper.SetDefault("placement.cache_entries", 10000)
	viper.SetDefault("snapshot.store", "file://./poolmaps")
	viper.SetDefault("snapshot.pool", "default")
	viper.SetDefault("snapshot.catalog_table", "")
	viper.SetDefault("simulator.shard_store", "")
	viper.SetDefault("simulator.concurrency", 8)
	viper.SetDefault("simulator.object_size", 4096)
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return zerrors.InvalidArgumentError("log_format must be text or json, got %q", c.LogFormat)
	}
	if _, err := c.PlacementOptions(); err != nil {
		return err
	}
	if c.Snapshot.Pool == "" {
		return zerrors.ConfigNotSetError("snapshot.pool")
	}
	if c.Simulator.Concurrency <= 0 {
		return zerrors.InvalidArgumentError("simulator.concurrency must be positive, got %d", c.Simulator.Concurrency)
	}
	if c.Simulator.ObjectSize <= 0 {
		return zerrors.InvalidArgumentError("simulator.object_size must be positive, got %d", c.Simulator.ObjectSize)
	}
	return nil
}

// PlacementOptions converts the placement settings into map options.
func (c *Config) PlacementOptions() (placement.Options, error) {
	typ, err := placement.ParseMapType(c.Placement.Algorithm)
	if err != nil {
		return placement.Options{}, err
	}
	level := topology.TypeRoot
	if c.Placement.FaultDomain != "" {
		if level, err = topology.ParseCompType(c.Placement.FaultDomain); err != nil {
			return placement.Options{}, err
		}
	}
	return placement.Options{
		Type:        typ,
		FaultDomain: level,
		MinVersion:  c.Placement.MinVersion,
		RingCount:   c.Placement.RingCount,
	}, nil
}

// AWSConfig loads AWS SDK configuration on first use
func (c *Config) AWSConfig(ctx context.Context) (aws.Config, error) {
	c.awsOnce.Do(func() {
		c.awsConfig, c.awsErr = awsconfig.LoadDefaultConfig(ctx)
		if c.awsErr != nil {
			c.awsErr = fmt.Errorf("unable to load AWS SDK config: %w", c.awsErr)
		}
	})
	return c.awsConfig, c.awsErr
}

// GCSClient creates the Google Cloud Storage client on first use
func (c *Config) GCSClient(ctx context.Context) (*storage.Client, error) {
	c.gcsOnce.Do(func() {
		c.gcsClient, c.gcsErr = storage.NewClient(ctx)
		if c.gcsErr != nil {
			c.gcsErr = fmt.Errorf("unable to create GCS client: %w", c.gcsErr)
		}
	})
	return c.gcsClient, c.gcsErr
}

// SetConfigValue sets a configuration value (used for CLI flags)
func SetConfigValue(key string, value interface{}) {
	viper.Set(key, value)
}
