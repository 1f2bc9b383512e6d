package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/placement"
	"github.com/zzenonn/zplace/internal/topology"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	cfg, err := LoadConfig(writeConfig(t, "{}\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "default", cfg.Snapshot.Pool)
	assert.Equal(t, 8, cfg.Simulator.Concurrency)
	assert.Equal(t, int64(10000), cfg.Placement.CacheEntries)

	opts, err := cfg.PlacementOptions()
	require.NoError(t, err)
	assert.Equal(t, placement.Options{Type: placement.MapJump, FaultDomain: topology.TypeRoot, RingCount: 1}, opts)
}

func TestLoadConfig_Priority(t *testing.T) {
	viper.Reset()
	path := writeConfig(t, `
log_level: debug
placement:
  algorithm: ring
  fault_domain: rack
  ring_count: 4
snapshot:
  pool: from-file
  store: s3://maps/prod
simulator:
  concurrency: 2
`)
	t.Setenv("SNAPSHOT_POOL", "from-env")
	t.Setenv("SIMULATOR_OBJECT_SIZE", "1024")

	root := &cobra.Command{Use: "zplace"}
	root.PersistentFlags().Int("concurrency", 0, "")
	require.NoError(t, root.PersistentFlags().Set("concurrency", "16"))

	cfg, err := LoadConfig(path, root)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "from-env", cfg.Snapshot.Pool)
	assert.Equal(t, "s3://maps/prod", cfg.Snapshot.Store)
	assert.Equal(t, 1024, cfg.Simulator.ObjectSize)
	assert.Equal(t, 16, cfg.Simulator.Concurrency)

	opts, err := cfg.PlacementOptions()
	require.NoError(t, err)
	assert.Equal(t, placement.MapRing, opts.Type)
	assert.Equal(t, topology.TypeRack, opts.FaultDomain)
	assert.Equal(t, uint32(4), opts.RingCount)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown algorithm", "placement:\n  algorithm: crush\n"},
		{"unknown fault domain", "placement:\n  fault_domain: galaxy\n"},
		{"zero concurrency", "simulator:\n  concurrency: 0\n"},
		{"unknown log format", "log_format: xml\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			_, err := LoadConfig(writeConfig(t, tt.body), nil)
			assert.ErrorIs(t, err, zerrors.ErrInvalidArgument)
		})
	}

	viper.Reset()
	_, err := LoadConfig(writeConfig(t, "snapshot:\n  pool: \"\"\n"), nil)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	viper.Reset()
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}
