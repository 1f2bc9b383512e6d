package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zzenonn/zplace/internal/topology"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Create and inspect pool map versions",
}

// clusterSpec reads --spec or --layers; --spec wins.
func clusterSpec(cmd *cobra.Command) (topology.ClusterSpec, error) {
	specPath, _ := cmd.Flags().GetString("spec")
	if specPath != "" {
		f, err := os.Open(specPath)
		if err != nil {
			return topology.ClusterSpec{}, fmt.Errorf("error opening cluster spec: %w", err)
		}
		defer f.Close()
		return topology.LoadClusterSpec(f)
	}
	layers, _ := cmd.Flags().GetString("layers")
	parsed, err := topology.ParseLayers(layers)
	if err != nil {
		return topology.ClusterSpec{}, err
	}
	return topology.ClusterSpec{Version: 1, Layers: parsed}, nil
}

var clusterCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Build a uniform cluster and publish it as the first pool map version",
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := clusterSpec(cmd)
		if err != nil {
			return err
		}
		snap, err := spec.Build()
		if err != nil {
			return err
		}
		snapshots, err := snapshotService(cmd.Context())
		if err != nil {
			return err
		}
		record, err := snapshots.Publish(cmd.Context(), snap)
		if err != nil {
			return err
		}
		fmt.Print(topology.Describe(snap))
		fmt.Printf("Published pool map version %d to %s\n", record.Version, record.Location)
		return nil
	},
}

var clusterShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a published pool map version",
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetUint32("version")
		snapshots, err := snapshotService(cmd.Context())
		if err != nil {
			return err
		}
		snap, err := snapshots.GetSnapshot(cmd.Context(), version)
		if err != nil {
			return err
		}
		fmt.Print(topology.Describe(snap))
		return nil
	},
}

var clusterVersionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List the pool map versions in the snapshot store",
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshots, err := snapshotService(cmd.Context())
		if err != nil {
			return err
		}
		versions, err := snapshots.Versions(cmd.Context())
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Println(v)
		}
		return nil
	},
}

func init() {
	clusterCreateCmd.Flags().String("spec", "", "YAML cluster description")
	clusterCreateCmd.Flags().String("layers", "r:3,n:4,t:2", "compact layer list type:count,...")
	clusterShowCmd.Flags().Uint32("version", 0, "pool map version (0 for the newest)")
	clusterCmd.AddCommand(clusterCreateCmd, clusterShowCmd, clusterVersionsCmd)
	rootCmd.AddCommand(clusterCmd)
}
