package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zzenonn/zplace/internal/topology"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Change target status",
}

var targetSetCmd = &cobra.Command{
	Use:   "set [up|down|drain|rebuilding] [target-id...]",
	Short: "Publish a new pool map version with the targets in the given status",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := topology.ParseStatus(args[0])
		if err != nil {
			return err
		}
		changes := make([]topology.StatusChange, 0, len(args)-1)
		for _, a := range args[1:] {
			id, err := strconv.ParseUint(a, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid target id %q: %w", a, err)
			}
			changes = append(changes, topology.StatusChange{TargetID: uint32(id), Status: st})
		}

		snapshots, err := snapshotService(cmd.Context())
		if err != nil {
			return err
		}
		current, err := snapshots.GetSnapshot(cmd.Context(), 0)
		if err != nil {
			return err
		}
		next, err := current.Apply(current.Version()+1, changes...)
		if err != nil {
			return err
		}
		record, err := snapshots.Publish(cmd.Context(), next)
		if err != nil {
			return err
		}
		fmt.Printf("Published pool map version %d: %d target(s) %s\n", record.Version, len(changes), st)
		return nil
	},
}

func init() {
	targetCmd.AddCommand(targetSetCmd)
	rootCmd.AddCommand(targetCmd)
}
