package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zzenonn/zplace/internal/domain"
	"github.com/zzenonn/zplace/internal/placement"
)

var objectCmd = &cobra.Command{
	Use:   "object",
	Short: "Compute layouts and migration plans for one object",
}

// objectMetadata resolves the object argument. --class overrides the class
// embedded in the ID.
func objectMetadata(cmd *cobra.Command, arg string) (domain.ObjectMetadata, error) {
	oid, err := domain.ParseObjectID(arg)
	if err != nil {
		return domain.ObjectMetadata{}, err
	}
	className, _ := cmd.Flags().GetString("class")
	if className == "" {
		return domain.MetadataFor(oid)
	}
	class, err := domain.ClassByName(className)
	if err != nil {
		return domain.ObjectMetadata{}, err
	}
	return domain.MetadataForClass(domain.NewObjectID(class.ID, oid.Hi, oid.Lo), class), nil
}

func printPlan(plan *placement.MigrationPlan) {
	if len(plan.Moves) == 0 {
		fmt.Println("no shard moves")
		return
	}
	for _, m := range plan.Moves {
		from, to := "-", "-"
		if m.From != placement.NoTarget {
			from = strconv.FormatUint(uint64(m.From), 10)
		}
		if m.To != placement.NoTarget {
			to = strconv.FormatUint(uint64(m.To), 10)
		}
		fmt.Printf("shard %d: %s -> %s\n", m.ShardIndex, from, to)
	}
}

var objectPlaceCmd = &cobra.Command{
	Use:   "place [oid]",
	Short: "Print the layout of an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := objectMetadata(cmd, args[0])
		if err != nil {
			return err
		}
		version, _ := cmd.Flags().GetUint32("version")
		engine, m, err := loadEngine(cmd.Context(), version)
		if err != nil {
			return err
		}
		defer engine.Close()
		l, err := m.Place(md)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", md.ID, l)
		return nil
	},
}

var objectRebuildCmd = &cobra.Command{
	Use:   "rebuild [oid]",
	Short: "List the shards of an object to rebuild and their spares",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := objectMetadata(cmd, args[0])
		if err != nil {
			return err
		}
		version, _ := cmd.Flags().GetUint32("version")
		from, _ := cmd.Flags().GetUint32("from")
		engine, m, err := loadEngine(cmd.Context(), version)
		if err != nil {
			return err
		}
		defer engine.Close()
		failed, err := m.FindRebuild(md, from)
		if err != nil {
			return err
		}
		if len(failed) == 0 {
			fmt.Println("nothing to rebuild")
		}
		for _, f := range failed {
			fmt.Println(f)
		}
		return nil
	},
}

var objectReintCmd = &cobra.Command{
	Use:   "reint [oid] [target-id]",
	Short: "Plan the moves back onto a returning target",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := objectMetadata(cmd, args[0])
		if err != nil {
			return err
		}
		target, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid target id %q: %w", args[1], err)
		}
		version, _ := cmd.Flags().GetUint32("version")
		engine, m, err := loadEngine(cmd.Context(), version)
		if err != nil {
			return err
		}
		defer engine.Close()
		plan, err := m.FindReint(md, uint32(target))
		if err != nil {
			return err
		}
		printPlan(plan)
		return nil
	},
}

var objectAdditionCmd = &cobra.Command{
	Use:   "addition [oid]",
	Short: "Plan the moves onto NEW targets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := objectMetadata(cmd, args[0])
		if err != nil {
			return err
		}
		version, _ := cmd.Flags().GetUint32("version")
		engine, m, err := loadEngine(cmd.Context(), version)
		if err != nil {
			return err
		}
		defer engine.Close()
		plan, err := m.FindAddition(md)
		if err != nil {
			return err
		}
		printPlan(plan)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{objectPlaceCmd, objectRebuildCmd, objectReintCmd, objectAdditionCmd} {
		c.Flags().String("class", "", "object class, e.g. RP_3G1 or EC_4P2G1 (default: the class in the ID)")
		c.Flags().Uint32("version", 0, "pool map version (0 for the newest)")
		objectCmd.AddCommand(c)
	}
	objectRebuildCmd.Flags().Uint32("from", 0, "only shards that failed at or after this version")
	rootCmd.AddCommand(objectCmd)
}
