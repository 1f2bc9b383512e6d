package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zzenonn/zplace/internal/domain"
	"github.com/zzenonn/zplace/internal/repository/shardstore"
	"github.com/zzenonn/zplace/internal/service"
	"github.com/zzenonn/zplace/internal/topology"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a pseudo-cluster scenario: create objects, fail targets, rebuild, reintegrate, extend",
	Long: "sim stores real shard data for every object on simulated targets, then walks the\n" +
		"cluster through target failures and additions, moving data the way the engine plans it\n" +
		"and verifying every object after each step.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()
		quiet, _ := flags.GetBool("quiet")
		publish, _ := flags.GetBool("publish")
		classNames, _ := flags.GetStringSlice("class")
		count, _ := flags.GetInt("objects")
		seed, _ := flags.GetUint64("seed")
		down, _ := flags.GetUintSlice("fail")
		drain, _ := flags.GetUintSlice("drain")
		reint, _ := flags.GetBool("reint")
		add, _ := flags.GetInt("add")

		spec, err := clusterSpec(cmd)
		if err != nil {
			return err
		}
		snap, err := spec.Build()
		if err != nil {
			return err
		}

		store, err := shardstore.Open(cfg.Simulator.ShardStore)
		if err != nil {
			return err
		}
		defer store.Close()

		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Close()
		var publisher service.SnapshotPublisher
		if publish {
			if publisher, err = snapshotService(ctx); err != nil {
				return err
			}
		}
		sim := service.NewSimulationService(engine, store, publisher, service.SimulationConfig{
			Concurrency: cfg.Simulator.Concurrency,
			ObjectSize:  cfg.Simulator.ObjectSize,
			Quiet:       quiet,
		})

		if _, err := sim.CreateCluster(ctx, snap); err != nil {
			return err
		}
		fmt.Print(topology.Describe(snap))

		for i, name := range classNames {
			class, err := domain.ClassByName(name)
			if err != nil {
				return err
			}
			if err := sim.CreateObjects(ctx, class, count, seed+uint64(i)); err != nil {
				return err
			}
		}
		if err := report(ctx, sim, "created"); err != nil {
			return err
		}

		failed := append(toIDs(down), toIDs(drain)...)
		if len(failed) > 0 {
			from := snap.Version() + 1
			if len(down) > 0 {
				if _, err := sim.ChangeTargets(ctx, topology.StatusDown, toIDs(down)...); err != nil {
					return err
				}
			}
			if len(drain) > 0 {
				if _, err := sim.ChangeTargets(ctx, topology.StatusDrain, toIDs(drain)...); err != nil {
					return err
				}
			}
			if err := report(ctx, sim, "failed"); err != nil {
				return err
			}

			rebuilt, err := sim.Rebuild(ctx, from)
			if err != nil {
				return err
			}
			fmt.Printf("Rebuilt %d shard(s) of %d object(s) at version %d\n", rebuilt.Shards, rebuilt.Objects, rebuilt.Version)
			if err := report(ctx, sim, "rebuilt"); err != nil {
				return err
			}

			if reint {
				for _, id := range failed {
					back, err := sim.Reintegrate(ctx, id)
					if err != nil {
						return err
					}
					fmt.Printf("Reintegrated target %d: %d move(s) at version %d\n", id, back.Moves, back.Version)
				}
				if err := report(ctx, sim, "reintegrated"); err != nil {
					return err
				}
			}
		}

		if add > 0 {
			grown, ids, err := sim.AddTargets(ctx, add)
			if err != nil {
				return err
			}
			fmt.Printf("Added targets %v: %d move(s) at version %d\n", ids, grown.Moves, grown.Version)
			if err := report(ctx, sim, "extended"); err != nil {
				return err
			}
		}
		return nil
	},
}

func toIDs(in []uint) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}

// report verifies every object and prints per-target shard counts.
func report(ctx context.Context, sim *service.SimulationService, step string) error {
	verify, err := sim.Verify(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n[%s] version %d: %d objects, %d healthy, %d degraded, %d lost, %d misplaced\n",
		step, verify.Version, verify.Objects, verify.Healthy, verify.Degraded, verify.Lost, verify.Misplaced)
	if verify.Lost > 0 {
		log.Warnf("%d object(s) cannot be read back", verify.Lost)
	}

	stats, err := sim.Stats(ctx)
	if err != nil {
		return err
	}
	for i, s := range stats {
		fmt.Printf("  t%-4d %-10s %6d", s.Target, s.Status, s.Shards)
		if i%4 == 3 || i == len(stats)-1 {
			fmt.Println()
		}
	}
	return nil
}

func init() {
	f := simCmd.Flags()
	f.String("spec", "", "YAML cluster description")
	f.String("layers", "r:3,n:4,t:2", "compact layer list type:count,...")
	f.StringSlice("class", []string{"RP_3G1", "EC_4P2G1"}, "object classes to create")
	f.Int("objects", 1000, "objects per class")
	f.Uint64("seed", 1, "high half of the generated object IDs")
	f.UintSlice("fail", nil, "targets to take DOWN (their data is lost)")
	f.UintSlice("drain", nil, "targets to DRAIN (their data is moved off)")
	f.Bool("reint", false, "reintegrate the failed targets after rebuild")
	f.Int("add", 0, "targets to add in a new domain after the other steps")
	f.Bool("publish", false, "publish every pool map version to the snapshot store")
	f.BoolP("quiet", "q", false, "Suppress progress bars")
	rootCmd.AddCommand(simCmd)
}
