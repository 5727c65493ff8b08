package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kilianp07/freight/core/model"
	"github.com/kilianp07/freight/infra/logger"
	"github.com/kilianp07/freight/simulator"
)

var simCfg simulator.Config
var (
	simScenario string
	simJSON     bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Optimize a simulated fleet and compare with the greedy baseline",
	RunE:  simulate,
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simScenario, "scenario", "three", "fleet to simulate: three or random")
	f.IntVar(&simCfg.Drivers, "drivers", 5, "number of drivers for the random scenario")
	f.IntVar(&simCfg.Loads, "loads", 8, "number of loads for the random scenario")
	f.Int64Var(&simCfg.Seed, "seed", 0, "random seed, 0 for time based")
	f.Float64Var(&simCfg.RadiusMiles, "radius", 25, "scatter radius in miles")
	f.BoolVar(&simJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(simulateCmd)
}

func simulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	var (
		drivers []model.Driver
		loads   []model.Load
	)
	switch simScenario {
	case "three":
		drivers, loads = simulator.ThreeDriverScenario()
	case "random":
		if err := simCfg.Validate(); err != nil {
			return err
		}
		drivers, loads = simulator.GenerateFleet(simCfg)
	default:
		return fmt.Errorf("unknown scenario %q", simScenario)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rep, err := simulator.Run(ctx, drivers, loads, cfg.Dispatch, logger.New("simulator"))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if simJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(out, "%d drivers, %d loads: %s in %s\n", rep.Drivers, rep.Loads, rep.Status, rep.Elapsed)
	fmt.Fprintf(out, "optimal deadhead: %.1f mi\n", rep.Deadhead)
	fmt.Fprintf(out, "greedy deadhead:  %.1f mi (%d unserved)\n", rep.GreedyDeadhead, rep.GreedyUnserved)
	ids := make([]string, 0, len(rep.Assignments))
	for id := range rep.Assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  %s -> %v\n", id, rep.Assignments[id])
	}
	return nil
}
