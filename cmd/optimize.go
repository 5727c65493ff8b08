package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/freight/app"
	"github.com/kilianp07/freight/core/coordinator"
	"github.com/kilianp07/freight/core/model"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run one optimization pass against the configured store",
	RunE:  optimize,
}

func init() {
	rootCmd.AddCommand(optimizeCmd)
}

type planSummary struct {
	Status      string              `json:"status"`
	Deadhead    float64             `json:"deadhead"`
	Assignments map[string][]string `json:"assignments"`
	Unserved    []string            `json:"unserved,omitempty"`
	Expired     []string            `json:"expired,omitempty"`
	Reserved    int                 `json:"reserved"`
	Released    int                 `json:"released"`
	Conflicts   int                 `json:"conflicts"`
}

func optimize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	svc.Coordinator.Start()
	ctx, cancel := context.WithTimeout(ctx, cfg.Coordinator.WaitTimeout()+cfg.Dispatch.TimeBudget()+time.Second)
	defer cancel()
	if err := svc.Coordinator.RunAndWait(ctx, coordinator.Request{Trigger: model.TriggerManual}); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	plan, rep := svc.Orchestrator.LastPlan()
	if plan == nil {
		return fmt.Errorf("optimize: no plan produced")
	}
	sum := planSummary{
		Status:      plan.Status().String(),
		Deadhead:    plan.TotalDeadhead(),
		Assignments: make(map[string][]string),
		Unserved:    plan.Unserved(),
		Expired:     rep.Expired,
		Reserved:    rep.Reserved,
		Released:    rep.Released,
		Conflicts:   rep.Conflicts,
	}
	for id, seq := range plan.Sequences() {
		sum.Assignments[id] = seq.LoadIDs
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
