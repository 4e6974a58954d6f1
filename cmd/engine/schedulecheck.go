package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apployd/engine/internal/config"
	"github.com/apployd/engine/pkg/scheduler"
	"github.com/apployd/engine/pkg/storage"
)

var (
	checkRamMb         int64
	checkCPUMillicores int64
	checkBandwidthGb   int64
	checkRegion        string
)

// scheduleCheckCmd is an ops diagnostic: run the same candidate-ranking
// algorithm the worker uses when placing a deployment, without actually
// placing one, so an operator can see which server would be picked.
var scheduleCheckCmd = &cobra.Command{
	Use:   "schedule-check",
	Short: "Dry-run the capacity scheduler against current server inventory",
	RunE:  runScheduleCheck,
}

func init() {
	scheduleCheckCmd.Flags().Int64Var(&checkRamMb, "ram-mb", 512, "RAM requested, in MB")
	scheduleCheckCmd.Flags().Int64Var(&checkCPUMillicores, "cpu-millicores", 500, "CPU requested, in millicores")
	scheduleCheckCmd.Flags().Int64Var(&checkBandwidthGb, "bandwidth-gb", 10, "Bandwidth requested, in GB")
	scheduleCheckCmd.Flags().StringVar(&checkRegion, "region", "", "Preferred region (falls back to global retry)")
}

func runScheduleCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	servers, err := store.ListHealthyServers(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d healthy server(s) in inventory\n", len(servers))
	for _, s := range servers {
		fmt.Printf("  %s region=%s ram=%d/%dMb cpu=%d/%dm bw=%d/%dGb\n",
			s.ID, s.Region, s.ReservedRamMb, s.TotalRamMb, s.ReservedCpuMillicores, s.TotalCpuMillicores, s.ReservedBandwidthGb, s.TotalBandwidthGb)
	}

	picked, err := scheduler.Schedule(ctx, store, scheduler.Request{
		RamMb:         checkRamMb,
		CpuMillicores: checkCPUMillicores,
		BandwidthGb:   checkBandwidthGb,
		Region:        checkRegion,
	})
	if err != nil {
		fmt.Printf("no candidate: %v\n", err)
		return nil
	}

	fmt.Printf("selected: %s (region=%s)\n", picked.ID, picked.Region)
	return nil
}
