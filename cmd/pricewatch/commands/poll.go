package commands

import (
	"fmt"
	"time"

	"pricewatch-backend/lib/serviceutil"
	"pricewatch-backend/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	onceConcurrency *int
	runInterval     *int
	runConcurrency  *int
)

func init() {
	onceConcurrency = onceCmd.Flags().Int("concurrency", 6, "Max concurrent requests.")
	rootCmd.AddCommand(onceCmd)

	runInterval = runCmd.Flags().Int("interval", 900, "Polling interval in seconds.")
	runConcurrency = runCmd.Flags().Int("concurrency", 6, "Max concurrent requests.")
	rootCmd.AddCommand(runCmd)
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Fetches all tracked products once and stores observations.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		svc, _, cleanup, err := openService(ctx)
		if err != nil {
			serviceutil.Fatal("failed to open database", err)
		}
		defer cleanup()

		results, err := svc.PollAll(ctx, *onceConcurrency)
		if err != nil {
			serviceutil.Fatal("poll failed", err)
		}

		ok := 0
		for _, r := range results {
			if r.OK {
				ok++
			}
		}
		fmt.Printf("Done. OK: %d/%d\n", ok, len(results))
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs periodic polling until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := serviceutil.SignalContext()
		telemetry.InstrumentPerfStats(ctx)

		svc, _, cleanup, err := openService(ctx)
		if err != nil {
			serviceutil.Fatal("failed to open database", err)
		}
		defer cleanup()

		cfg := loadConfig()
		interval := *runInterval
		if cfg.PollIntervalSec > 0 && !cmd.Flags().Changed("interval") {
			interval = cfg.PollIntervalSec
		}
		concurrency := *runConcurrency
		if cfg.PollConcurrency > 0 && !cmd.Flags().Changed("concurrency") {
			concurrency = cfg.PollConcurrency
		}

		fmt.Printf("Polling every %ds. DB: %s\n", interval, resolveDbPath())
		svc.RunForever(ctx, time.Duration(interval)*time.Second, concurrency)
	},
}
