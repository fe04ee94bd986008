package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gpu_batch_launcher/pkg/gpu"
	"gpu_batch_launcher/pkg/launcher"
	"gpu_batch_launcher/pkg/ledger"
	"gpu_batch_launcher/pkg/plan"
)

var rootCmd = &cobra.Command{Use: "launcher"}

var (
	planPath string
	verbose  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&planPath, "plan", "plan.yaml", "path to the batch plan file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	launchCmd.Flags().Bool("dry-run", false, "print the launch commands without starting anything")
	historyCmd.Flags().Int("limit", 20, "max batches to list")
	rootCmd.AddCommand(launchCmd, validateCmd, devicesCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func loadPlan() *plan.Plan {
	p, err := plan.Load(planPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := p.Validate(); err != nil {
		log.Fatalf("invalid plan: %v", err)
	}
	return p
}

// checkDevices verifies the plan's device indices against the host's GPUs.
// Best-effort: machines without nvidia-smi skip the check with a warning.
func checkDevices(p *plan.Plan, logger *slog.Logger) {
	devices, err := gpu.Detect()
	if err != nil {
		if errors.Is(err, gpu.ErrNoNvidiaSMI) {
			logger.Warn("nvidia-smi not found, skipping device check")
			return
		}
		log.Fatalf("device detection failed: %v", err)
	}

	for _, idx := range p.Devices() {
		if !gpu.Has(devices, idx) {
			log.Fatalf("plan uses device %d but host has %d GPU(s)", idx, len(devices))
		}
	}
	logger.Debug("device check passed", "host_gpus", len(devices))
}

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch every job in the plan as a detached background process",
	Example: `
# Launch the batch described by plan.yaml
launcher launch --plan plan.yaml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		logger := setupLogger()
		p := loadPlan()

		if cmd.Flag("dry-run").Value.String() == "true" {
			launcher.New(p, logger, nil).DryRun()
			return
		}

		checkDevices(p, logger)

		var led *ledger.Ledger
		if p.LedgerPath != "" {
			var err error
			led, err = ledger.Open(p.LedgerPath)
			if err != nil {
				log.Fatal(err)
			}
			defer led.Close()
		}

		res, err := launcher.New(p, logger, led).Launch(planPath)
		if err != nil {
			log.Fatal(err)
		}

		fmt.Printf("Batch %s: %d/%d jobs started\n",
			res.BatchID, res.Started(), len(res.Handles))
		fmt.Println("Monitor with: tail -f", p.LogDir+"/*.log")
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the plan's static checks without launching anything",
	Example: `
# Check a plan for duplicate outputs, bad device indices etc.
launcher validate --plan plan.yaml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		p := loadPlan()
		fmt.Printf("Plan OK: %d jobs across devices %v\n", len(p.Jobs), p.Devices())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the host's GPUs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		devices, err := gpu.Detect()
		if err != nil {
			log.Fatal(err)
		}
		for _, d := range devices {
			fmt.Printf("GPU %d: %s (%d MiB)\n", d.Index, d.Name, d.MemoryMB)
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [batchID]",
	Short: "Show past batches, or the launches of one batch",
	Example: `
# List recent batches
launcher history

# Show what one batch started
launcher history 4f7c2a60-...`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		p, err := plan.Load(planPath)
		if err != nil {
			log.Fatal(err)
		}
		if p.LedgerPath == "" {
			log.Fatal("plan has no ledger_path configured")
		}

		led, err := ledger.Open(p.LedgerPath)
		if err != nil {
			log.Fatal(err)
		}
		defer led.Close()

		if len(args) == 1 {
			launches, err := led.Launches(args[0])
			if err != nil {
				log.Fatal(err)
			}
			for _, rec := range launches {
				status := fmt.Sprintf("PID %d", rec.PID)
				if rec.Error != "" {
					status = "FAILED: " + rec.Error
				}
				fmt.Printf("%s  device %d  %s\n  log: %s\n", rec.JobName, rec.Device, status, rec.LogPath)
			}
			return
		}

		limit, _ := cmd.Flags().GetInt("limit")
		batches, err := led.Batches(limit)
		if err != nil {
			log.Fatal(err)
		}
		for _, b := range batches {
			fmt.Printf("%s  %s  %d jobs  %s\n",
				b.ID, b.Stamp, b.JobCount, b.PlanPath)
		}
	},
}
