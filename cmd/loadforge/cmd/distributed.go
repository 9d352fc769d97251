package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loadforge/loadforge/internal/appconfig"
	"github.com/loadforge/loadforge/internal/coordinator"
	"github.com/loadforge/loadforge/internal/logging"
	"github.com/loadforge/loadforge/internal/testplan"
)

var (
	distWorkers     []string
	distStrategy    string
	distRolling     bool
	distRetryFailed bool
)

var distributedCmd = &cobra.Command{
	Use:   "distributed <config.yaml>",
	Short: "Partition a test plan across workers and aggregate their results",
	Args:  cobra.ExactArgs(1),
	RunE:  runDistributed,
}

func init() {
	rootCmd.AddCommand(distributedCmd)
	distributedCmd.Flags().StringSliceVar(&distWorkers, "workers", nil, "worker base URLs, comma-separated (host:port or address=host:port,capacity=N,region=name)")
	distributedCmd.Flags().StringVar(&distStrategy, "strategy", string(testplan.DistEven), "even | capacity_based | round_robin | geographic")
	distributedCmd.Flags().BoolVar(&distRolling, "rolling", false, "start workers one at a time instead of synchronized")
	distributedCmd.Flags().BoolVar(&distRetryFailed, "retry-failed", false, "continue past an unreachable worker instead of aborting")
}

func runDistributed(command *cobra.Command, args []string) error {
	if len(distWorkers) == 0 {
		return fmt.Errorf("distributed requires at least one --workers entry")
	}

	cfg, err := loadTestConfiguration(args[0])
	if err != nil {
		return err
	}

	appCfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewWithLevel(appCfg.LogLevel)
	defer logger.Sync()

	specs := make([]coordinator.WorkerSpec, len(distWorkers))
	for i, w := range distWorkers {
		specs[i] = parseWorkerSpec(w)
	}

	startMode := coordinator.StartSynchronized
	if distRolling {
		startMode = coordinator.StartRolling
	}

	coord := coordinator.New(logger, coordinator.Config{
		Workers:           specs,
		Strategy:          testplan.DistStrategy(distStrategy),
		StartMode:         startMode,
		RetryFailed:       distRetryFailed,
		HeartbeatInterval: appCfg.Worker.HeartbeatInterval,
		HeartbeatTimeout:  appCfg.Worker.HeartbeatTimeout,
		UnhealthyErrors:   appCfg.Worker.UnhealthyErrors,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nStopping distributed run...")
		coord.Stop(context.Background())
		cancel()
	}()

	if err := coord.Connect(ctx); err != nil {
		return err
	}
	fmt.Printf("Connected to %d worker(s)\n", len(specs))

	if err := coord.Start(ctx, cfg); err != nil {
		return err
	}
	fmt.Println("Distributed run started")

	summary, err := coord.Wait(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Completed: %d total requests across %d worker(s)\n", summary.TotalRequests, len(summary.ByWorker))
	for _, w := range summary.Workers {
		fmt.Printf("  %-30s status=%-12s requests=%d\n", w.Address, w.Status, len(summary.ByWorker[w.Address]))
	}

	coord.Stop(ctx)
	return nil
}

// parseWorkerSpec accepts either a bare address or a comma-separated
// address=host:port,capacity=N,region=name form.
func parseWorkerSpec(raw string) coordinator.WorkerSpec {
	spec := coordinator.WorkerSpec{Capacity: 1}
	parts := strings.Split(raw, ",")
	for i, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			if i == 0 {
				spec.Address = part
			}
			continue
		}
		switch kv[0] {
		case "address":
			spec.Address = kv[1]
		case "region":
			spec.Region = kv[1]
		case "capacity":
			fmt.Sscanf(kv[1], "%d", &spec.Capacity)
		}
	}
	if spec.Address == "" {
		spec.Address = parts[0]
	}
	return spec
}
