package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loadforge/loadforge/internal/appconfig"
	"github.com/loadforge/loadforge/internal/logging"
	"github.com/loadforge/loadforge/internal/testrun"
	"github.com/loadforge/loadforge/internal/tracing"
)

var runVerbose bool

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Execute a test plan locally",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestPlan,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "debug-level logging")
}

func runTestPlan(command *cobra.Command, args []string) error {
	planCfg, err := loadTestConfiguration(args[0])
	if err != nil {
		return err
	}

	appCfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewWithLevel(appCfg.LogLevel)
	if runVerbose {
		logger = logging.NewWithLevel("debug")
	}
	defer logger.Sync()

	tracer, err := tracing.NewTracer(&tracing.Config{ServiceName: appCfg.Tracing.ServiceName, Enabled: appCfg.Tracing.Enabled})
	if err != nil {
		return fmt.Errorf("failed to build tracer: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	run := testrun.New(logger)
	run.Configure(appCfg, tracing.NewStepTracer(tracer))
	if err := run.Prepare(planCfg); err != nil {
		return err
	}

	fmt.Printf("Running %q (%d scenario(s), %d load phase(s))\n", planCfg.Name, len(planCfg.Scenarios), len(planCfg.Load))
	start := time.Now()
	if err := run.Start(ctx, time.Time{}); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		run.Stop()
	}()

	<-run.Done()

	results, summary := run.Results()
	fmt.Println()
	fmt.Printf("Completed in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Requests: %d (success rate %.1f%%)\n", summary.TotalRequests, summary.SuccessRate)
	fmt.Printf("  RPS:      %.1f\n", summary.RPS)
	fmt.Printf("  Recorded: %d result(s)\n", len(results))
	if summary.Dropped {
		fmt.Printf("  Warning: result store dropped %d result(s) at capacity\n", summary.DroppedCount)
	}
	if len(summary.Errors) > 0 {
		fmt.Printf("  Errors:   %d distinct error(s)\n", len(summary.Errors))
	}

	return nil
}
