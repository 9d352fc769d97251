package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loadforge/loadforge/internal/appconfig"
	"github.com/loadforge/loadforge/internal/logging"
	"github.com/loadforge/loadforge/internal/tracing"
	"github.com/loadforge/loadforge/internal/worker"
)

var workerPort int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Host a worker, exposing the prepare/start/status/results/stop HTTP surface",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVar(&workerPort, "port", 0, "HTTP port to listen on (defaults to the worker.port config setting)")
}

func runWorker(command *cobra.Command, args []string) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewWithLevel(cfg.LogLevel)
	defer logger.Sync()

	tracer, err := tracing.NewTracer(&tracing.Config{ServiceName: cfg.Tracing.ServiceName, Enabled: cfg.Tracing.Enabled})
	if err != nil {
		return fmt.Errorf("failed to build tracer: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	srv := worker.New(logger).WithTracer(tracer).WithConfig(cfg)

	port := workerPort
	if port == 0 {
		port = cfg.Worker.Port
	}
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: srv.Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Worker listening on %s\n", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		fmt.Println("\nShutting down worker...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	}
	return nil
}
