// Package coordinator partitions a TestConfiguration's virtual users across
// a set of worker processes, drives their prepare/start/results/stop HTTP
// surface, polls their health, and aggregates results into one summary.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loadforge/loadforge/internal/testplan"
)

// StartMode selects how the coordinator kicks workers off.
type StartMode string

const (
	// StartSynchronized prepares every worker, then starts them all at a
	// common absolute time at least 5s in the future.
	StartSynchronized StartMode = "synchronized"
	// StartRolling prepares and starts each worker in turn.
	StartRolling StartMode = "rolling"
)

// Config configures one Coordinator run.
type Config struct {
	Workers           []WorkerSpec
	Strategy          testplan.DistStrategy
	StartMode         StartMode
	RetryFailed       bool // continue past an unreachable worker instead of aborting
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration // last-heartbeat age beyond which a worker is WorkerTimeout
	UnhealthyErrors   int           // cumulative (never reset) /status error count beyond which a worker is WorkerUnhealthy
}

// AggregatedSummary combines every worker's results keyed by address.
type AggregatedSummary struct {
	TotalRequests int64
	ByWorker      map[string][]testplan.TestResult
	Workers       []WorkerRecord
}

// Coordinator owns the lifecycle of one distributed test run.
type Coordinator struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	cfg     Config
	records []*WorkerRecord

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// New builds a Coordinator for cfg's worker set.
func New(logger *zap.Logger, cfg Config) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 60 * time.Second
	}
	if cfg.UnhealthyErrors <= 0 {
		cfg.UnhealthyErrors = 10
	}

	records := make([]*WorkerRecord, len(cfg.Workers))
	for i, w := range cfg.Workers {
		records[i] = &WorkerRecord{
			Address:  w.Address,
			Capacity: w.Capacity,
			Region:   w.Region,
			Status:   testplan.WorkerDisconnected,
			client:   newWorkerClient(w.Address),
		}
	}

	return &Coordinator{logger: logger, cfg: cfg, records: records}
}

// Connect health-checks every worker. On a worker failure it either aborts
// (RetryFailed=false) or marks that worker disconnected and continues.
func (c *Coordinator) Connect(ctx context.Context) error {
	for _, r := range c.records {
		if err := r.client.health(ctx); err != nil {
			if !c.cfg.RetryFailed {
				return fmt.Errorf("coordinator: connect to %s: %w", r.Address, err)
			}
			c.logger.Warn("worker unreachable, continuing", zap.String("address", r.Address), zap.Error(err))
			r.Status = testplan.WorkerDisconnected
			continue
		}
		r.Status = testplan.WorkerConnected
		r.LastHeartbeat = time.Now()
	}
	return nil
}

// Workers returns the live worker records, in connect order.
func (c *Coordinator) Workers() []WorkerRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]WorkerRecord, len(c.records))
	for i, r := range c.records {
		out[i] = *r
	}
	return out
}

// connected returns the subset of records currently connected.
func (c *Coordinator) connected() []*WorkerRecord {
	var out []*WorkerRecord
	for _, r := range c.records {
		if r.Status != testplan.WorkerDisconnected {
			out = append(out, r)
		}
	}
	return out
}

// Start distributes testCfg's total virtual users across the connected
// workers, rewrites each worker's config, and prepares+starts them either
// synchronized or rolling. It then begins background health polling.
func (c *Coordinator) Start(ctx context.Context, testCfg testplan.TestConfiguration) error {
	workers := c.connected()
	if len(workers) == 0 {
		return fmt.Errorf("coordinator: no connected workers")
	}

	totalVUs := 0
	for _, phase := range testCfg.Load {
		if phase.VirtualUsers > totalVUs {
			totalVUs = phase.VirtualUsers
		}
	}

	specs := make([]WorkerSpec, len(workers))
	for i, w := range workers {
		specs[i] = WorkerSpec{Address: w.Address, Capacity: w.Capacity, Region: w.Region}
	}

	shares, err := distribute(c.cfg.Strategy, specs, totalVUs)
	if err != nil {
		return err
	}

	configs := make([]testplan.TestConfiguration, len(workers))
	for i := range workers {
		configs[i] = rewriteWorkerConfig(testCfg, i, shares[i])
		workers[i].virtualUsers = shares[i]
	}

	switch c.cfg.StartMode {
	case StartRolling:
		err = c.startRolling(ctx, workers, configs)
	default:
		err = c.startSynchronized(ctx, workers, configs)
	}
	if err != nil {
		return err
	}

	c.beginHealthPolling()
	return nil
}

func (c *Coordinator) startRolling(ctx context.Context, workers []*WorkerRecord, configs []testplan.TestConfiguration) error {
	for i, r := range workers {
		if err := r.client.prepare(ctx, configs[i]); err != nil {
			return c.handlePrepareFailure(r, err)
		}
		if err := r.client.start(ctx, time.Time{}); err != nil {
			return fmt.Errorf("coordinator: start %s: %w", r.Address, err)
		}
	}
	return nil
}

func (c *Coordinator) startSynchronized(ctx context.Context, workers []*WorkerRecord, configs []testplan.TestConfiguration) error {
	for i, r := range workers {
		if err := r.client.prepare(ctx, configs[i]); err != nil {
			return c.handlePrepareFailure(r, err)
		}
	}

	at := time.Now().Add(6 * time.Second)
	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, r := range workers {
		wg.Add(1)
		go func(i int, r *WorkerRecord) {
			defer wg.Done()
			errs[i] = r.client.start(ctx, at)
		}(i, r)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("coordinator: start %s: %w", workers[i].Address, err)
		}
	}
	return nil
}

func (c *Coordinator) handlePrepareFailure(r *WorkerRecord, err error) error {
	if c.cfg.RetryFailed {
		c.logger.Warn("worker prepare failed, continuing", zap.String("address", r.Address), zap.Error(err))
		r.Status = testplan.WorkerDisconnected
		return nil
	}
	return fmt.Errorf("coordinator: prepare %s: %w", r.Address, err)
}

// beginHealthPolling starts a background loop polling every connected
// worker's /status at HeartbeatInterval, updating each WorkerRecord's
// observational health state. It never reassigns work.
func (c *Coordinator) beginHealthPolling() {
	ctx, cancel := context.WithCancel(context.Background())
	c.healthCancel = cancel
	c.healthDone = make(chan struct{})

	go func() {
		defer close(c.healthDone)
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.pollOnce(ctx)
			}
		}
	}()
}

func (c *Coordinator) pollOnce(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.Status == testplan.WorkerDisconnected {
			continue
		}
		start := time.Now()
		st, err := r.client.status(ctx)
		r.ResponseTime = time.Since(start)
		if err != nil {
			r.ErrorCount++
		} else {
			r.LastHeartbeat = time.Now()
		}

		age := time.Since(r.LastHeartbeat)
		switch {
		case age > c.cfg.HeartbeatTimeout:
			r.Status = testplan.WorkerTimeout
		case r.ErrorCount > c.cfg.UnhealthyErrors:
			r.Status = testplan.WorkerUnhealthy
		default:
			r.Status = testplan.WorkerConnected
		}
		_ = st
	}
}

// Wait polls until every connected worker is no longer running, then pulls
// each worker's /results and aggregates them keyed by address.
func (c *Coordinator) Wait(ctx context.Context) (AggregatedSummary, error) {
	workers := c.connected()

	for {
		allDone := true
		for _, r := range workers {
			st, err := r.client.status(ctx)
			if err != nil {
				continue
			}
			if st.Running {
				allDone = false
			}
		}
		if allDone {
			break
		}
		select {
		case <-ctx.Done():
			return AggregatedSummary{}, ctx.Err()
		case <-time.After(c.cfg.HeartbeatInterval):
		}
	}

	summary := AggregatedSummary{ByWorker: make(map[string][]testplan.TestResult)}
	for _, r := range workers {
		res, err := r.client.results(ctx)
		if err != nil {
			c.logger.Warn("failed to pull worker results", zap.String("address", r.Address), zap.Error(err))
			continue
		}
		summary.ByWorker[r.Address] = res.Results
		summary.TotalRequests += res.Summary.TotalRequests
	}
	summary.Workers = c.Workers()
	return summary, nil
}

// Stop issues /stop concurrently to every connected worker and tears down
// health polling.
func (c *Coordinator) Stop(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range c.connected() {
		wg.Add(1)
		go func(r *WorkerRecord) {
			defer wg.Done()
			if err := r.client.stop(ctx); err != nil {
				c.logger.Warn("stop failed", zap.String("address", r.Address), zap.Error(err))
			}
		}(r)
	}
	wg.Wait()

	if c.healthCancel != nil {
		c.healthCancel()
		<-c.healthDone
	}
}
