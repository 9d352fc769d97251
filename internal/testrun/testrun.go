// Package testrun wires every engine component (template processor, data
// providers, protocol handlers, step executor, rendezvous manager, metrics
// engine, output pipeline and load patterns) into one runnable execution of
// a TestConfiguration. Both the CLI's run command and the worker's
// prepare/start HTTP handlers drive a Run through this package.
package testrun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/loadforge/loadforge/internal/appconfig"
	"github.com/loadforge/loadforge/internal/clock"
	"github.com/loadforge/loadforge/internal/dataprovider"
	"github.com/loadforge/loadforge/internal/loadpattern"
	"github.com/loadforge/loadforge/internal/metrics"
	"github.com/loadforge/loadforge/internal/output"
	"github.com/loadforge/loadforge/internal/protocol"
	"github.com/loadforge/loadforge/internal/protocol/custom"
	"github.com/loadforge/loadforge/internal/rendezvous"
	"github.com/loadforge/loadforge/internal/scripthook"
	"github.com/loadforge/loadforge/internal/step"
	"github.com/loadforge/loadforge/internal/template"
	"github.com/loadforge/loadforge/internal/testplan"
	"github.com/loadforge/loadforge/internal/tracing"
	"github.com/loadforge/loadforge/internal/vu"
)

// Status is the coarse run lifecycle state a worker's /status endpoint
// reports.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusPrepared Status = "prepared"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusComplete Status = "complete"
)

// Run owns one TestConfiguration's execution end to end: it builds every
// collaborator once in Prepare, then Start kicks off the load patterns and
// Stop raises the test-wide cancellation signal.
type Run struct {
	mu     sync.Mutex
	status Status

	config testplan.TestConfiguration
	logger *zap.Logger

	engine      *metrics.Engine
	dispatcher  *output.RealtimeDispatcher
	batch       *output.BatchProcessor
	fileWriters []batchWriter
	executor    *step.Executor

	rendez    *rendezvous.Manager
	hooks     *scripthook.Registry
	providers map[string]*dataprovider.Provider

	appCfg *appconfig.Config
	tracer *tracing.StepTracer

	cancel  context.CancelFunc
	doneCh  chan struct{}
	startAt time.Time
}

type batchWriter interface {
	WriteBatch(batch []testplan.TestResult, batchNumber int) error
}

// New builds an idle Run, ready for Prepare.
func New(logger *zap.Logger) *Run {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Run{status: StatusIdle, logger: logger}
}

// Status returns the run's current lifecycle state.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Config returns the TestConfiguration passed to the most recent Prepare.
func (r *Run) Config() testplan.TestConfiguration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config
}

// Configure attaches ambient process configuration and an optional tracer,
// overriding the metrics/output defaults used by the next Prepare. Either
// argument may be nil. Must be called before Prepare.
func (r *Run) Configure(cfg *appconfig.Config, tracer *tracing.StepTracer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appCfg = cfg
	r.tracer = tracer
}

// Prepare wires every collaborator for cfg but does not start executing.
// Rejected if a run is already prepared or running.
func (r *Run) Prepare(cfg testplan.TestConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == StatusRunning || r.status == StatusPrepared {
		return fmt.Errorf("testrun: prepare rejected, run already %s", r.status)
	}

	resultCap, timelineBucket := 50000, 5*time.Second
	batchSize, flushInterval := 200, 2*time.Second
	var percentiles []float64
	if r.appCfg != nil {
		if r.appCfg.Metrics.ResultCap > 0 {
			resultCap = r.appCfg.Metrics.ResultCap
		}
		if r.appCfg.Metrics.TimelineBucket > 0 {
			timelineBucket = r.appCfg.Metrics.TimelineBucket
		}
		percentiles = r.appCfg.Metrics.Percentiles
		if r.appCfg.Output.BatchSize > 0 {
			batchSize = r.appCfg.Output.BatchSize
		}
		if r.appCfg.Output.FlushInterval > 0 {
			flushInterval = r.appCfg.Output.FlushInterval
		}
	}

	r.config = cfg
	r.engine = metrics.NewEngine(resultCap, percentiles, timelineBucket)
	r.rendez = rendezvous.New()
	r.hooks = scripthook.NewRegistry()
	r.providers = make(map[string]*dataprovider.Provider)

	for _, sc := range cfg.Scenarios {
		if sc.CSVData != nil {
			r.providers[sc.Name] = dataprovider.New(*sc.CSVData)
		}
	}

	handlers := buildHandlers(r.logger, cfg)
	templates := template.New("en", nil)
	stepCfg := step.Config{DefaultTimeout: 30 * time.Second, ContinueOnError: true, Tracer: r.tracer}
	executor := step.New(handlers, templates, r.hooks, r.rendez, r.logger, stepCfg)

	r.fileWriters = buildFileWriters(cfg.Outputs)
	r.dispatcher = buildDispatcher(cfg.Outputs, r.logger)

	r.batch = output.NewBatchProcessor(batchSize, flushInterval, r.onFlush, r.logger)

	r.executor = executor
	r.status = StatusPrepared
	return nil
}

func buildHandlers(logger *zap.Logger, cfg testplan.TestConfiguration) *protocol.Registry {
	reg := protocol.NewRegistry()
	reg.Register(testplan.StepREST, protocol.NewRESTHandler(logger, 30*time.Second))
	reg.Register(testplan.StepSOAP, protocol.NewSOAPHandler(logger, 30*time.Second))
	reg.Register(testplan.StepWeb, protocol.NewWebHandler(logger))
	reg.RegisterCustom("db", custom.NewDBHandler(logger))
	reg.RegisterCustom("kafka", custom.NewKafkaHandler(logger))
	reg.RegisterCustom("redis", custom.NewRedisHandler(logger))
	reg.RegisterCustom("websocket", custom.NewWebSocketHandler(logger))
	return reg
}

func buildFileWriters(outputs []testplan.OutputConfig) []batchWriter {
	var writers []batchWriter
	for _, o := range outputs {
		if o.Type != "file" {
			continue
		}
		switch o.Format {
		case "csv":
			if w, err := output.NewCSVWriter(o.Path); err == nil {
				writers = append(writers, w)
			}
		default:
			if w, err := output.NewJSONLWriter(o.Path); err == nil {
				writers = append(writers, w)
			}
		}
	}
	return writers
}

func buildDispatcher(outputs []testplan.OutputConfig, logger *zap.Logger) *output.RealtimeDispatcher {
	var endpoints []output.Endpoint
	for _, o := range outputs {
		switch o.Type {
		case "graphite", "webhook", "influxdb", "websocket":
			endpoints = append(endpoints, output.Endpoint{Type: o.Type, Target: o.Target, Tags: o.Tags})
		}
	}
	if len(endpoints) == 0 {
		return nil
	}
	return output.NewRealtimeDispatcher(endpoints, time.Now(), logger)
}

func (r *Run) onFlush(batch []testplan.TestResult, batchNumber int) {
	for _, w := range r.fileWriters {
		if err := w.WriteBatch(batch, batchNumber); err != nil && r.logger != nil {
			r.logger.Warn("file writer flush failed", zap.Error(err))
		}
	}
	if r.dispatcher != nil {
		r.dispatcher.Dispatch(batch, batchNumber)
	}
}

// Start begins executing every LoadPhase in sequence. When at lies in the
// future, Start first waits until then; it then returns without waiting for
// the phases, and completion is observed via Status transitioning to
// StatusComplete.
func (r *Run) Start(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	if r.status != StatusPrepared {
		r.mu.Unlock()
		return fmt.Errorf("testrun: start rejected, run is %s", r.status)
	}
	r.status = StatusRunning
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.doneCh = make(chan struct{})
	r.startAt = time.Now()
	r.mu.Unlock()

	if !at.IsZero() {
		if d := time.Until(at); d > 0 {
			if err := clock.Sleep(runCtx, d); err != nil {
				r.finish()
				return nil
			}
		}
	}

	go func() {
		defer r.finish()

		runCtx := runCtx
		var runSpan trace.Span
		if r.tracer != nil {
			runCtx, runSpan = r.tracer.StartTestRun(runCtx, r.config.Name)
			defer runSpan.End()
		}

		factory := func(vuID int) *vu.VU {
			deps := vu.Deps{
				Steps:           r.executor,
				Hooks:           r.hooks,
				Providers:       r.providers,
				Sink:            sinkFunc(r.record),
				Logger:          r.logger,
				GlobalThinkTime: r.config.Global.ThinkTime,
				VUHooks:         r.config.Global.Hooks,
				Tracer:          r.tracer,
			}
			return vu.New(vuID, r.config.Scenarios, deps)
		}
		_ = loadpattern.RunSequence(runCtx, r.config.Load, factory, recorderFunc(r.engine.RecordVUStart))
	}()

	return nil
}

type sinkFunc func(testplan.TestResult)

func (f sinkFunc) Record(r testplan.TestResult) { f(r) }

type recorderFunc func(vuID int, pattern string)

func (f recorderFunc) RecordVUStart(vuID int, pattern string) { f(vuID, pattern) }

func (r *Run) record(res testplan.TestResult) {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	r.engine.Record(res)
	if res.ShouldRecord {
		r.batch.Add(res)
	}
}

func (r *Run) finish() {
	r.batch.Finalize()
	r.mu.Lock()
	r.status = StatusComplete
	close(r.doneCh)
	r.mu.Unlock()
}

// Stop raises the test-wide cancellation signal; running VUs finish their
// current step and exit.
func (r *Run) Stop() {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return
	}
	r.status = StatusStopping
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Results flushes the batch processor synchronously, then returns every
// TestResult the metrics engine has recorded and the composed summary so
// far. The worker's /results handler relies on this flush-first ordering.
func (r *Run) Results() ([]testplan.TestResult, metrics.Summary) {
	r.mu.Lock()
	engine := r.engine
	batch := r.batch
	r.mu.Unlock()
	if engine == nil {
		return nil, metrics.Summary{}
	}
	if batch != nil {
		batch.Flush()
	}
	return engine.Results(), engine.Summarize()
}

// IsRunning reports whether the run is currently executing.
func (r *Run) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == StatusRunning
}

// Done returns a channel closed once the run reaches StatusComplete. Callers
// that started the run synchronously (the CLI's run command) block on it;
// the worker server does not, polling Status instead.
func (r *Run) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doneCh
}
