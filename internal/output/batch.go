// Package output implements the batch processor, file writers, real-time
// dispatcher and optional time-series writer that make up the result
// delivery side of the engine.
package output

import (
	"context"
	"sync"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
	"go.uber.org/zap"
)

// FlushFunc receives one flushed batch along with its sequence number.
type FlushFunc func(batch []testplan.TestResult, batchNumber int)

// BatchProcessor buffers TestResult values and flushes them once the buffer
// reaches batchSize or every interval, whichever comes first. Exactly one
// flush handler is registered at construction; Finalize flushes whatever is
// left.
type BatchProcessor struct {
	mu          sync.Mutex
	buf         []testplan.TestResult
	batchSize   int
	interval    time.Duration
	flush       FlushFunc
	batchNumber int
	logger      *zap.Logger
}

// NewBatchProcessor builds a BatchProcessor. batchSize <= 0 disables
// size-triggered flushing (interval-only); interval <= 0 disables the
// ticker (size-only).
func NewBatchProcessor(batchSize int, interval time.Duration, flush FlushFunc, logger *zap.Logger) *BatchProcessor {
	return &BatchProcessor{batchSize: batchSize, interval: interval, flush: flush, logger: logger}
}

// Add appends one result, flushing immediately if the buffer has reached
// batchSize.
func (p *BatchProcessor) Add(r testplan.TestResult) {
	p.mu.Lock()
	p.buf = append(p.buf, r)
	shouldFlush := p.batchSize > 0 && len(p.buf) >= p.batchSize
	p.mu.Unlock()

	if shouldFlush {
		p.Flush()
	}
}

// Flush drains the current buffer (if non-empty) through the flush handler.
func (p *BatchProcessor) Flush() {
	p.mu.Lock()
	if len(p.buf) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.buf
	p.buf = nil
	p.batchNumber++
	n := p.batchNumber
	p.mu.Unlock()

	if p.flush != nil {
		p.flush(batch, n)
	}
}

// Run ticks Flush every interval until ctx is cancelled. Callers that only
// want size-triggered flushing can skip calling Run.
func (p *BatchProcessor) Run(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Flush()
		}
	}
}

// Finalize flushes any residual buffered results; call once after the
// producer side has stopped.
func (p *BatchProcessor) Finalize() {
	p.Flush()
}
