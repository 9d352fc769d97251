// Package loadpattern drives VU population over time according to one of
// the three arrival disciplines a LoadPhase names: basic (fixed target with
// linear ramp), stepping (a staircase of fixed-population holds) and
// arrivals (open-model request-rate pacing).
package loadpattern

import (
	"context"
	"sync"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
	"github.com/loadforge/loadforge/internal/vu"
)

// VUFactory builds the VU bound to vuID. Scenarios and shared Deps are
// already closed over by the caller.
type VUFactory func(vuID int) *vu.VU

// StartRecorder is fed one event per VU spawned, for the metrics timeline's
// active-VU curve.
type StartRecorder interface {
	RecordVUStart(vuID int, pattern string)
}

// pool tracks the set of currently-running VUs so Basic/Stepping can scale
// the population up or down without tearing down the whole run, mirroring
// the add/remove idiom of a VU pool that scales to a target count rather
// than restarting from zero on every adjustment.
type pool struct {
	mu       sync.Mutex
	factory  VUFactory
	recorder StartRecorder
	pattern  string
	wg       sync.WaitGroup
	nextID   int
	cancels  []context.CancelFunc
}

func newPool(factory VUFactory, recorder StartRecorder, pattern string) *pool {
	return &pool{factory: factory, recorder: recorder, pattern: pattern}
}

func (p *pool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

// scaleTo adjusts the running population to n, starting new VUs (each
// running until phaseEnd, or indefinitely if phaseEnd is zero) or stopping
// the most recently started ones.
func (p *pool) scaleTo(ctx context.Context, n int, phaseEnd time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.cancels) < n {
		vuID := p.nextID
		p.nextID++
		vctx, cancel := context.WithCancel(ctx)
		p.cancels = append(p.cancels, cancel)
		if p.recorder != nil {
			p.recorder.RecordVUStart(vuID, p.pattern)
		}
		v := p.factory(vuID)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			_ = v.Run(vctx, phaseEnd)
		}()
	}
	for len(p.cancels) > n {
		last := len(p.cancels) - 1
		p.cancels[last]()
		p.cancels = p.cancels[:last]
	}
}

func (p *pool) stopAll() {
	p.mu.Lock()
	for _, cancel := range p.cancels {
		cancel()
	}
	p.cancels = nil
	p.mu.Unlock()
}

func (p *pool) wait() {
	p.wg.Wait()
}
