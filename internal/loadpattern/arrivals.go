package loadpattern

import (
	"context"
	"sync"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
	"golang.org/x/time/rate"
)

// RunArrivals drives an open-model schedule: a token-bucket limiter paced at
// phase.Rate (ramped linearly over RampUp, same progress math as the closed
// models) releases one arrival at a time; each arrival spawns exactly one VU
// with lifetime VUDuration (if zero, the VU runs its scenario loop once and
// exits). Arrivals keep coming for Duration+RampUp regardless of how many
// prior arrivals are still in flight — the open model's defining property.
func RunArrivals(ctx context.Context, phase testplan.LoadPhase, factory VUFactory, recorder StartRecorder) error {
	rampUp, err := durationOrZero(phase.RampUp)
	if err != nil {
		return err
	}
	duration, err := durationOrZero(phase.Duration)
	if err != nil {
		return err
	}
	vuDuration, err := durationOrZero(phase.VUDuration)
	if err != nil {
		return err
	}

	initialRate := phase.Rate
	if rampUp > 0 {
		initialRate = phase.Rate / 100 // start near zero, ramped by the updater below
		if initialRate <= 0 {
			initialRate = 0.1
		}
	}
	limiter := rate.NewLimiter(rate.Limit(initialRate), 1)

	phaseCtx, cancel := context.WithTimeout(ctx, rampUp+duration)
	defer cancel()

	var wg sync.WaitGroup
	nextID := 0

	if rampUp > 0 {
		go rampLimiter(phaseCtx, limiter, phase.Rate, rampUp)
	}

	for {
		if err := limiter.Wait(phaseCtx); err != nil {
			break
		}

		vuID := nextID
		nextID++
		if recorder != nil {
			recorder.RecordVUStart(vuID, string(testplan.PatternArrivals))
		}

		var until time.Time
		if vuDuration > 0 {
			until = time.Now().Add(vuDuration)
		}

		v := factory(vuID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = v.Run(ctx, until)
		}()
	}

	wg.Wait()
	return nil
}

func rampLimiter(ctx context.Context, limiter *rate.Limiter, target float64, rampUp time.Duration) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			if elapsed >= rampUp {
				limiter.SetLimit(rate.Limit(target))
				return
			}
			progress := float64(elapsed) / float64(rampUp)
			limiter.SetLimit(rate.Limit(target * progress))
		}
	}
}
