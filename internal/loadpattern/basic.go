package loadpattern

import (
	"context"
	"time"

	"github.com/loadforge/loadforge/internal/clock"
	"github.com/loadforge/loadforge/internal/testplan"
)

// RunBasic ramps linearly from 0 to VirtualUsers over RampUp, holds at
// VirtualUsers for Duration, then stops every running VU and returns. The
// ramp spacing (a tick checking elapsed-vs-rampup progress) mirrors a fixed
// ramp-up VU spawner; VU count at any instant is a simple linear
// interpolation, same as an open-model scheduler's ramp-up progress math
// adapted to a closed (fixed population) model.
func RunBasic(ctx context.Context, phase testplan.LoadPhase, factory VUFactory, recorder StartRecorder) error {
	rampUp, err := durationOrZero(phase.RampUp)
	if err != nil {
		return err
	}
	duration, err := durationOrZero(phase.Duration)
	if err != nil {
		return err
	}

	phaseEnd := time.Now().Add(rampUp + duration)
	p := newPool(factory, recorder, string(testplan.PatternBasic))

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()

	p.scaleTo(ctx, targetVUs(phase.VirtualUsers, 0, rampUp), phaseEnd)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			elapsed := time.Since(start)
			if elapsed >= rampUp+duration {
				break loop
			}
			p.scaleTo(ctx, targetVUs(phase.VirtualUsers, elapsed, rampUp), phaseEnd)
		}
	}

	p.stopAll()
	p.wait()
	return nil
}

func targetVUs(total int, elapsed, rampUp time.Duration) int {
	if rampUp <= 0 || elapsed >= rampUp {
		return total
	}
	progress := float64(elapsed) / float64(rampUp)
	n := int(float64(total) * progress)
	if n < 1 {
		n = 1
	}
	return n
}

func durationOrZero(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return clock.ParseDuration(raw)
}
