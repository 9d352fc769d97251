package loadpattern

import (
	"context"
	"time"

	"github.com/loadforge/loadforge/internal/testplan"
)

// RunStepping walks phase.Steps in order, ramping the running population
// toward each step's Users over its RampUp and then holding there for its
// Duration, without tearing the pool down between steps — only the delta
// in population is started or stopped at each transition.
func RunStepping(ctx context.Context, phase testplan.LoadPhase, factory VUFactory, recorder StartRecorder) error {
	p := newPool(factory, recorder, string(testplan.PatternStepping))
	defer func() {
		p.stopAll()
		p.wait()
	}()

	for _, st := range phase.Steps {
		rampUp, err := durationOrZero(st.RampUp)
		if err != nil {
			return err
		}
		duration, err := durationOrZero(st.Duration)
		if err != nil {
			return err
		}

		from := p.count()
		stepStart := time.Now()
		stepEnd := stepStart.Add(rampUp + duration)

		ticker := time.NewTicker(100 * time.Millisecond)
	ramp:
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return nil
			case <-ticker.C:
				elapsed := time.Since(stepStart)
				if elapsed >= rampUp {
					p.scaleTo(ctx, st.Users, time.Time{})
					break ramp
				}
				p.scaleTo(ctx, interpolate(from, st.Users, elapsed, rampUp), time.Time{})
			}
		}
		ticker.Stop()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(stepEnd)):
		}
	}
	return nil
}

func interpolate(from, to int, elapsed, rampUp time.Duration) int {
	if rampUp <= 0 {
		return to
	}
	progress := float64(elapsed) / float64(rampUp)
	if progress > 1 {
		progress = 1
	}
	return from + int(float64(to-from)*progress)
}
