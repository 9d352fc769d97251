package loadpattern

import (
	"context"
	"fmt"

	"github.com/loadforge/loadforge/internal/testplan"
)

// Run dispatches to the phase's named arrival discipline.
func Run(ctx context.Context, phase testplan.LoadPhase, factory VUFactory, recorder StartRecorder) error {
	switch phase.Pattern {
	case testplan.PatternBasic, "":
		return RunBasic(ctx, phase, factory, recorder)
	case testplan.PatternStepping:
		return RunStepping(ctx, phase, factory, recorder)
	case testplan.PatternArrivals:
		return RunArrivals(ctx, phase, factory, recorder)
	default:
		return fmt.Errorf("loadpattern: unknown pattern %q", phase.Pattern)
	}
}

// RunSequence executes every phase in order, stopping early if ctx is
// cancelled or a phase returns an error.
func RunSequence(ctx context.Context, phases []testplan.LoadPhase, factory VUFactory, recorder StartRecorder) error {
	for _, phase := range phases {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := Run(ctx, phase, factory, recorder); err != nil {
			return err
		}
	}
	return nil
}
