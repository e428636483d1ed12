package game

import (
	"context"
	"time"
)

// Run drives the fixed-tick loop until ctx is cancelled. Ticks fire on
// absolute deadlines, so a slow tick borrows from the next interval
// instead of drifting. When the loop falls behind it catches up with at
// most MaxCatchUpTicks extra steps per wakeup and then re-anchors,
// trading simulated time for stability under sustained overload.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.TickInterval()
	maxCatchUp := e.cfg.Simulation.MaxCatchUpTicks

	timer := time.NewTimer(interval)
	defer timer.Stop()

	next := time.Now().Add(interval)
	e.log.Info().
		Int("tick_rate", e.cfg.Simulation.TickRate).
		Int("network_rate", e.cfg.Simulation.NetworkRate).
		Msg("simulation started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Uint64("tick", e.Tick()).Msg("simulation stopped")
			return ctx.Err()
		case <-timer.C:
		}

		e.Step()
		next = next.Add(interval)

		// Catch up on missed deadlines, bounded.
		steps := 0
		for time.Now().After(next) && steps < maxCatchUp {
			e.Step()
			next = next.Add(interval)
			steps++
		}
		if steps == maxCatchUp && time.Now().After(next) {
			behind := time.Since(next)
			e.log.Warn().Dur("behind", behind).Msg("tick overrun, re-anchoring clock")
			next = time.Now().Add(interval)
		}

		d := time.Until(next)
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
	}
}
