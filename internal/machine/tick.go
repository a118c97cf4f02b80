package machine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/KevinKickass/OpenWateringCore/internal/scale"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"github.com/KevinKickass/OpenWateringCore/internal/watering"
	"go.uber.org/zap"
)

// TickResult summarizes one tick.
type TickResult struct {
	Row     storage.TelemetryRow
	Watered []int
}

// Tick runs one control cycle: read the scales, adapt intensities, advance
// the schedules, water the channels that need it along the shortest path,
// log telemetry and save.
func (c *Controller) Tick(ctx context.Context) (*TickResult, error) {
	stats, err := c.readStats(ctx)
	if err != nil {
		return nil, err
	}

	n := len(c.positions)
	if len(stats.Means) != n || len(stats.Stdevs) != n {
		return nil, &Error{
			Kind:    KindChannelCountMismatch,
			Rig:     c.name,
			Message: fmt.Sprintf("read %d channels, rig has %d", len(stats.Means), n),
		}
	}

	now := c.now()
	c.adaptIntensities(stats.Means)

	needs := make([]bool, n)
	goals := make([]*float64, n)
	for i, s := range c.schedules {
		mean := stats.Means[i]
		s.Update(mean, now)

		if goal, ok := s.CurrentGoal(); ok {
			goals[i] = &goal
		}
		if !s.ShouldWater(mean) {
			continue
		}
		if mean < 0 {
			c.logger.Error("Refusing to water channel with negative weight",
				zap.Int("channel", i),
				zap.Float64("weight", mean))
			continue
		}
		needs[i] = true
	}

	watered := make([]bool, n)
	var waterErr error
	if slices.Contains(needs, true) {
		order, err := c.plan(needs)
		if err != nil {
			return nil, err
		}
		for _, i := range order {
			if err := c.Water(ctx, i, c.intensities[i]); err != nil {
				waterErr = fmt.Errorf("failed to water channel %d: %w", i, err)
				break
			}
			watered[i] = true
		}
	}

	row := storage.TelemetryRow{
		Time:        now,
		Channels:    make([]storage.ChannelSample, n),
		FailedReads: stats.FailedReads,
	}
	for i := range row.Channels {
		row.Channels[i] = storage.ChannelSample{
			Mean:     stats.Means[i],
			Stdev:    stats.Stdevs[i],
			Pumped:   watered[i],
			Filtered: stats.Filtered[i],
			Goal:     goals[i],
		}
	}
	if env, err := c.device.ReadEnvironment(); err != nil {
		c.logger.Warn("Ambient reading unavailable", zap.Error(err))
	} else {
		row.Ambient = &storage.Ambient{Humidity: env.Humidity, Temperature: env.Temperature}
	}

	c.lastWeights = slices.Clone(stats.Means)
	c.wateredLastTick = watered

	result := &TickResult{Row: row}
	for i, w := range watered {
		if w {
			result.Watered = append(result.Watered, i)
		}
	}

	var errs []error
	if waterErr != nil {
		errs = append(errs, waterErr)
	}
	if err := c.telemetry.AppendTelemetry(ctx, c.name, row); err != nil {
		errs = append(errs, &Error{Kind: KindPersistence, Rig: c.name, Message: "failed to append telemetry", Err: err})
	}
	if err := c.Save(ctx); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info("Tick complete",
		zap.Float64s("weights", stats.Means),
		zap.Ints("watered", result.Watered),
		zap.Ints("intensities", c.intensities),
		zap.Int("failed_reads", stats.FailedReads))

	return result, errors.Join(errs...)
}

// readStats retries failed reads until a calibrated read succeeds or ctx is
// done. Length checks happen on the successful read.
func (c *Controller) readStats(ctx context.Context) (scale.Stats, error) {
	for attempt := 1; ; attempt++ {
		stats, err := c.scales.ReadCalibratedStats()
		if err == nil {
			return stats, nil
		}
		// Missing calibration or channel count cannot be fixed by retrying.
		// Everything else, including reads that all failed, is transient.
		var se *scale.Error
		if errors.As(err, &se) && (se.Kind == scale.KindNotCalibrated || se.Kind == scale.KindNotInitialized) {
			return scale.Stats{}, err
		}
		c.logger.Warn("Scale read failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if err := c.sleep(ctx, c.cfg.StatsRetryDelay); err != nil {
			return scale.Stats{}, err
		}
	}
}

// adaptIntensities compares the weights against the previous tick for every
// channel watered then.
func (c *Controller) adaptIntensities(means []float64) {
	if len(c.lastWeights) != len(means) || len(c.wateredLastTick) != len(means) {
		return
	}
	p := c.cfg.Intensity

	for i, mean := range means {
		if !c.wateredLastTick[i] {
			continue
		}
		diff := mean - c.lastWeights[i]

		switch {
		case diff < p.MinDiffGrams:
			if c.unchangedCounts[i] >= p.MaxUnchangedTimes {
				c.intensities[i]++
				c.unchangedCounts[i] = 0
				c.logger.Info("Raising intensity",
					zap.Int("channel", i),
					zap.Int("intensity", c.intensities[i]),
					zap.Float64("diff", diff))
			} else {
				c.unchangedCounts[i]++
			}
		case diff > p.MaxDiffGrams:
			c.intensities[i] = max(c.intensities[i]-p.LoweringRate, 0)
			c.unchangedCounts[i] = 0
			c.logger.Info("Lowering intensity",
				zap.Int("channel", i),
				zap.Int("intensity", c.intensities[i]),
				zap.Float64("diff", diff))
		}
	}
}

// plan orders the channels that need water by minimal stepper travel,
// starting at the current stepper coordinate.
func (c *Controller) plan(needs []bool) ([]int, error) {
	var (
		candidates []watering.Position
		channels   []int
	)
	for i, need := range needs {
		if need {
			candidates = append(candidates, c.positions[i])
			channels = append(channels, i)
		}
	}

	// Anchor the path at the stepper. Without a candidate there a stand-in
	// position is prepended and dropped from the result.
	anchored := slices.ContainsFunc(candidates, func(p watering.Position) bool {
		return p.StepperCoord == c.stepperPosition
	})
	if !anchored {
		candidates = append([]watering.Position{{StepperCoord: c.stepperPosition}}, candidates...)
		channels = append([]int{-1}, channels...)
	}

	order, err := watering.FindMinimalDistancePath(candidates, c.stepperPosition)
	if err != nil {
		return nil, &Error{Kind: KindRouting, Rig: c.name, Message: "no watering path", Err: err}
	}

	path := make([]int, 0, len(order))
	for _, idx := range order {
		if ch := channels[idx]; ch >= 0 {
			path = append(path, ch)
		}
	}
	return path, nil
}
