package machine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenWateringCore/internal/scale"
	"github.com/KevinKickass/OpenWateringCore/internal/watering"
	"go.uber.org/zap"
)

// GoHome parks the servo at the access angle and returns the stepper to 0.
func (c *Controller) GoHome(ctx context.Context) error {
	if err := c.device.MoveServo(c.cfg.AccessAngle); err != nil {
		return fmt.Errorf("failed to park servo: %w", err)
	}
	if err := c.MoveStepperSafe(ctx, 0, true); err != nil {
		return err
	}
	if err := c.device.SetServoAttached(false); err != nil {
		return fmt.Errorf("failed to detach servo: %w", err)
	}
	c.logger.Info("Rig homed")
	return nil
}

// VisitPositions aims at every position in channel order and calls visit
// after each one. A visit error stops the tour; the servo is detached either
// way.
func (c *Controller) VisitPositions(ctx context.Context, visit func(channel int, p watering.Position) error) (err error) {
	defer func() {
		if detachErr := c.device.SetServoAttached(false); detachErr != nil && err == nil {
			err = fmt.Errorf("failed to detach servo: %w", detachErr)
		}
	}()

	for i, p := range c.positions {
		if err := c.device.MoveServo(c.cfg.AccessAngle); err != nil {
			return fmt.Errorf("failed to park servo: %w", err)
		}
		if err := c.MoveStepperSafe(ctx, p.StepperCoord, true); err != nil {
			return err
		}
		c.pause(c.cfg.SettleDelay)
		if err := c.device.MoveServo(p.ServoAngle); err != nil {
			return fmt.Errorf("failed to aim servo at channel %d: %w", i, err)
		}
		if visit != nil {
			if err := visit(i, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// WaterTest waters one channel on demand. A negative intensity uses the
// channel's adapted intensity. Schedules are not touched.
func (c *Controller) WaterTest(ctx context.Context, channel, intensity int) error {
	if err := c.checkIndex(channel); err != nil {
		return err
	}
	if intensity < 0 {
		intensity = c.intensities[channel]
	}
	c.logger.Info("Manual watering", zap.Int("channel", channel), zap.Int("intensity", intensity))
	return c.Water(ctx, channel, intensity)
}

// Weights takes one calibrated statistics read.
func (c *Controller) Weights() (scale.Stats, error) {
	return c.scales.ReadCalibratedStats()
}

// CalibrateOffset records the unloaded scale readings and saves. Stepper and
// servo are detached first so they do not load the scales.
func (c *Controller) CalibrateOffset(ctx context.Context) error {
	if err := c.device.SetStepperAttached(false); err != nil {
		return fmt.Errorf("failed to detach stepper: %w", err)
	}
	if err := c.device.SetServoAttached(false); err != nil {
		return fmt.Errorf("failed to detach servo: %w", err)
	}
	if err := c.scales.CalibrateOffset(); err != nil {
		return err
	}
	return c.Save(ctx)
}

// CalibrateSlope calibrates against known weights and saves.
func (c *Controller) CalibrateSlope(ctx context.Context, weights, weightErrors []float64) error {
	if err := c.scales.CalibrateSlope(weights, weightErrors); err != nil {
		return err
	}
	return c.Save(ctx)
}

// ParseKnownWeights parses "(w1,w2,...)-err": one weight per channel and a
// shared uncertainty, e.g. "(500,500,250)-0.5".
func ParseKnownWeights(input string, channels int) (weights, weightErrors []float64, err error) {
	input = strings.TrimSpace(input)
	open := strings.Index(input, "(")
	closing := strings.LastIndex(input, ")")
	if open != 0 || closing < open {
		return nil, nil, fmt.Errorf("expected (w1,...,wn)-err, got %q", input)
	}

	rest := strings.TrimSpace(input[closing+1:])
	errText, ok := strings.CutPrefix(rest, "-")
	if !ok {
		return nil, nil, fmt.Errorf("missing -err suffix in %q", input)
	}
	shared, err := strconv.ParseFloat(strings.TrimSpace(errText), 64)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid weight error %q: %w", errText, err)
	}

	fields := strings.Split(input[open+1:closing], ",")
	if len(fields) != channels {
		return nil, nil, fmt.Errorf("got %d weights for %d channels", len(fields), channels)
	}
	for _, f := range fields {
		w, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid weight %q: %w", f, err)
		}
		weights = append(weights, w)
		weightErrors = append(weightErrors, shared)
	}
	return weights, weightErrors, nil
}
