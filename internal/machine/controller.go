package machine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/KevinKickass/OpenWateringCore/internal/scale"
	"github.com/KevinKickass/OpenWateringCore/internal/schedule"
	"github.com/KevinKickass/OpenWateringCore/internal/serial"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"github.com/KevinKickass/OpenWateringCore/internal/watering"
	"go.uber.org/zap"
)

// Device is the actuator side of the microcontroller. *serial.Link
// implements it.
type Device interface {
	OK() (bool, error)
	ReadChannelCount() (int, error)
	ReadEnvironment() (serial.Environment, error)
	MoveStepper(delta int, detach bool) error
	MoveServo(angle int) error
	ActuatePump(durationMs, intensity int) error
	SetStepperAttached(attached bool) error
	SetServoAttached(attached bool) error
}

// Deps are the collaborators a controller is built with.
type Deps struct {
	Device    Device
	Scales    *scale.Array
	States    storage.StateStore
	Telemetry storage.TelemetrySink
	Config    config.ControllerConfig
	Logger    *zap.Logger
}

// Controller owns one rig: its positions, schedules, scales and the device
// link. It is not safe for concurrent use; the lifecycle manager is its only
// caller while running.
type Controller struct {
	name      string
	device    Device
	scales    *scale.Array
	states    storage.StateStore
	telemetry storage.TelemetrySink
	cfg       config.ControllerConfig
	logger    *zap.Logger

	positions       []watering.Position
	schedules       []*schedule.Schedule
	stepperPosition int

	intensities     []int
	unchangedCounts []int
	lastWeights     []float64
	wateredLastTick []bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a controller for a fresh rig. Positions and schedules must have
// one entry per channel; the name is registered only when everything else
// checks out.
func New(reg *Registry, name string, positions []watering.Position, schedules []*schedule.Schedule, deps Deps) (*Controller, error) {
	if len(positions) != len(schedules) {
		return nil, &Error{
			Kind:    KindChannelCountMismatch,
			Rig:     name,
			Message: fmt.Sprintf("%d positions but %d schedules", len(positions), len(schedules)),
		}
	}
	if n, ok := deps.Scales.ChannelCount(); ok && n != len(positions) {
		return nil, &Error{
			Kind:    KindChannelCountMismatch,
			Rig:     name,
			Message: fmt.Sprintf("%d positions but the scales have %d channels", len(positions), n),
		}
	}
	for i, p := range positions {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
	}
	for i, s := range schedules {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
	}

	if err := reg.Register(name); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	n := len(positions)
	return &Controller{
		name:            name,
		device:          deps.Device,
		scales:          deps.Scales,
		states:          deps.States,
		telemetry:       deps.Telemetry,
		cfg:             deps.Config,
		logger:          logger.With(zap.String("rig", name)),
		positions:       slices.Clone(positions),
		schedules:       schedules,
		intensities:     make([]int, n),
		unchangedCounts: make([]int, n),
		now:             time.Now,
		sleep:           sleepContext,
	}, nil
}

// Load rebuilds a controller from the state saved under name. The scales are
// restored from the saved calibration.
func Load(ctx context.Context, reg *Registry, name string, deps Deps) (*Controller, error) {
	state, err := deps.States.LoadRig(ctx, name)
	if err != nil {
		return nil, err
	}
	return FromState(reg, state, deps)
}

// FromState rebuilds a controller from a saved record. The scales are only
// restored once the controller has been built.
func FromState(reg *Registry, state *storage.RigState, deps Deps) (*Controller, error) {
	n := len(state.Positions)
	if state.ChannelCount != n {
		return nil, &Error{
			Kind:    KindChannelCountMismatch,
			Rig:     state.Name,
			Message: fmt.Sprintf("stored channel count %d but %d positions", state.ChannelCount, n),
		}
	}

	schedules := make([]*schedule.Schedule, len(state.Schedules))
	for i := range state.Schedules {
		s := state.Schedules[i]
		schedules[i] = &s
	}

	if sc := state.Scale.ChannelCount; sc != nil && *sc != n {
		return nil, &Error{
			Kind:    KindChannelCountMismatch,
			Rig:     state.Name,
			Message: fmt.Sprintf("stored scale state has %d channels, rig has %d", *sc, n),
		}
	}

	c, err := New(reg, state.Name, state.Positions, schedules, deps)
	if err != nil {
		return nil, err
	}
	deps.Scales.Restore(state.Scale)

	c.stepperPosition = state.StepperPosition
	if len(state.Intensities) == n {
		c.intensities = slices.Clone(state.Intensities)
	}
	if len(state.UnchangedCounts) == n {
		c.unchangedCounts = slices.Clone(state.UnchangedCounts)
	}
	if len(state.LastWeights) == n && len(state.WateredLastTick) == n {
		c.lastWeights = slices.Clone(state.LastWeights)
		c.wateredLastTick = slices.Clone(state.WateredLastTick)
	}
	return c, nil
}

func (c *Controller) Name() string {
	return c.name
}

func (c *Controller) ChannelCount() int {
	return len(c.positions)
}

// State returns the persistable record of the controller.
func (c *Controller) State() *storage.RigState {
	schedules := make([]schedule.Schedule, len(c.schedules))
	for i, s := range c.schedules {
		schedules[i] = *s
		schedules[i].Steps = slices.Clone(s.Steps)
	}
	return &storage.RigState{
		Name:            c.name,
		ChannelCount:    len(c.positions),
		Positions:       slices.Clone(c.positions),
		Scale:           c.scales.State(),
		Schedules:       schedules,
		StepperPosition: c.stepperPosition,
		Intensities:     slices.Clone(c.intensities),
		UnchangedCounts: slices.Clone(c.unchangedCounts),
		LastWeights:     slices.Clone(c.lastWeights),
		WateredLastTick: slices.Clone(c.wateredLastTick),
	}
}

// Save persists the controller state.
func (c *Controller) Save(ctx context.Context) error {
	if err := c.states.SaveRig(ctx, c.State()); err != nil {
		return &Error{Kind: KindPersistence, Rig: c.name, Message: "failed to save state", Err: err}
	}
	return nil
}

// Begin waits for the device, detaches the stepper and checks that the
// device reports as many channels as the rig has positions.
func (c *Controller) Begin(ctx context.Context) error {
	if err := c.scales.Begin(); err != nil {
		return fmt.Errorf("failed to initialize scales: %w", err)
	}

	c.logger.Info("Waiting for device")
	for {
		ready, err := c.device.OK()
		if ready {
			break
		}
		if err != nil {
			c.logger.Debug("Device not ready", zap.Error(err))
		}
		if err := c.sleep(ctx, c.cfg.BeginPollDelay); err != nil {
			return err
		}
	}

	if err := c.device.SetStepperAttached(false); err != nil {
		return fmt.Errorf("failed to detach stepper: %w", err)
	}

	var count int
	for {
		n, err := c.device.ReadChannelCount()
		if err == nil {
			count = n
			break
		}
		c.logger.Warn("Channel count not available", zap.Error(err))
		if err := c.sleep(ctx, c.cfg.BeginPollDelay); err != nil {
			return err
		}
	}

	if count != len(c.positions) {
		return &Error{
			Kind:    KindChannelCountMismatch,
			Rig:     c.name,
			Message: fmt.Sprintf("device reports %d channels, rig has %d positions", count, len(c.positions)),
		}
	}

	c.logger.Info("Device ready", zap.Int("channels", count))
	return nil
}

// MoveStepperSafe moves the stepper to an absolute coordinate. The target
// is persisted before the move is issued, so a crash mid-move leaves the
// stored coordinate at the destination. If the device rejects the move the
// previous coordinate is restored and persisted again.
func (c *Controller) MoveStepperSafe(ctx context.Context, target int, detach bool) error {
	if target == c.stepperPosition {
		return nil
	}

	start := c.stepperPosition
	c.stepperPosition = target
	if err := c.Save(ctx); err != nil {
		c.stepperPosition = start
		return err
	}

	if err := c.device.MoveStepper(target-start, detach); err != nil {
		c.stepperPosition = start
		c.logger.Error("Stepper move failed, keeping previous coordinate",
			zap.Int("from", start),
			zap.Int("to", target),
			zap.Error(err))
		if saveErr := c.Save(ctx); saveErr != nil {
			return errors.Join(err, saveErr)
		}
		return fmt.Errorf("failed to move stepper to %d: %w", target, err)
	}

	c.logger.Debug("Stepper moved", zap.Int("from", start), zap.Int("to", target))
	return nil
}

// Water drives to channel i's position and runs the pump at the given
// intensity.
func (c *Controller) Water(ctx context.Context, i int, intensity int) error {
	if err := c.checkIndex(i); err != nil {
		return err
	}
	pos := c.positions[i]

	if err := c.device.MoveServo(c.cfg.AccessAngle); err != nil {
		return fmt.Errorf("failed to park servo: %w", err)
	}
	if err := c.MoveStepperSafe(ctx, pos.StepperCoord, true); err != nil {
		return err
	}
	// let the arm stop swinging
	c.pause(c.cfg.SettleDelay)

	if err := c.device.MoveServo(pos.ServoAngle); err != nil {
		return fmt.Errorf("failed to aim servo: %w", err)
	}

	durationMs := pos.TimeCurve.Eval(intensity)
	pwm := pos.PWMCurve.Eval(intensity)
	if err := c.device.ActuatePump(durationMs, pwm); err != nil {
		return fmt.Errorf("failed to run pump: %w", err)
	}

	if err := c.device.SetServoAttached(false); err != nil {
		return fmt.Errorf("failed to detach servo: %w", err)
	}

	c.logger.Info("Channel watered",
		zap.Int("channel", i),
		zap.Int("intensity", intensity),
		zap.Int("duration_ms", durationMs),
		zap.Int("pwm", pwm))
	return nil
}

func (c *Controller) checkIndex(i int) error {
	if i < 0 || i >= len(c.positions) {
		return &Error{
			Kind:    KindInvalidIndex,
			Rig:     c.name,
			Message: fmt.Sprintf("channel %d out of range [0, %d)", i, len(c.positions)),
		}
	}
	return nil
}

// pause sleeps without observing cancellation; device sequences are not
// interrupted halfway.
func (c *Controller) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	_ = c.sleep(context.Background(), d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
