package watering

import (
	"cmp"
	"errors"
	"fmt"
)

var (
	ErrInvalid = errors.New("invalid watering configuration")
	// ErrEmpty is returned when there is nothing to route.
	ErrEmpty = errors.New("no positions to route")
	// ErrNotFound is returned when no position sits at the start coordinate.
	ErrNotFound = errors.New("start coordinate not among positions")
)

// Position is where the actuator waters one channel. Identity and ordering
// use only the stepper coordinate and the servo angle.
type Position struct {
	StepperCoord int             `json:"stepper" yaml:"stepper"`
	ServoAngle   int             `json:"servo" yaml:"servo"`
	TimeCurve    IntensityConfig `json:"water_time_curve" yaml:"water_time_curve"`
	PWMCurve     IntensityConfig `json:"water_pwm_curve" yaml:"water_pwm_curve"`
}

func NewPosition(stepper, servo int, timeCurve, pwmCurve IntensityConfig) (Position, error) {
	p := Position{
		StepperCoord: stepper,
		ServoAngle:   servo,
		TimeCurve:    timeCurve,
		PWMCurve:     pwmCurve,
	}
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	return p, nil
}

func (p Position) Validate() error {
	if p.ServoAngle < 1 || p.ServoAngle > 179 {
		return fmt.Errorf("%w: servo angle must be in [1, 179], got %d", ErrInvalid, p.ServoAngle)
	}
	if err := p.TimeCurve.Validate(); err != nil {
		return fmt.Errorf("time curve: %w", err)
	}
	if err := p.PWMCurve.Validate(); err != nil {
		return fmt.Errorf("pwm curve: %w", err)
	}
	if p.PWMCurve.InitialValue < 0 || p.PWMCurve.FinalValue > 100 {
		return fmt.Errorf("%w: pwm curve must stay within [0, 100]", ErrInvalid)
	}
	if p.TimeCurve.InitialValue < 0 {
		return fmt.Errorf("%w: time curve must not be negative", ErrInvalid)
	}
	return nil
}

func (p Position) Equal(other Position) bool {
	return p.StepperCoord == other.StepperCoord && p.ServoAngle == other.ServoAngle
}

// Compare orders by stepper coordinate, then servo angle.
func (p Position) Compare(other Position) int {
	if c := cmp.Compare(p.StepperCoord, other.StepperCoord); c != 0 {
		return c
	}
	return cmp.Compare(p.ServoAngle, other.ServoAngle)
}

func (p Position) Distance(other Position) int {
	d := other.StepperCoord - p.StepperCoord
	if d < 0 {
		return -d
	}
	return d
}
