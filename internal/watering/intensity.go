package watering

import (
	"fmt"
	"math"
)

// IntensityConfig maps a watering intensity step to an output value (pump
// time in ms or pump duty). The value holds at InitialValue for the first
// StepsNotIncrementing steps, ramps linearly and reaches FinalValue at Steps.
type IntensityConfig struct {
	InitialValue         int `json:"initial_value" yaml:"initial_value"`
	FinalValue           int `json:"final_value" yaml:"final_value"`
	Steps                int `json:"n_steps" yaml:"n_steps"`
	StepsNotIncrementing int `json:"n_steps_not_incrementing" yaml:"n_steps_not_incrementing"`
}

func NewIntensityConfig(initial, final, steps, stepsNotIncrementing int) (IntensityConfig, error) {
	c := IntensityConfig{
		InitialValue:         initial,
		FinalValue:           final,
		Steps:                steps,
		StepsNotIncrementing: stepsNotIncrementing,
	}
	if err := c.Validate(); err != nil {
		return IntensityConfig{}, err
	}
	return c, nil
}

func (c IntensityConfig) Validate() error {
	if c.InitialValue > c.FinalValue {
		return fmt.Errorf("%w: initial value %d greater than final value %d", ErrInvalid, c.InitialValue, c.FinalValue)
	}
	if c.StepsNotIncrementing < 0 {
		return fmt.Errorf("%w: negative steps not incrementing %d", ErrInvalid, c.StepsNotIncrementing)
	}
	if c.Steps < c.StepsNotIncrementing {
		return fmt.Errorf("%w: total steps %d smaller than steps not incrementing %d", ErrInvalid, c.Steps, c.StepsNotIncrementing)
	}
	return nil
}

// Eval returns the value for intensity step t, rounded half away from zero.
func (c IntensityConfig) Eval(t int) int {
	if t < c.StepsNotIncrementing {
		return c.InitialValue
	}
	if t >= c.Steps {
		return c.FinalValue
	}

	span := float64(c.Steps - c.StepsNotIncrementing)
	rise := float64(c.FinalValue - c.InitialValue)
	progress := float64(t-c.StepsNotIncrementing) / span

	return int(math.Round(progress*rise)) + c.InitialValue
}
