package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/types"
)

var ErrInvalidStep = errors.New("invalid schedule step")

// Step is one target weight held for at least Dwell.
type Step struct {
	TargetWeight    float64        `json:"weight" yaml:"weight"`
	Dwell           types.Duration `json:"dwell" yaml:"dwell"`
	WeightThreshold float64        `json:"weight_threshold" yaml:"weight_threshold"`
	// MaxWeightDifference, when set, makes the goal the band target ± value.
	MaxWeightDifference *float64 `json:"max_weight_difference,omitempty" yaml:"max_weight_difference,omitempty"`
}

func NewStep(target float64, dwell time.Duration, threshold float64, maxDiff *float64) (Step, error) {
	s := Step{
		TargetWeight:        target,
		Dwell:               types.Duration{Duration: dwell},
		WeightThreshold:     threshold,
		MaxWeightDifference: maxDiff,
	}
	if err := s.Validate(); err != nil {
		return Step{}, err
	}
	return s, nil
}

func (s Step) Validate() error {
	if s.WeightThreshold < 0 {
		return fmt.Errorf("%w: weight threshold must not be negative, got %v", ErrInvalidStep, s.WeightThreshold)
	}
	if s.Dwell.Duration < 0 {
		return fmt.Errorf("%w: dwell must not be negative, got %s", ErrInvalidStep, s.Dwell)
	}
	if s.MaxWeightDifference == nil {
		return nil
	}
	m := *s.MaxWeightDifference
	if m < 0 {
		return fmt.Errorf("%w: max weight difference must not be negative, got %v", ErrInvalidStep, m)
	}
	// the goal band would be unreachable
	if s.WeightThreshold-1 >= m {
		return fmt.Errorf("%w: weight threshold %v minus 1 must stay below max weight difference %v",
			ErrInvalidStep, s.WeightThreshold, m)
	}
	return nil
}

// Schedule walks a plant through a sequence of target weights. A schedule
// without steps is always in goal and never waters.
type Schedule struct {
	Steps  []Step `json:"steps" yaml:"steps"`
	Cyclic bool   `json:"cyclic" yaml:"cyclic"`

	CurrentStep     int       `json:"curr_step" yaml:"-"`
	LastStepStart   time.Time `json:"last_step_start" yaml:"-"`
	LastStepsWeight *float64  `json:"last_steps_weight,omitempty" yaml:"-"`
	CycleCount      int       `json:"cycle_count" yaml:"-"`
}

func New(steps []Step, cyclic bool) (*Schedule, error) {
	s := &Schedule{Steps: steps, Cyclic: cyclic}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks every step and the cursor of a schedule, which may come
// from storage.
func (s *Schedule) Validate() error {
	for i, step := range s.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	if s.CurrentStep < 0 || (len(s.Steps) > 0 && s.CurrentStep >= len(s.Steps)) || (len(s.Steps) == 0 && s.CurrentStep != 0) {
		return fmt.Errorf("%w: cursor %d out of range for %d steps", ErrInvalidStep, s.CurrentStep, len(s.Steps))
	}
	return nil
}

func (s *Schedule) Null() bool {
	return len(s.Steps) == 0
}

func (s *Schedule) step() Step {
	return s.Steps[s.CurrentStep]
}

// InGoal reports whether weight satisfies the current step.
func (s *Schedule) InGoal(weight float64) bool {
	if s.Null() {
		return true
	}

	step := s.step()
	if step.MaxWeightDifference != nil {
		m := *step.MaxWeightDifference
		return step.TargetWeight-m <= weight && weight <= step.TargetWeight+m
	}

	// Without a band the direction of travel decides. No history yet means
	// there is nothing to compare against.
	if s.LastStepsWeight == nil {
		return false
	}
	last := *s.LastStepsWeight
	goal := step.TargetWeight - step.WeightThreshold

	switch {
	case !s.Cyclic && s.CycleCount >= 1:
		// final step of a finished schedule: hold the weight up
		return weight >= goal
	case step.TargetWeight > last:
		return weight >= goal
	case step.TargetWeight < last:
		return weight <= goal
	default:
		return true
	}
}

func (s *Schedule) ShouldWater(weight float64) bool {
	if s.Null() || s.InGoal(weight) {
		return false
	}
	return s.step().TargetWeight > weight
}

// Update feeds a fresh weight reading. The cursor advances once the current
// step has been active for at least its dwell; a zero dwell advances on every
// update.
func (s *Schedule) Update(weight float64, now time.Time) {
	if s.Null() {
		return
	}
	if s.LastStepStart.IsZero() {
		s.LastStepStart = now
	}

	if now.Sub(s.LastStepStart) >= s.step().Dwell.Duration {
		s.advance(weight, now)
	}

	if s.LastStepsWeight == nil {
		w := weight
		s.LastStepsWeight = &w
	}
}

func (s *Schedule) advance(weight float64, now time.Time) {
	s.CurrentStep++
	if s.CurrentStep >= len(s.Steps) {
		if s.Cyclic {
			s.CurrentStep = 0
			s.CycleCount++
		} else {
			s.CurrentStep = len(s.Steps) - 1
			s.CycleCount = 1
		}
	}

	w := weight
	s.LastStepsWeight = &w
	s.LastStepStart = now
}

// CurrentGoal returns the current target weight, or false for a null schedule.
func (s *Schedule) CurrentGoal() (float64, bool) {
	if s.Null() {
		return 0, false
	}
	return s.step().TargetWeight, true
}
