package machine

import (
	"slices"
	"time"
)

// ChannelStatus is the schedule view of one channel.
type ChannelStatus struct {
	Channel       int
	StepperCoord  int
	ServoAngle    int
	Goal          *float64
	CurrentStep   int
	StepCount     int
	CycleCount    int
	LastStepStart time.Time
	LastWeight    *float64
	Intensity     int
	Unchanged     int
}

// Status is a point-in-time snapshot of a controller.
type Status struct {
	Name            string
	ChannelCount    int
	StepperPosition int
	Calibrated      bool
	Channels        []ChannelStatus
}

func (c *Controller) Status() Status {
	st := Status{
		Name:            c.name,
		ChannelCount:    len(c.positions),
		StepperPosition: c.stepperPosition,
		Calibrated:      c.scales.Calibrated(),
		Channels:        make([]ChannelStatus, len(c.positions)),
	}

	for i, p := range c.positions {
		s := c.schedules[i]
		ch := ChannelStatus{
			Channel:       i,
			StepperCoord:  p.StepperCoord,
			ServoAngle:    p.ServoAngle,
			CurrentStep:   s.CurrentStep,
			StepCount:     len(s.Steps),
			CycleCount:    s.CycleCount,
			LastStepStart: s.LastStepStart,
			Intensity:     c.intensities[i],
			Unchanged:     c.unchangedCounts[i],
		}
		if goal, ok := s.CurrentGoal(); ok {
			ch.Goal = &goal
		}
		if len(c.lastWeights) == len(c.positions) {
			w := c.lastWeights[i]
			ch.LastWeight = &w
		}
		st.Channels[i] = ch
	}
	return st
}

// Intensities returns the current per-channel intensities.
func (c *Controller) Intensities() []int {
	return slices.Clone(c.intensities)
}

func (c *Controller) StepperPosition() int {
	return c.stepperPosition
}
