package storage

import (
	"encoding/json"
	"math"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/scale"
	"github.com/KevinKickass/OpenWateringCore/internal/schedule"
	"github.com/KevinKickass/OpenWateringCore/internal/watering"
)

// RigState is everything persisted for one rig. The serial link is not part
// of it.
type RigState struct {
	Name            string              `json:"name"`
	ChannelCount    int                 `json:"channel_count"`
	Positions       []watering.Position `json:"positions"`
	Scale           scale.State         `json:"scale"`
	Schedules       []schedule.Schedule `json:"schedules"`
	StepperPosition int                 `json:"stepper_position"`

	Intensities     []int     `json:"intensities"`
	UnchangedCounts []int     `json:"unchanged_counts"`
	LastWeights     []float64 `json:"last_weights,omitempty"`
	WateredLastTick []bool    `json:"watered_last_tick,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ChannelSample is one channel's part of a telemetry row.
type ChannelSample struct {
	Mean     float64  `json:"mean"`
	Stdev    float64  `json:"stdev"`
	Pumped   bool     `json:"pumped"`
	Filtered int      `json:"filtered"`
	Goal     *float64 `json:"goal,omitempty"`
}

// MarshalJSON writes a non-finite mean or stdev as null. The calibrated
// stdev is NaN for channels with a negative slope.
func (s ChannelSample) MarshalJSON() ([]byte, error) {
	type plain ChannelSample
	return json.Marshal(struct {
		plain
		Mean  *float64 `json:"mean"`
		Stdev *float64 `json:"stdev"`
	}{plain(s), finite(s.Mean), finite(s.Stdev)})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

type Ambient struct {
	Humidity    float64 `json:"hum"`
	Temperature float64 `json:"temp"`
}

// TelemetryRow summarizes one tick.
type TelemetryRow struct {
	Time        time.Time       `json:"time"`
	Channels    []ChannelSample `json:"channels"`
	FailedReads int             `json:"failed_reads"`
	Ambient     *Ambient        `json:"ambient,omitempty"`
}
