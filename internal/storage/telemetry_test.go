package storage

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goal(v float64) *float64 { return &v }

func TestTelemetryHeader(t *testing.T) {
	got := strings.Join(TelemetryHeader(2), ",")
	want := "time," +
		"balanza_avg_1,balanza_std_1,balanza_pump_state_1,n_filtered_1,grams_goals_1," +
		"balanza_avg_2,balanza_std_2,balanza_pump_state_2,n_filtered_2,grams_goals_2," +
		"n_unsuccessful,hum,temp"
	assert.Equal(t, want, got)
}

func TestTelemetryRow_Record(t *testing.T) {
	ts := time.Date(2024, 6, 9, 7, 5, 3, 0, time.UTC)

	t.Run("complete", func(t *testing.T) {
		row := TelemetryRow{
			Time: ts,
			Channels: []ChannelSample{
				{Mean: 80.5, Stdev: 0.25, Pumped: true, Filtered: 2, Goal: goal(100)},
				{Mean: 120, Stdev: 1, Pumped: false, Filtered: 0, Goal: goal(100)},
			},
			FailedReads: 1,
			Ambient:     &Ambient{Humidity: 45.5, Temperature: 21},
		}

		assert.Equal(t,
			"2024-06-09_07-05-03,80.5,0.25,1,2,100,120,1,0,0,100,1,45.5,21",
			strings.Join(row.Record(), ","))
		assert.Len(t, row.Record(), len(TelemetryHeader(2)))
	})

	t.Run("missing goal and ambient", func(t *testing.T) {
		row := TelemetryRow{
			Time:     ts,
			Channels: []ChannelSample{{Mean: 10, Stdev: 0}},
		}

		assert.Equal(t, "2024-06-09_07-05-03,10,0,0,0,-,0,-,-", strings.Join(row.Record(), ","))
	})

	t.Run("non-finite values", func(t *testing.T) {
		row := TelemetryRow{
			Time:     ts,
			Channels: []ChannelSample{{Mean: -80, Stdev: math.NaN()}, {Mean: math.Inf(1), Stdev: 1}},
		}

		assert.Equal(t, "2024-06-09_07-05-03,-80,-,0,0,-,-,1,0,0,-,0,-,-", strings.Join(row.Record(), ","))
	})
}

func TestTelemetryRow_JSONNonFinite(t *testing.T) {
	row := TelemetryRow{
		Time: time.Date(2024, 6, 9, 7, 5, 3, 0, time.UTC),
		Channels: []ChannelSample{
			{Mean: -80, Stdev: math.NaN(), Filtered: 1, Goal: goal(100)},
			{Mean: 120, Stdev: 0.5, Pumped: true},
		},
	}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"time": "2024-06-09T07:05:03Z",
		"channels": [
			{"mean": -80, "stdev": null, "pumped": false, "filtered": 1, "goal": 100},
			{"mean": 120, "stdev": 0.5, "pumped": true, "filtered": 0}
		],
		"failed_reads": 0
	}`, string(data))
}

func TestParseTelemetryTime(t *testing.T) {
	parsed, err := ParseTelemetryTime("2024-06-09_07-05-03")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-09_07-05-03", parsed.Format(TimeLayout))
}
