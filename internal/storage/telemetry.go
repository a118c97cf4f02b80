package storage

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// TimeLayout is the timestamp format of the telemetry log.
const TimeLayout = "2006-01-02_15-04-05"

const missing = "-"

// TelemetryHeader returns the CSV header for a rig with the given channel
// count. Channel suffixes start at 1.
func TelemetryHeader(channels int) []string {
	header := make([]string, 0, 1+5*channels+3)
	header = append(header, "time")
	for i := 1; i <= channels; i++ {
		header = append(header,
			fmt.Sprintf("balanza_avg_%d", i),
			fmt.Sprintf("balanza_std_%d", i),
			fmt.Sprintf("balanza_pump_state_%d", i),
			fmt.Sprintf("n_filtered_%d", i),
			fmt.Sprintf("grams_goals_%d", i),
		)
	}
	return append(header, "n_unsuccessful", "hum", "temp")
}

// Record flattens the row into CSV fields matching TelemetryHeader.
func (r TelemetryRow) Record() []string {
	rec := make([]string, 0, 1+5*len(r.Channels)+3)
	rec = append(rec, r.Time.Format(TimeLayout))

	for _, ch := range r.Channels {
		pump := "0"
		if ch.Pumped {
			pump = "1"
		}
		goal := missing
		if ch.Goal != nil {
			goal = formatFloat(*ch.Goal)
		}
		rec = append(rec, formatFloat(ch.Mean), formatFloat(ch.Stdev), pump, strconv.Itoa(ch.Filtered), goal)
	}

	rec = append(rec, strconv.Itoa(r.FailedReads))
	if r.Ambient == nil {
		return append(rec, missing, missing)
	}
	return append(rec, formatFloat(r.Ambient.Humidity), formatFloat(r.Ambient.Temperature))
}

// ParseTelemetryTime reads a timestamp written by Record, in local time.
func ParseTelemetryTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.Local)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return missing
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
