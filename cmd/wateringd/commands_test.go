package main

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/KevinKickass/OpenWateringCore/internal/schedule"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintStatus(t *testing.T) {
	state := &storage.RigState{
		Name:            "sys_1",
		ChannelCount:    2,
		StepperPosition: 1200,
		Schedules: []schedule.Schedule{
			{Steps: []schedule.Step{{TargetWeight: 100}, {TargetWeight: 250}}, CurrentStep: 1, CycleCount: 2},
			{},
		},
		Intensities: []int{3, 0},
		LastWeights: []float64{98.31, 40},
		UpdatedAt:   time.Now().Add(-time.Hour),
	}

	var out bytes.Buffer
	printStatus(&out, state)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "rig sys_1: 2 channels, stepper at 1,200, calibrated: false")
	assert.Contains(t, lines[0], "1 hour ago")
	assert.Contains(t, lines[1], "2nd of 2 steps, goal 250 g, cycle 2")
	assert.Contains(t, lines[1], "last weight 98.3 g")
	assert.Contains(t, lines[1], "intensity 3")
	assert.Contains(t, lines[2], "no schedule")
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(" (1,2)-0.5 \nlast"))

	line, err := readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "(1,2)-0.5", line)

	line, err = readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "last", line)

	_, err = readLine(r)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger(config.LoggingConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = newLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
