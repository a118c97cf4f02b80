package scale

import (
	"errors"
	"math"
	"testing"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type reading struct {
	values []float64
	err    error
}

// fakeReader hands out scripted readings in order and then repeats the last one.
type fakeReader struct {
	count    int
	countErr error
	readings []reading
	calls    int
	perRead  []int
}

func (r *fakeReader) ReadChannelCount() (int, error) {
	return r.count, r.countErr
}

func (r *fakeReader) ReadChannels(samplesPerRead int) ([]float64, error) {
	r.perRead = append(r.perRead, samplesPerRead)
	i := r.calls
	if i >= len(r.readings) {
		i = len(r.readings) - 1
	}
	r.calls++
	return r.readings[i].values, r.readings[i].err
}

func constant(values ...float64) []reading {
	return []reading{{values: values}}
}

func newTestArray(t *testing.T, reader *fakeReader, samples int) *Array {
	t.Helper()
	a := New(reader, config.ScaleConfig{Samples: samples, SamplesPerRead: 10}, zap.NewNop())
	require.NoError(t, a.Begin())
	return a
}

func TestBegin(t *testing.T) {
	a := New(&fakeReader{count: 3}, config.ScaleConfig{Samples: 1}, zap.NewNop())

	_, ok := a.ChannelCount()
	assert.False(t, ok)

	require.NoError(t, a.Begin())
	n, ok := a.ChannelCount()
	assert.True(t, ok)
	assert.Equal(t, 3, n)
}

func TestBegin_QueryFails(t *testing.T) {
	a := New(&fakeReader{countErr: errors.New("no reply")}, config.ScaleConfig{Samples: 1}, zap.NewNop())

	err := a.Begin()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotInitialized))
}

func TestNotInitialized(t *testing.T) {
	a := New(&fakeReader{count: 2, readings: constant(1, 2)}, config.ScaleConfig{Samples: 3}, zap.NewNop())

	_, err := a.SampleOnce()
	assert.True(t, IsKind(err, KindNotInitialized))

	_, err = a.SampleStatsRaw(3)
	assert.True(t, IsKind(err, KindNotInitialized))

	err = a.CalibrateOffset()
	assert.True(t, IsKind(err, KindNotInitialized))
}

func TestSampleOnce(t *testing.T) {
	reader := &fakeReader{count: 2, readings: []reading{{values: []float64{1, 2}}, {values: []float64{1, 2, 3}}}}
	a := newTestArray(t, reader, 1)

	values, err := a.SampleOnce()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, values)
	assert.Equal(t, []int{10}, reader.perRead)

	_, err = a.SampleOnce()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindLengthMismatch))
}

func TestSampleStatsRaw_FiltersOutlier(t *testing.T) {
	var readings []reading
	for _, v := range []float64{3, 100, 1, 5, 2, 4} {
		readings = append(readings, reading{values: []float64{v, 7}})
	}
	a := newTestArray(t, &fakeReader{count: 2, readings: readings}, 6)

	stats, err := a.SampleStatsRaw(6)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, stats.Means[0], 1e-9)
	assert.InDelta(t, math.Sqrt(2.5), stats.Stdevs[0], 1e-9)
	assert.Equal(t, 1, stats.Filtered[0])

	// identical values survive the degenerate band
	assert.InDelta(t, 7.0, stats.Means[1], 1e-9)
	assert.Equal(t, 0.0, stats.Stdevs[1])
	assert.Equal(t, 0, stats.Filtered[1])

	assert.Equal(t, 0, stats.FailedReads)
}

func TestSampleStatsRaw_ToleratesFailures(t *testing.T) {
	for channels := 1; channels <= 5; channels++ {
		good := make([]float64, channels)
		for i := range good {
			good[i] = float64(i + 1)
		}
		reader := &fakeReader{count: channels, readings: []reading{
			{err: errors.New("timeout")},
			{values: good},
			{values: []float64{1}},
			{values: good},
			{err: errors.New("timeout")},
		}}
		if channels == 1 {
			// a single value is the right length for one channel
			reader.readings[2] = reading{values: []float64{1, 2}}
		}
		a := newTestArray(t, reader, 5)

		stats, err := a.SampleStatsRaw(5)
		require.NoError(t, err)
		assert.Len(t, stats.Means, channels)
		assert.Len(t, stats.Stdevs, channels)
		assert.Len(t, stats.Filtered, channels)
		assert.Equal(t, 3, stats.FailedReads)
		assert.InDelta(t, good[channels-1], stats.Means[channels-1], 1e-9)
	}
}

func TestSampleStatsRaw_NoSuccessfulReads(t *testing.T) {
	for _, n := range []int{1, 2, 10} {
		reader := &fakeReader{count: 2, readings: []reading{{err: errors.New("timeout")}}}
		a := newTestArray(t, reader, n)

		_, err := a.SampleStatsRaw(n)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindNoSuccessfulReads))
		assert.Equal(t, n, reader.calls)
	}
}

func TestSampleStatsRaw_InvalidCount(t *testing.T) {
	a := newTestArray(t, &fakeReader{count: 1, readings: constant(1)}, 1)

	_, err := a.SampleStatsRaw(0)
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestCalibration(t *testing.T) {
	reader := &fakeReader{count: 2, readings: constant(10, 20)}
	a := newTestArray(t, reader, 4)

	_, err := a.ReadCalibratedStats()
	assert.True(t, IsKind(err, KindNotCalibrated))

	err = a.CalibrateSlope([]float64{100, 200}, []float64{1, 1})
	assert.True(t, IsKind(err, KindNotCalibrated))

	require.NoError(t, a.CalibrateOffset())
	assert.False(t, a.Calibrated())
	assert.Equal(t, []float64{10, 20}, a.State().Calibration.Offsets)
	assert.Equal(t, []float64{0, 0}, a.State().Calibration.OffsetErrors)

	err = a.CalibrateSlope([]float64{100}, []float64{1, 1})
	assert.True(t, IsKind(err, KindInvalidArgument))

	reader.readings = constant(50, 90)
	reader.calls = 0
	require.NoError(t, a.CalibrateSlope([]float64{110, 200}, []float64{2, 0.5}))
	assert.True(t, a.Calibrated())

	cal := a.State().Calibration
	assert.InDelta(t, (110.0-10)/50, cal.Slopes[0], 1e-9)
	assert.InDelta(t, (200.0-20)/90, cal.Slopes[1], 1e-9)
	// offset errors and raw stdevs are zero, leaving sqrt(weightErr/mean²)
	assert.InDelta(t, math.Sqrt(2.0/2500), cal.SlopeErrors[0], 1e-12)
	assert.InDelta(t, math.Sqrt(0.5/8100), cal.SlopeErrors[1], 1e-12)

	stats, err := a.ReadCalibratedStats()
	require.NoError(t, err)
	assert.InDelta(t, cal.Slopes[0]*50*10, stats.Means[0], 1e-9)
	assert.InDelta(t, cal.Slopes[1]*90*20, stats.Means[1], 1e-9)
	wantStdev := math.Sqrt(math.Pow(50-10, 2) * math.Pow(cal.SlopeErrors[0]/(cal.Slopes[0]*cal.Slopes[0]), 2))
	assert.InDelta(t, wantStdev, stats.Stdevs[0], 1e-9)
}

func TestCalibrateSlope_ZeroMean(t *testing.T) {
	reader := &fakeReader{count: 1, readings: constant(0)}
	a := newTestArray(t, reader, 2)
	require.NoError(t, a.CalibrateOffset())

	err := a.CalibrateSlope([]float64{100}, []float64{1})
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestStateRestore(t *testing.T) {
	reader := &fakeReader{count: 2, readings: constant(10, 20)}
	a := newTestArray(t, reader, 3)
	require.NoError(t, a.CalibrateOffset())
	reader.readings = constant(50, 90)
	require.NoError(t, a.CalibrateSlope([]float64{110, 200}, []float64{1, 1}))

	saved := a.State()
	require.NotNil(t, saved.ChannelCount)
	assert.Equal(t, 2, *saved.ChannelCount)

	b := New(reader, config.ScaleConfig{Samples: 3}, zap.NewNop())
	b.Restore(saved)
	assert.True(t, b.Calibrated())
	assert.Equal(t, saved.Calibration, b.State().Calibration)

	// the restored copy does not alias the saved vectors
	saved.Calibration.Slopes[0] = -1
	assert.NotEqual(t, -1.0, b.State().Calibration.Slopes[0])
}
