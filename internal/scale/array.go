package scale

import (
	"math"
	"slices"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"go.uber.org/zap"
)

// ChannelReader is the part of the serial link the scales read through.
type ChannelReader interface {
	ReadChannels(samplesPerRead int) ([]float64, error)
	ReadChannelCount() (int, error)
}

// Calibration holds one entry per channel in each vector.
type Calibration struct {
	Offsets      []float64 `json:"offsets,omitempty"`
	OffsetErrors []float64 `json:"offset_errors,omitempty"`
	Slopes       []float64 `json:"slopes,omitempty"`
	SlopeErrors  []float64 `json:"slope_errors,omitempty"`
}

// State is the persisted form of an Array.
type State struct {
	ChannelCount   *int        `json:"channel_count,omitempty"`
	Samples        int         `json:"samples"`
	SamplesPerRead int         `json:"samples_per_read"`
	Calibration    Calibration `json:"calibration"`
}

// Array is the set of load cells behind one device.
type Array struct {
	reader ChannelReader
	cfg    config.ScaleConfig
	logger *zap.Logger

	channelCount int
	initialized  bool
	cal          Calibration
}

func New(reader ChannelReader, cfg config.ScaleConfig, logger *zap.Logger) *Array {
	if cfg.Samples < 1 {
		cfg.Samples = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Array{
		reader: reader,
		cfg:    cfg,
		logger: logger,
	}
}

// Restore replaces the array's channel count and calibration with a saved state.
// Sampling settings stay as configured.
func (a *Array) Restore(s State) {
	a.initialized = s.ChannelCount != nil
	if a.initialized {
		a.channelCount = *s.ChannelCount
	}
	a.cal = Calibration{
		Offsets:      slices.Clone(s.Calibration.Offsets),
		OffsetErrors: slices.Clone(s.Calibration.OffsetErrors),
		Slopes:       slices.Clone(s.Calibration.Slopes),
		SlopeErrors:  slices.Clone(s.Calibration.SlopeErrors),
	}
}

func (a *Array) State() State {
	s := State{
		Samples:        a.cfg.Samples,
		SamplesPerRead: a.cfg.SamplesPerRead,
		Calibration: Calibration{
			Offsets:      slices.Clone(a.cal.Offsets),
			OffsetErrors: slices.Clone(a.cal.OffsetErrors),
			Slopes:       slices.Clone(a.cal.Slopes),
			SlopeErrors:  slices.Clone(a.cal.SlopeErrors),
		},
	}
	if a.initialized {
		n := a.channelCount
		s.ChannelCount = &n
	}
	return s
}

// Begin queries the device for its channel count.
func (a *Array) Begin() error {
	n, err := a.reader.ReadChannelCount()
	if err != nil {
		return &Error{Kind: KindNotInitialized, Message: "channel count query failed", Err: err}
	}
	if n < 1 {
		return newError(KindNotInitialized, "device reported %d channels", n)
	}

	a.channelCount = n
	a.initialized = true
	a.logger.Info("Scales initialized", zap.Int("channels", n))
	return nil
}

// ChannelCount returns the channel count and whether it is known.
func (a *Array) ChannelCount() (int, bool) {
	return a.channelCount, a.initialized
}

func (a *Array) Calibrated() bool {
	return a.hasOffsets() && a.complete(a.cal.Slopes) && a.complete(a.cal.SlopeErrors)
}

// SampleOnce takes one raw multi-channel reading.
func (a *Array) SampleOnce() ([]float64, error) {
	if !a.initialized {
		return nil, newError(KindNotInitialized, "channel count unknown")
	}

	values, err := a.reader.ReadChannels(a.cfg.SamplesPerRead)
	if err != nil {
		return nil, err
	}
	if len(values) != a.channelCount {
		return nil, newError(KindLengthMismatch, "read %d values for %d channels", len(values), a.channelCount)
	}
	return values, nil
}

// SampleStatsRaw takes up to n readings and returns outlier-filtered raw
// statistics. Failed readings are skipped; it fails only when none succeeded.
func (a *Array) SampleStatsRaw(n int) (Stats, error) {
	if !a.initialized {
		return Stats{}, newError(KindNotInitialized, "channel count unknown")
	}
	if n < 1 {
		return Stats{}, newError(KindInvalidArgument, "sample count must be at least 1, got %d", n)
	}

	samples := make([][]float64, 0, n)
	var lastErr error
	for i := 0; i < n; i++ {
		values, err := a.SampleOnce()
		if err != nil {
			lastErr = err
			a.logger.Debug("Scale sample failed", zap.Int("sample", i), zap.Error(err))
			continue
		}
		samples = append(samples, values)
	}

	if len(samples) == 0 {
		return Stats{}, &Error{Kind: KindNoSuccessfulReads, Message: "every sample failed", Err: lastErr}
	}

	stats := newStats(a.channelCount)
	stats.FailedReads = n - len(samples)

	for ch, values := range transpose(samples, a.channelCount) {
		kept, dropped := filterOutliers(values)
		stats.Means[ch], stats.Stdevs[ch] = meanStdev(kept)
		stats.Filtered[ch] = dropped
	}

	if stats.FailedReads > 0 {
		a.logger.Warn("Scale samples failed",
			zap.Int("failed", stats.FailedReads),
			zap.Int("requested", n))
	}

	return stats, nil
}

// CalibrateOffset records the unloaded raw reading of every channel.
func (a *Array) CalibrateOffset() error {
	stats, err := a.SampleStatsRaw(a.cfg.Samples)
	if err != nil {
		return err
	}

	a.cal.Offsets = stats.Means
	a.cal.OffsetErrors = stats.Stdevs
	a.cal.Slopes = nil
	a.cal.SlopeErrors = nil

	a.logger.Info("Scale offsets calibrated", zap.Float64s("offsets", stats.Means))
	return nil
}

// CalibrateSlope derives each channel's slope from a reading taken with the
// given known weights on the scales.
func (a *Array) CalibrateSlope(weights, weightErrors []float64) error {
	if !a.initialized {
		return newError(KindNotInitialized, "channel count unknown")
	}
	if len(weights) != a.channelCount || len(weightErrors) != a.channelCount {
		return newError(KindInvalidArgument, "got %d weights and %d weight errors for %d channels",
			len(weights), len(weightErrors), a.channelCount)
	}
	if !a.hasOffsets() {
		return newError(KindNotCalibrated, "offsets must be calibrated first")
	}

	stats, err := a.SampleStatsRaw(a.cfg.Samples)
	if err != nil {
		return err
	}

	slopes := make([]float64, a.channelCount)
	slopeErrors := make([]float64, a.channelCount)
	for ch := range slopes {
		mean, stdev := stats.Means[ch], stats.Stdevs[ch]
		if mean == 0 {
			return newError(KindInvalidArgument, "raw mean of channel %d is zero", ch)
		}
		offset, offsetErr := a.cal.Offsets[ch], a.cal.OffsetErrors[ch]

		slopes[ch] = (weights[ch] - offset) / mean
		slopeErrors[ch] = math.Sqrt(
			(offsetErr+weightErrors[ch])/(mean*mean) +
				math.Pow(mean-offsetErr, 2)*math.Pow(stdev/(mean*mean), 2))
	}

	a.cal.Slopes = slopes
	a.cal.SlopeErrors = slopeErrors

	a.logger.Info("Scale slopes calibrated", zap.Float64s("slopes", slopes))
	return nil
}

// ReadCalibratedStats converts a raw statistics read into calibrated units.
func (a *Array) ReadCalibratedStats() (Stats, error) {
	if !a.Calibrated() {
		return Stats{}, newError(KindNotCalibrated, "offsets and slopes are required")
	}

	stats, err := a.SampleStatsRaw(a.cfg.Samples)
	if err != nil {
		return Stats{}, err
	}

	for ch := range stats.Means {
		mean, stdev := stats.Means[ch], stats.Stdevs[ch]
		offset, offsetErr := a.cal.Offsets[ch], a.cal.OffsetErrors[ch]
		slope, slopeErr := a.cal.Slopes[ch], a.cal.SlopeErrors[ch]

		stats.Means[ch] = slope * mean * offset
		stats.Stdevs[ch] = math.Sqrt(
			(offsetErr*offsetErr+stdev*stdev)/slope +
				math.Pow(mean-offset, 2)*math.Pow(slopeErr/(slope*slope), 2))
	}

	return stats, nil
}

func (a *Array) hasOffsets() bool {
	return a.complete(a.cal.Offsets) && a.complete(a.cal.OffsetErrors)
}

func (a *Array) complete(v []float64) bool {
	return a.initialized && len(v) == a.channelCount
}
