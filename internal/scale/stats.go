package scale

import (
	"math"
	"slices"
)

// Stats is the per-channel result of a statistics read. Means, Stdevs and
// Filtered have one entry per channel; FailedReads counts samples that could
// not be taken at all.
type Stats struct {
	Means       []float64 `json:"means"`
	Stdevs      []float64 `json:"stdevs"`
	Filtered    []int     `json:"filtered"`
	FailedReads int       `json:"failed_reads"`
}

func newStats(channels int) Stats {
	return Stats{
		Means:    make([]float64, channels),
		Stdevs:   make([]float64, channels),
		Filtered: make([]int, channels),
	}
}

// transpose turns samples (one row per read) into one row per channel.
func transpose(samples [][]float64, channels int) [][]float64 {
	out := make([][]float64, channels)
	for ch := range out {
		out[ch] = make([]float64, 0, len(samples))
	}
	for _, sample := range samples {
		for ch := 0; ch < channels; ch++ {
			out[ch] = append(out[ch], sample[ch])
		}
	}
	return out
}

// filterOutliers keeps the values strictly inside the Tukey fences computed
// from integer-index quartiles. When the strict band is empty (all values
// equal) the fences themselves are kept.
func filterOutliers(values []float64) (kept []float64, dropped int) {
	if len(values) == 0 {
		return nil, 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	q1 := sorted[len(sorted)/4]
	q3 := sorted[3*len(sorted)/4]
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	for _, v := range sorted {
		if lower < v && v < upper {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		for _, v := range sorted {
			if lower <= v && v <= upper {
				kept = append(kept, v)
			}
		}
	}

	return kept, len(values) - len(kept)
}

// meanStdev returns the mean and the Bessel-corrected standard deviation.
// A single value has a deviation of zero.
func meanStdev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	if len(values) < 2 {
		return mean, 0
	}

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)-1))
}
