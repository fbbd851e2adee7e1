package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary
// ----------------------------------------------------------------------------

// Summary describes a series of float samples, e.g. the throughput of
// several benchmark runs
type Summary struct {
	Count        int     `json:"count"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	StdDeviation float64 `json:"std_deviation"`
}

// Summarize computes count, min, max, mean and the population standard
// deviation of values
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	return Summary{
		Count:        len(values),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		StdDeviation: math.Sqrt(sq / float64(len(values))),
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// defaultSizeBoundaries are the upper bounds of the histogram buckets,
// from a single small datagram up to the 16 MiB a bulk read may gather
var defaultSizeBoundaries = []int{
	16, 64, 256, 512, 1024, 1316, 2048, 4096, // datagram range
	16384, 65536, 262144, 1048576, // read buffer range
	4194304, 16777216, // bulk range
}

// SizeHistogram tracks the distribution of chunk sizes in buckets.
//
// Thread-safe: all methods are safe for concurrent use
type SizeHistogram struct {
	mutex      sync.RWMutex
	boundaries []int
	buckets    []int64 // one per boundary plus the overflow bucket
	count      int64
	sum        int64
}

// NewSizeHistogram creates a histogram with buckets from 16 B to 16 MiB
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{
		boundaries: defaultSizeBoundaries,
		buckets:    make([]int64, len(defaultSizeBoundaries)+1),
	}
}

// AddSample records one chunk of the given size
func (h *SizeHistogram) AddSample(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	idx := len(h.boundaries)
	for i, boundary := range h.boundaries {
		if size <= boundary {
			idx = i
			break
		}
	}

	h.buckets[idx]++
	h.count++
	h.sum += int64(size)
}

// Count returns the number of samples
func (h *SizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// Sum returns the sum of all samples
func (h *SizeHistogram) Sum() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.sum
}

// AverageSize returns the exact mean of all samples
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// PercentileEstimate estimates the given percentile (0-100) from the
// buckets. The first bucket reports half its bound, the overflow bucket
// twice the last bound and all others the middle of their range.
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	var cumulative int64
	for i, n := range h.buckets {
		cumulative += n
		if cumulative < target {
			continue
		}
		switch {
		case i == 0:
			return h.boundaries[0] / 2
		case i < len(h.boundaries):
			return (h.boundaries[i-1] + h.boundaries[i]) / 2
		default:
			return h.boundaries[len(h.boundaries)-1] * 2
		}
	}
	return int(h.sum / h.count)
}

// MedianEstimate is PercentileEstimate(50)
func (h *SizeHistogram) MedianEstimate() int {
	return h.PercentileEstimate(50)
}

// Distribution returns the bucket bounds and the share of samples in
// percent per bucket (the last share is the overflow bucket)
func (h *SizeHistogram) Distribution() ([]int, []float64) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	shares := make([]float64, len(h.buckets))
	if h.count == 0 {
		return h.boundaries, shares
	}
	for i, n := range h.buckets {
		shares[i] = float64(n) * 100.0 / float64(h.count)
	}
	return h.boundaries, shares
}

// Reset clears all samples
func (h *SizeHistogram) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.count = 0
	h.sum = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}
