package util

import (
	"fmt"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Throughput measures the bytes moved over a connection: a go-metrics meter
// for the rates and a SizeHistogram of the individual chunks.
type Throughput struct {
	meter   gometrics.Meter
	sizes   *SizeHistogram
	started time.Time
	stopped atomic.Int64 // unix nanos, 0 while running
}

// NewThroughput starts a new measurement
func NewThroughput() *Throughput {
	return &Throughput{
		meter:   gometrics.NewMeter(),
		sizes:   NewSizeHistogram(),
		started: time.Now(),
	}
}

// Record adds one chunk of n bytes. Non-positive sizes are ignored.
func (t *Throughput) Record(n int) {
	if n <= 0 || t.stopped.Load() != 0 {
		return
	}
	t.meter.Mark(int64(n))
	t.sizes.AddSample(n)
}

// Stop ends the measurement. Later records are ignored.
func (t *Throughput) Stop() {
	if t.stopped.CompareAndSwap(0, time.Now().UnixNano()) {
		t.meter.Stop()
	}
}

// Bytes returns the number of recorded bytes
func (t *Throughput) Bytes() int64 {
	return t.sizes.Sum()
}

// Chunks returns the number of recorded chunks
func (t *Throughput) Chunks() int64 {
	return t.sizes.Count()
}

// Sizes returns the chunk size histogram
func (t *Throughput) Sizes() *SizeHistogram {
	return t.sizes
}

// Elapsed returns the time from start to Stop (or to now while running)
func (t *Throughput) Elapsed() time.Duration {
	if end := t.stopped.Load(); end != 0 {
		return time.Unix(0, end).Sub(t.started)
	}
	return time.Since(t.started)
}

// BytesPerSecond returns the mean rate over the elapsed time
func (t *Throughput) BytesPerSecond() float64 {
	elapsed := t.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.Bytes()) / elapsed
}

// Rate1 returns the one minute moving average in bytes per second
func (t *Throughput) Rate1() float64 {
	return t.meter.Rate1()
}

func (t *Throughput) String() string {
	return fmt.Sprintf("%s in %d chunks (avg %s, p99 %s) in %s: %s/s",
		FormatBytes(t.Bytes()), t.Chunks(),
		FormatBytes(int64(t.sizes.AverageSize())), FormatBytes(int64(t.sizes.PercentileEstimate(99))),
		t.Elapsed().Round(time.Millisecond), FormatBytes(int64(t.BytesPerSecond())))
}

// FormatBytes renders n with a binary unit suffix
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
