package util

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceBufferToChunks(t *testing.T) {
	buffer := bytes.Repeat([]byte("abcdefghij"), 10)

	tests := []struct {
		name   string
		size   int
		chunks int
		last   int
	}{
		{"exact", 10, 10, 10},
		{"remainder", 30, 4, 10},
		{"larger than buffer", 1000, 1, 100},
		{"non-positive size", 0, 1, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SliceBufferToChunks(buffer, tt.size)
			require.Len(t, chunks, tt.chunks)
			assert.Len(t, chunks[len(chunks)-1], tt.last)
			assert.Equal(t, len(buffer), ChunksTotalByteLength(chunks))
			assert.Equal(t, buffer, CopyChunksIntoBuffer(chunks))
		})
	}

	assert.Nil(t, SliceBufferToChunks(nil, 10))
}

func TestSliceBufferToChunksCapsCapacity(t *testing.T) {
	chunks := SliceBufferToChunks(make([]byte, 20), 10)
	// appending to a chunk must not overwrite its neighbour
	chunks[0] = append(chunks[0], 0xff)
	assert.Equal(t, byte(0), chunks[1][0])
}

func TestCloneChunks(t *testing.T) {
	original := [][]byte{[]byte("one"), []byte("two")}
	clones := CloneChunks(original)

	require.Equal(t, original, clones)
	clones[0][0] = 'X'
	assert.Equal(t, "one", string(original[0]))
	assert.Nil(t, CloneChunks(nil))
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	assert.Equal(t, 0, h.MedianEstimate())

	for i := 0; i < 99; i++ {
		h.AddSample(1024)
	}
	h.AddSample(64 << 20)

	assert.Equal(t, int64(100), h.Count())
	assert.Equal(t, int64(99*1024+64<<20), h.Sum())
	assert.Equal(t, (512+1024)/2, h.MedianEstimate())
	assert.Equal(t, 16777216*2, h.PercentileEstimate(100))
	assert.Equal(t, 0, h.PercentileEstimate(101))

	bounds, shares := h.Distribution()
	require.Len(t, shares, len(bounds)+1)
	assert.InDelta(t, 99.0, shares[4], 0.001)
	assert.InDelta(t, 1.0, shares[len(shares)-1], 0.001)

	h.Reset()
	assert.Equal(t, int64(0), h.Count())
	assert.Equal(t, 0, h.AverageSize())
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 8, s.Count)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.Equal(t, 5.0, s.Mean)
	assert.Equal(t, 2.0, s.StdDeviation)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestThroughput(t *testing.T) {
	tp := NewThroughput()
	tp.Record(1000)
	tp.Record(24)
	tp.Record(0)
	tp.Stop()
	tp.Record(5000)

	assert.Equal(t, int64(1024), tp.Bytes())
	assert.Equal(t, int64(2), tp.Chunks())
	elapsed := tp.Elapsed()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, elapsed, tp.Elapsed())
	assert.Contains(t, tp.String(), "1.00 KiB in 2 chunks")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.50 KiB", FormatBytes(1536))
	assert.Equal(t, "8.00 MiB", FormatBytes(8<<20))
}

func TestWaitForCondition(t *testing.T) {
	start := time.Now()
	flip := start.Add(20 * time.Millisecond)
	assert.True(t, WaitForCondition(func() bool { return time.Now().After(flip) }, time.Second, time.Millisecond))

	assert.False(t, WaitForCondition(func() bool { return false }, 10*time.Millisecond, time.Millisecond))
}
