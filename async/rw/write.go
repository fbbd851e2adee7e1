package rw

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/async/dispatch"
	"github.com/ValentinKolb/asyncsrt/lib/native"
)

// WriteFunc receives the byte count and the chunk index of every successful write
type WriteFunc func(bytes int, chunkIndex int)

// writeBatch pipelines the writes of chunks[start:] up to writesPerTick and
// waits for all of them. It returns the index of the next chunk.
func writeBatch(ctx context.Context, c ICaller, fd int, chunks [][]byte, start, writesPerTick int, onWrite WriteFunc) (int, error) {
	end := min(start+writesPerTick, len(chunks))

	results := make([]*dispatch.Future, 0, end-start)
	for i := start; i < end; i++ {
		results = append(results, c.Call(native.MethodWrite, []any{fd, chunks[i]}))
	}

	for i, f := range results {
		idx := start + i
		v, err := f.Await(ctx)
		if err != nil {
			return idx, fmt.Errorf("write chunk %d to %d: %w", idx, fd, err)
		}
		n, ok := v.(int)
		if !ok {
			return idx, fmt.Errorf("%w: write to %d returned %T", common.ErrUnexpectedResult, fd, v)
		}
		if n <= 0 {
			return idx, fmt.Errorf("%w: chunk %d of %d bytes to %d returned %d", common.ErrWriteFailed, idx, len(chunks[idx]), fd, n)
		}

		common.BytesWritten.Add(n)
		if onWrite != nil {
			onWrite(n, idx)
		}
	}
	return end, nil
}

func normalizeWritesPerTick(n int) int {
	if n <= 0 {
		return common.DefaultWritesPerTick
	}
	return n
}

// WriteChunksYielding writes all chunks to fd in batches of writesPerTick,
// yielding the goroutine between two batches. The chunks are handed over to
// the channel.
func WriteChunksYielding(ctx context.Context, c ICaller, fd int, chunks [][]byte, onWrite WriteFunc, writesPerTick int) error {
	writesPerTick = normalizeWritesPerTick(writesPerTick)

	for next := 0; next < len(chunks); {
		var err error
		if next, err = writeBatch(ctx, c, fd, chunks, next, writesPerTick, onWrite); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

// WriteChunksScheduled writes all chunks to fd in batches of writesPerTick.
// Every batch after the first runs from a timer scheduled by its predecessor.
// It returns when the last batch is done. The chunks are handed over to the
// channel.
func WriteChunksScheduled(ctx context.Context, c ICaller, fd int, chunks [][]byte, onWrite WriteFunc, writesPerTick int) error {
	writesPerTick = normalizeWritesPerTick(writesPerTick)
	done := make(chan error, 1)

	var step func(start int)
	step = func(start int) {
		next, err := writeBatch(ctx, c, fd, chunks, start, writesPerTick, onWrite)
		switch {
		case err != nil:
			done <- err
		case next >= len(chunks):
			done <- nil
		case ctx.Err() != nil:
			done <- ctx.Err()
		default:
			time.AfterFunc(0, func() { step(next) })
		}
	}

	if len(chunks) == 0 {
		return nil
	}
	step(0)
	return <-done
}
