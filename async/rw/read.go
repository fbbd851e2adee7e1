package rw

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/async/dispatch"
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rw")

// ICaller issues native calls without waiting for their answers.
// *dispatch.Dispatcher implements it.
type ICaller interface {
	Call(method native.Method, args []any, opts ...dispatch.CallOption) *dispatch.Future
}

// ReadOptions tune ReadChunks
type ReadOptions struct {
	// OnRead receives every chunk read, in order
	OnRead func(chunk []byte)
	// OnError receives every failed read: native.ERROR, or nil when the
	// peer is gone
	OnError func(result any)
	// MaxFailures is the number of failed reads tolerated, the next one ends
	// the read. Zero ends it on the first failure.
	MaxFailures int
	// ResetOnData resets the failure count after every successful read, so
	// only consecutive failures count
	ResetOnData bool
}

// DefaultReadOptions tolerate a single failure between two successful reads
func DefaultReadOptions() ReadOptions {
	return ReadOptions{
		MaxFailures: common.DefaultMaxReadFailures,
		ResetOnData: true,
	}
}

// ReadChunks reads messages of at most readBufSize bytes from fd until at
// least minBytes have been read.
//
// The read ends early, returning the chunks gathered so far, once more
// failures than opts.MaxFailures have been counted. Any read result other
// than data, nil or native.ERROR fails with common.ErrUnexpectedResult, a
// call that produced no answer (disposed dispatcher, ctx) fails with its
// error. Both return the chunks read before.
func ReadChunks(ctx context.Context, c ICaller, fd int, minBytes int, readBufSize int, opts ReadOptions) ([][]byte, error) {
	if readBufSize <= 0 {
		readBufSize = common.DefaultReadBufferSize
	}

	var (
		chunks    [][]byte
		bytesRead int
		failures  int
	)

	for bytesRead < minBytes {
		v, err := c.Call(native.MethodRead, []any{fd, readBufSize}).Await(ctx)
		if err != nil {
			return chunks, fmt.Errorf("read %d of %d bytes from %d: %w", bytesRead, minBytes, fd, err)
		}

		switch r := v.(type) {
		case []byte:
			bytesRead += len(r)
			common.BytesRead.Add(len(r))
			if opts.OnRead != nil {
				opts.OnRead(r)
			}
			chunks = append(chunks, r)
			if opts.ResetOnData {
				failures = 0
			}
			continue
		case nil:
		case native.Result:
			if r != native.ERROR {
				return chunks, fmt.Errorf("%w: read from %d returned %s", common.ErrUnexpectedResult, fd, r)
			}
		default:
			return chunks, fmt.Errorf("%w: read from %d returned %T", common.ErrUnexpectedResult, fd, v)
		}

		// v is nil or ERROR
		if failures >= opts.MaxFailures {
			Logger.Debugf("read from %d gave up after %d failures with %d of %d bytes", fd, failures+1, bytesRead, minBytes)
			return chunks, nil
		}
		failures++
		if opts.OnError != nil {
			opts.OnError(v)
		}
	}
	return chunks, nil
}
