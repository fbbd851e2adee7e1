package rw

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/lib/util"
)

// ReaderWriter reads and writes chunks on one descriptor
type ReaderWriter struct {
	caller ICaller
	fd     int
	config common.ReadWriteConfig
}

// NewReaderWriter binds c and fd with the given configuration. Zero sizes,
// a negative MaxReadFailures and an empty Writer take their defaults.
func NewReaderWriter(c ICaller, fd int, config common.ReadWriteConfig) *ReaderWriter {
	def := common.DefaultReadWriteConfig()
	if config.MTU <= 0 {
		config.MTU = def.MTU
	}
	if config.WritesPerTick <= 0 {
		config.WritesPerTick = def.WritesPerTick
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = def.ReadBufferSize
	}
	if config.MaxReadFailures < 0 {
		config.MaxReadFailures = def.MaxReadFailures
	}
	if config.Writer == "" {
		config.Writer = def.Writer
	}
	return &ReaderWriter{caller: c, fd: fd, config: config}
}

// FD returns the descriptor
func (rw *ReaderWriter) FD() int {
	return rw.fd
}

// Config returns the effective configuration
func (rw *ReaderWriter) Config() common.ReadWriteConfig {
	return rw.config
}

// WriteChunks slices buffer into MTU sized copies and writes them with the
// configured writer. buffer stays owned by the caller.
func (rw *ReaderWriter) WriteChunks(ctx context.Context, buffer []byte, onWrite WriteFunc) error {
	var write func(ctx context.Context, c ICaller, fd int, chunks [][]byte, onWrite WriteFunc, writesPerTick int) error
	switch rw.config.Writer {
	case common.WriterYielding:
		write = WriteChunksYielding
	case common.WriterScheduled:
		write = WriteChunksScheduled
	default:
		return fmt.Errorf("%w: writer %q", common.ErrInvalidArgument, rw.config.Writer)
	}

	chunks := util.CloneChunks(util.SliceBufferToChunks(buffer, rw.config.MTU))
	return write(ctx, rw.caller, rw.fd, chunks, onWrite, rw.config.WritesPerTick)
}

// ReadChunks reads at least minBytes with the configured buffer size and
// failure tolerance. onRead and onError may be nil.
func (rw *ReaderWriter) ReadChunks(ctx context.Context, minBytes int, onRead func([]byte), onError func(any)) ([][]byte, error) {
	return ReadChunks(ctx, rw.caller, rw.fd, minBytes, rw.config.ReadBufferSize, ReadOptions{
		OnRead:      onRead,
		OnError:     onError,
		MaxFailures: rw.config.MaxReadFailures,
		ResetOnData: true,
	})
}
