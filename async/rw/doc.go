// Package rw provides chunked reads and paced writes on top of a dispatcher.
//
// ReadChunks reads until a minimum number of bytes has been gathered. Failed
// reads (native.ERROR, or nil once the peer is gone) are tolerated up to a
// configurable threshold so a dead connection cannot keep the loop alive.
//
// WriteChunksYielding and WriteChunksScheduled write a list of chunks in
// batches of at most writesPerTick pipelined writes. Between two batches the
// first yields the goroutine, the second schedules the next batch on a timer.
// Both report every write to onWrite with its byte count and chunk index and
// stop with common.ErrWriteFailed as soon as a write returns ERROR or zero
// bytes, so a zero byte write is never reported as a success.
//
// ReaderWriter binds both to one descriptor and slices buffers by MTU.
package rw
