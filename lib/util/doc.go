// Package util provides the small building blocks shared by the async layer
// and the command line tools.
//
// The package contains:
//   - mailbox: an unbounded multi-producer single-consumer queue exposed as a
//     receive channel. The call channel uses one mailbox for requests and one
//     for responses so neither side ever blocks on the other.
//   - chunks: helpers to slice a buffer into MTU sized chunks, clone chunk
//     lists and measure them.
//   - histogram: a SizeHistogram for chunk size distributions and a Summary of
//     float samples (used for benchmark runs).
//   - throughput: a byte meter on top of go-metrics combined with a
//     SizeHistogram of the recorded chunk sizes.
//   - wait: WaitForCondition, a polling helper for tests and tools.
package util
