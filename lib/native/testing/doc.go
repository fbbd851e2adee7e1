// Package testing provides a standardised conformance suite for
// implementations of native.INative.
//
// The suite checks the behaviour the async layer depends on: descriptor
// lifecycle, connect/accept, message boundaries, the ERROR result for
// invalid writes, peer disconnection, readiness sets and socket options.
//
// Example usage:
//
//	func Test(t *testing.T) {
//		network := memnet.NewNetwork()
//		nativetesting.RunNativeTests(t, "memnet", network.Factory())
//	}
//
// The factory must return natives that can reach each other (same network /
// namespace); the suite creates one native for the listening side and one for
// the connecting side, like two independent channels in one process.
package testing
