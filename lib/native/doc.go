// Package native defines the synchronous socket operation set that the async
// layer funnels through its background channel.
//
// The operation set mirrors the C API of a message-oriented transport library:
// integer descriptors, result codes instead of errors, an epoll-like readiness
// set and per-socket options. Implementations are not required to be safe for
// concurrent use; the async layer guarantees that every call on an INative
// instance comes from a single goroutine.
//
// The package contains:
//   - native: the INative contract, the Factory type and the optional ILastErrorReporter
//   - enums: result codes, socket states, epoll flags and log levels
//   - sockopt: socket option identifiers and their metadata table
//   - method: an enumeration of the operations, used as the wire "method" of a call
//
// Two implementations live in subpackages:
//   - memnet: an in-process simulated network, available on every platform
//   - unixnet: a kernel-backed implementation on AF_UNIX SOCK_SEQPACKET sockets and epoll (linux)
//
// The testing subpackage provides a conformance suite shared by both.
//
// Read semantics are the same for every implementation:
//
//	data available           -> the bytes (at most the requested size, one message)
//	peer gone, queue drained -> nil with OK
//	failure / would block    -> nil with ERROR
package native
