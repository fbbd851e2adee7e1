// Package memnet implements native.INative as an in-process simulated network.
//
// All natives created from one Network share a descriptor space and a port
// space, like the sockets of a single process sharing one native library.
// A listener bound to a port accepts connections from any native of the same
// network; the host part of an address is ignored.
//
// Behaviour that the async layer relies on:
//
//   - messages keep their boundaries; a write larger than SRTO_PAYLOADSIZE (default 1316) fails
//   - zero-length writes fail
//   - reads and writes block by default (SRTO_RCVSYN / SRTO_SNDSYN) and honour SRTO_RCVTIMEO / SRTO_SNDTIMEO
//   - writes block while the peer's receive queue holds SRTO_RCVBUF bytes
//   - a socket whose peer closed reports SockBroken; queued messages can still be read, after that Read returns nil
//   - readiness sets are level-triggered and report sockets in registration order
//
// Example usage:
//
//	network := memnet.NewNetwork()
//	d := dispatch.New(network.Factory(), common.DefaultDispatcherConfig())
package memnet
