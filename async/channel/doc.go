// Package channel implements the call channel: a single background worker
// that owns one native instance and executes native operations on behalf of
// a dispatcher.
//
// Requests are posted to an unbounded mailbox and executed strictly one after
// another in the order they were posted. Every request produces exactly one
// response, delivered in the same order, so the dispatcher can match
// responses to calls by position alone.
//
// Response values mirror the native operation set: descriptors and byte
// counts are ints, result codes are native.Result, states native.SockStatus.
// Read answers with the data, nil when the peer is gone, or native.ERROR.
// GetSockOpt, EpollUWait and Stats answer with their value or native.ERROR.
//
// If executing a request fails (wrong argument types, a panic in the native)
// the response carries native.ERROR and a *common.ChannelError. A native
// ERROR result carries the reason the native reports, if it implements
// native.ILastErrorReporter.
package channel
