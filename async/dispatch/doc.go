// Package dispatch provides the asynchronous dispatcher: the application side
// of a call channel.
//
// A Dispatcher owns exactly one channel.Channel. Call posts a native
// operation to the channel and returns a Future. Responses carry no request
// id: the dispatcher keeps its pending calls in a FIFO queue and resolves the
// oldest pending call with every response that arrives. This only works
// because the channel answers strictly in request order, which is why a
// dispatcher must never share its channel.
//
// Calls can be made with a timeout (WithTimeout, WithDefaultTimeout). A timed
// out call settles its future with common.ErrTimeout, but its position in the
// queue is kept and the real answer, when it arrives, is still passed to the
// callback given by WithCallback.
//
// Failures of the native are values (native.ERROR), not errors. When the
// channel explains a failure (the native's reason for ERROR, or a
// *common.ChannelError if executing the call failed) the explanation is kept
// and returned by LastError.
//
// Dispose waits until no call is outstanding, then tears the channel down.
// Calls made once Dispose has started fail with common.ErrDisposed.
//
// Example usage:
//
//	d := dispatch.New(network.Factory(), common.DefaultDispatcherConfig())
//	defer d.Dispose(context.Background())
//
//	fd, err := d.CreateSocket(ctx, false)
//	res, err := d.Bind(ctx, fd, "0.0.0.0", 9000)
package dispatch
