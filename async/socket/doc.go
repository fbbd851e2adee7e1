// Package socket implements the lifecycle shared by every socket role:
// a socket is created, opened by its role and finally disposed together with
// its dispatcher.
//
// A role implements IOpener and decides what "open" means. The Caller role
// connects to a listening peer; the server package builds its listener on
// the same lifecycle.
//
// Example usage:
//
//	network := memnet.NewNetwork()
//	caller, err := socket.NewCaller(common.DefaultClientConfig("127.0.0.1", 9000), network.Factory(), socket.Handlers{})
//	if err != nil {
//		return err
//	}
//	defer caller.Dispose(context.Background())
//
//	if _, err := caller.Create(ctx); err != nil {
//		return err
//	}
//	if err := caller.Open(ctx); err != nil {
//		return err
//	}
//	n, err := caller.Write(ctx, []byte("hello"))
package socket
