// Package server implements a listening socket with a readiness-polling
// event loop and a registry of accepted connections.
//
// Open binds and listens, creates a readiness set for the listener and starts
// a poll goroutine. Each tick waits on the readiness set and handles the ready
// descriptors one after another, in the order reported:
//
//   - the listener accepts one connection, registers it and reports
//     OnConnection
//   - a broken, closed or vanished peer is closed and reported through
//     OnDisconnection
//   - readable data on a known connection is reported through the
//     connection's OnData handler
//
// A ready descriptor without a registry entry means the readiness set and
// the registry went out of sync. It is reported through OnError.
//
// Example usage:
//
//	srv, err := server.New(common.DefaultServerConfig("0.0.0.0", 9000), network.Factory(), server.Handlers{
//		OnConnection: func(c *server.Connection) {
//			c.Handle(server.ConnectionHandlers{
//				OnData: func(c *server.Connection) { ... },
//			})
//		},
//	})
//	if _, err := srv.Create(ctx); err != nil {
//		return err
//	}
//	if err := srv.Open(ctx); err != nil {
//		return err
//	}
//	defer srv.Dispose(context.Background())
package server
