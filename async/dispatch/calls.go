package dispatch

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/lib/native"
)

// --------------------------------------------------------------------------
// Typed calls
//
// Each call blocks until its answer arrives, the call times out or ctx ends.
// A native failure is returned as native.ERROR (or -1 for descriptors) with a
// nil error; the error return is reserved for calls that produced no answer
// and for answers of an unexpected type.
// --------------------------------------------------------------------------

func unexpected(method native.Method, value any) error {
	return fmt.Errorf("%w: %s returned %T(%v)", common.ErrUnexpectedResult, method, value, value)
}

func (d *Dispatcher) callInt(ctx context.Context, method native.Method, args []any, opts []CallOption) (int, error) {
	v, err := d.Call(method, args, opts...).Await(ctx)
	if err != nil {
		return int(native.ERROR), err
	}
	switch r := v.(type) {
	case int:
		return r, nil
	case native.Result:
		if r == native.ERROR {
			return int(native.ERROR), nil
		}
	}
	return int(native.ERROR), unexpected(method, v)
}

func (d *Dispatcher) callResult(ctx context.Context, method native.Method, args []any, opts []CallOption) (native.Result, error) {
	v, err := d.Call(method, args, opts...).Await(ctx)
	if err != nil {
		return native.ERROR, err
	}
	if r, ok := v.(native.Result); ok {
		return r, nil
	}
	return native.ERROR, unexpected(method, v)
}

// CreateSocket creates a socket and returns its descriptor (-1 on failure)
func (d *Dispatcher) CreateSocket(ctx context.Context, sender bool, opts ...CallOption) (int, error) {
	return d.callInt(ctx, native.MethodCreateSocket, []any{sender}, opts)
}

func (d *Dispatcher) Bind(ctx context.Context, sock int, address string, port int, opts ...CallOption) (native.Result, error) {
	return d.callResult(ctx, native.MethodBind, []any{sock, address, port}, opts)
}

func (d *Dispatcher) Listen(ctx context.Context, sock int, backlog int, opts ...CallOption) (native.Result, error) {
	return d.callResult(ctx, native.MethodListen, []any{sock, backlog}, opts)
}

func (d *Dispatcher) Connect(ctx context.Context, sock int, host string, port int, opts ...CallOption) (native.Result, error) {
	return d.callResult(ctx, native.MethodConnect, []any{sock, host, port}, opts)
}

// Accept returns the descriptor of the accepted connection (-1 on failure)
func (d *Dispatcher) Accept(ctx context.Context, sock int, opts ...CallOption) (int, error) {
	return d.callInt(ctx, native.MethodAccept, []any{sock}, opts)
}

func (d *Dispatcher) Close(ctx context.Context, sock int, opts ...CallOption) (native.Result, error) {
	return d.callResult(ctx, native.MethodClose, []any{sock}, opts)
}

// Read reads one message of at most size bytes. It returns the data and OK,
// nil and OK once the peer is gone and everything was read, or nil and ERROR.
func (d *Dispatcher) Read(ctx context.Context, sock int, size int, opts ...CallOption) ([]byte, native.Result, error) {
	v, err := d.Call(native.MethodRead, []any{sock, size}, opts...).Await(ctx)
	if err != nil {
		return nil, native.ERROR, err
	}
	switch r := v.(type) {
	case nil:
		return nil, native.OK, nil
	case []byte:
		return r, native.OK, nil
	case native.Result:
		if r == native.ERROR {
			return nil, native.ERROR, nil
		}
	}
	return nil, native.ERROR, unexpected(native.MethodRead, v)
}

// Write sends chunk as one message and returns the bytes written or ERROR.
// The chunk is handed over to the channel and must not be modified afterwards.
func (d *Dispatcher) Write(ctx context.Context, sock int, chunk []byte, opts ...CallOption) (int, error) {
	return d.callInt(ctx, native.MethodWrite, []any{sock, chunk}, opts)
}

func (d *Dispatcher) SetSockOpt(ctx context.Context, sock int, opt native.SockOpt, value any, opts ...CallOption) (native.Result, error) {
	return d.callResult(ctx, native.MethodSetSockOpt, []any{sock, opt, value}, opts)
}

// GetSockOpt returns the option value and OK, or nil and ERROR
func (d *Dispatcher) GetSockOpt(ctx context.Context, sock int, opt native.SockOpt, opts ...CallOption) (any, native.Result, error) {
	v, err := d.Call(native.MethodGetSockOpt, []any{sock, opt}, opts...).Await(ctx)
	if err != nil {
		return nil, native.ERROR, err
	}
	if r, ok := v.(native.Result); ok && r == native.ERROR {
		return nil, native.ERROR, nil
	}
	return v, native.OK, nil
}

func (d *Dispatcher) GetSockState(ctx context.Context, sock int, opts ...CallOption) (native.SockStatus, error) {
	v, err := d.Call(native.MethodGetSockState, []any{sock}, opts...).Await(ctx)
	if err != nil {
		return native.SockNonExist, err
	}
	if s, ok := v.(native.SockStatus); ok {
		return s, nil
	}
	return native.SockNonExist, unexpected(native.MethodGetSockState, v)
}

// EpollCreate creates a readiness set and returns its id (-1 on failure)
func (d *Dispatcher) EpollCreate(ctx context.Context, opts ...CallOption) (int, error) {
	return d.callInt(ctx, native.MethodEpollCreate, nil, opts)
}

func (d *Dispatcher) EpollAddUsock(ctx context.Context, epid int, sock int, events native.EpollOpt, opts ...CallOption) (native.Result, error) {
	return d.callResult(ctx, native.MethodEpollAddUsock, []any{epid, sock, events}, opts)
}

// EpollUWait returns the ready sockets and OK, or nil and ERROR
func (d *Dispatcher) EpollUWait(ctx context.Context, epid int, timeoutMs int, opts ...CallOption) ([]native.EpollEvent, native.Result, error) {
	v, err := d.Call(native.MethodEpollUWait, []any{epid, timeoutMs}, opts...).Await(ctx)
	if err != nil {
		return nil, native.ERROR, err
	}
	switch r := v.(type) {
	case []native.EpollEvent:
		return r, native.OK, nil
	case native.Result:
		if r == native.ERROR {
			return nil, native.ERROR, nil
		}
	}
	return nil, native.ERROR, unexpected(native.MethodEpollUWait, v)
}

func (d *Dispatcher) SetLogLevel(ctx context.Context, level native.LogLevel, opts ...CallOption) (native.Result, error) {
	return d.callResult(ctx, native.MethodSetLogLevel, []any{level}, opts)
}

// Stats returns the socket statistics and OK, or nil and ERROR
func (d *Dispatcher) Stats(ctx context.Context, sock int, clear bool, opts ...CallOption) (*native.Stats, native.Result, error) {
	v, err := d.Call(native.MethodStats, []any{sock, clear}, opts...).Await(ctx)
	if err != nil {
		return nil, native.ERROR, err
	}
	switch r := v.(type) {
	case *native.Stats:
		return r, native.OK, nil
	case native.Result:
		if r == native.ERROR {
			return nil, native.ERROR, nil
		}
	}
	return nil, native.ERROR, unexpected(native.MethodStats, v)
}
