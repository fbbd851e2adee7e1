package channel

import (
	"fmt"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/lib/native"
)

// args decodes positional request arguments. The first decoding failure is
// kept and reported by err.
type args struct {
	method native.Method
	values []any
	err    error
}

func (a *args) fail(i int, want string) {
	if a.err == nil {
		a.err = fmt.Errorf("%w: %s argument %d must be %s, got %T", common.ErrInvalidArgument, a.method, i, want, a.values[i])
	}
}

func (a *args) int(i int) int {
	switch v := a.values[i].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	a.fail(i, "an int")
	return 0
}

func (a *args) bool(i int) bool {
	v, ok := a.values[i].(bool)
	if !ok {
		a.fail(i, "a bool")
	}
	return v
}

func (a *args) string(i int) string {
	v, ok := a.values[i].(string)
	if !ok {
		a.fail(i, "a string")
	}
	return v
}

func (a *args) bytes(i int) []byte {
	v, ok := a.values[i].([]byte)
	if !ok {
		a.fail(i, "a []byte")
	}
	return v
}

func (a *args) sockOpt(i int) native.SockOpt {
	if v, ok := a.values[i].(native.SockOpt); ok {
		return v
	}
	return native.SockOpt(a.int(i))
}

func (a *args) epollOpt(i int) native.EpollOpt {
	switch v := a.values[i].(type) {
	case native.EpollOpt:
		return v
	case uint32:
		return native.EpollOpt(v)
	}
	return native.EpollOpt(a.int(i))
}

func (a *args) logLevel(i int) native.LogLevel {
	if v, ok := a.values[i].(native.LogLevel); ok {
		return v
	}
	return native.LogLevel(a.int(i))
}

// invoke calls the native operation named by method
func (c *Channel) invoke(method native.Method, values []any) (any, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown method %s", common.ErrInvalidArgument, method)
	}
	if len(values) != method.Arity() {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", common.ErrInvalidArgument, method, method.Arity(), len(values))
	}

	a := &args{method: method, values: values}
	n := c.native
	var value any

	switch method {
	case native.MethodCreateSocket:
		sender := a.bool(0)
		if a.err == nil {
			value = n.CreateSocket(sender)
		}
	case native.MethodBind:
		sock, address, port := a.int(0), a.string(1), a.int(2)
		if a.err == nil {
			value = n.Bind(sock, address, port)
		}
	case native.MethodListen:
		sock, backlog := a.int(0), a.int(1)
		if a.err == nil {
			value = n.Listen(sock, backlog)
		}
	case native.MethodConnect:
		sock, host, port := a.int(0), a.string(1), a.int(2)
		if a.err == nil {
			value = n.Connect(sock, host, port)
		}
	case native.MethodAccept:
		sock := a.int(0)
		if a.err == nil {
			value = n.Accept(sock)
		}
	case native.MethodClose:
		sock := a.int(0)
		if a.err == nil {
			value = n.Close(sock)
		}
	case native.MethodRead:
		sock, size := a.int(0), a.int(1)
		if a.err == nil {
			data, res := n.Read(sock, size)
			switch {
			case res == native.ERROR:
				value = native.ERROR
			case data == nil:
				value = nil
			default:
				value = data
			}
		}
	case native.MethodWrite:
		sock, chunk := a.int(0), a.bytes(1)
		if a.err == nil {
			value = n.Write(sock, chunk)
		}
	case native.MethodSetSockOpt:
		sock, opt := a.int(0), a.sockOpt(1)
		if a.err == nil {
			value = n.SetSockOpt(sock, opt, values[2])
		}
	case native.MethodGetSockOpt:
		sock, opt := a.int(0), a.sockOpt(1)
		if a.err == nil {
			v, res := n.GetSockOpt(sock, opt)
			if res == native.ERROR {
				value = native.ERROR
			} else {
				value = v
			}
		}
	case native.MethodGetSockState:
		sock := a.int(0)
		if a.err == nil {
			value = n.GetSockState(sock)
		}
	case native.MethodEpollCreate:
		value = n.EpollCreate()
	case native.MethodEpollAddUsock:
		epid, sock, events := a.int(0), a.int(1), a.epollOpt(2)
		if a.err == nil {
			value = n.EpollAddUsock(epid, sock, events)
		}
	case native.MethodEpollUWait:
		epid, timeout := a.int(0), a.int(1)
		if a.err == nil {
			events, res := n.EpollUWait(epid, timeout)
			if res == native.ERROR {
				value = native.ERROR
			} else {
				if events == nil {
					events = []native.EpollEvent{}
				}
				value = events
			}
		}
	case native.MethodSetLogLevel:
		level := a.logLevel(0)
		if a.err == nil {
			value = n.SetLogLevel(level)
		}
	case native.MethodStats:
		sock, reset := a.int(0), a.bool(1)
		if a.err == nil {
			stats, res := n.Stats(sock, reset)
			if res == native.ERROR {
				value = native.ERROR
			} else {
				value = stats
			}
		}
	}

	if a.err != nil {
		return nil, a.err
	}
	return value, nil
}
