package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ValentinKolb/asyncsrt/lib/native"
)

// --------------------------------------------------------------------------
// Sentinel errors
// --------------------------------------------------------------------------

var (
	// ErrInvalidArgument reports a missing or malformed call argument, detected before dispatch
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDisposed reports a call on a dispatcher or socket that is disposing or disposed
	ErrDisposed = errors.New("disposed")
	// ErrTimeout settles a call whose response did not arrive in time
	ErrTimeout = errors.New("call timed out")

	ErrCreateFailed  = errors.New("create socket failed")
	ErrConnectFailed = errors.New("connect failed")
	ErrBindFailed    = errors.New("bind failed")
	ErrListenFailed  = errors.New("listen failed")
	ErrEpollFailed   = errors.New("epoll failed")
	ErrAcceptFailed  = errors.New("accept failed")

	// ErrNoSocket reports an operation that needs a socket handle before create
	ErrNoSocket = errors.New("no socket created")
	// ErrAlreadyCreated reports a second create on a socket
	ErrAlreadyCreated = errors.New("socket already created")
	// ErrInvalidState reports a lifecycle operation out of order, e.g. open twice
	ErrInvalidState = errors.New("invalid socket state")
	// ErrInvalidPort reports a port outside 1..65535
	ErrInvalidPort = errors.New("invalid port")
	// ErrOptionMismatch reports option and value lists of different length
	ErrOptionMismatch = errors.New("options and values differ in length")

	// ErrConnectionClosed reports an operation on a connection after close
	ErrConnectionClosed = errors.New("connection closed")

	// ErrUnknownDescriptor reports a ready descriptor with no registry entry:
	// the readiness set and the registry are out of sync
	ErrUnknownDescriptor = errors.New("unknown descriptor")
	// ErrUnexpectedResult reports a native result that is neither data nor a known result code
	ErrUnexpectedResult = errors.New("unexpected result")
	// ErrWriteFailed reports a write that returned ERROR or zero bytes
	ErrWriteFailed = errors.New("write failed")
)

// --------------------------------------------------------------------------
// Channel errors
// --------------------------------------------------------------------------

// ChannelError is attached to a response when the channel failed to execute
// a call. The call itself is still answered, so the error never breaks the
// positional matching of responses.
type ChannelError struct {
	Method native.Method
	Trace  string
	Err    error
}

// NewChannelError wraps err with the trace of the failed call
func NewChannelError(method native.Method, args []any, err error) *ChannelError {
	return &ChannelError{Method: method, Trace: TraceCall(method, args), Err: err}
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel: %s: %v", e.Trace, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// TraceCall renders a native call as "SRT.method(arg, ...)". Byte buffers are
// rendered as []byte<bytes=N>.
func TraceCall(method native.Method, args []any) string {
	var sb strings.Builder
	sb.WriteString("SRT.")
	sb.WriteString(method.String())
	sb.WriteByte('(')
	for i, arg := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		switch v := arg.(type) {
		case []byte:
			fmt.Fprintf(&sb, "[]byte<bytes=%d>", len(v))
		case string:
			fmt.Fprintf(&sb, "%q", v)
		case fmt.Stringer:
			sb.WriteString(v.String())
		default:
			fmt.Fprintf(&sb, "%v", v)
		}
	}
	sb.WriteByte(')')
	return sb.String()
}
