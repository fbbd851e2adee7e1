package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/async/dispatch"
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("socket")

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// IOpener is implemented by socket roles. OpenSocket runs once per socket,
// after create, and brings the socket into its working state (connect,
// bind and listen, ...).
type IOpener interface {
	OpenSocket(ctx context.Context, s *Socket) error
}

// Handlers are the lifecycle callbacks of a socket. Nil handlers are skipped.
// Handlers run on the goroutine that drives the lifecycle step and may call
// Dispose.
type Handlers struct {
	OnCreated  func(s *Socket)
	OnDisposed func(s *Socket)
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// State is the lifecycle state of a socket
type State int32

const (
	StateUncreated State = iota
	StateCreated
	StateOpened
	StateDisposing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUncreated:
		return "uncreated"
	case StateCreated:
		return "created"
	case StateOpened:
		return "opened"
	case StateDisposing:
		return "disposing"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// --------------------------------------------------------------------------
// Socket
// --------------------------------------------------------------------------

// Socket owns one native socket handle and the dispatcher all of its calls
// go through
type Socket struct {
	address    string
	port       int
	role       IOpener
	handlers   Handlers
	dispatcher *dispatch.Dispatcher

	mu           sync.Mutex
	state        State
	handle       int
	creating     bool
	opening      bool
	disposing    bool
	handleClosed bool
}

// New creates a socket for address:port. The socket owns a new dispatcher on
// a native from factory. The port must be in 1..65535.
func New(address string, port int, role IOpener, factory native.Factory, config common.DispatcherConfig, handlers Handlers) (*Socket, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: %d is not in 1..65535", common.ErrInvalidPort, port)
	}
	if role == nil {
		return nil, fmt.Errorf("%w: socket role is nil", common.ErrInvalidArgument)
	}

	return &Socket{
		address:    address,
		port:       port,
		role:       role,
		handlers:   handlers,
		dispatcher: dispatch.New(factory, config),
		handle:     -1,
	}, nil
}

// Address returns the address the socket binds or connects to
func (s *Socket) Address() string { return s.address }

// Port returns the port the socket binds or connects to
func (s *Socket) Port() int { return s.port }

// Dispatcher returns the dispatcher of the socket
func (s *Socket) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Handle returns the native descriptor, -1 before create
func (s *Socket) Handle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// State returns the lifecycle state
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) String() string {
	return fmt.Sprintf("%s:%d", s.address, s.port)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Create allocates the native socket and returns its descriptor. A socket
// is created once, a second Create fails with common.ErrAlreadyCreated.
func (s *Socket) Create(ctx context.Context) (int, error) {
	s.mu.Lock()
	switch {
	case s.state >= StateDisposing || s.disposing:
		s.mu.Unlock()
		return -1, fmt.Errorf("create %s: %w", s, common.ErrDisposed)
	case s.state != StateUncreated || s.creating:
		s.mu.Unlock()
		return -1, fmt.Errorf("create %s: %w", s, common.ErrAlreadyCreated)
	}
	s.creating = true
	s.mu.Unlock()

	fd, err := s.dispatcher.CreateSocket(ctx, false)
	if err == nil && fd < 0 {
		err = fmt.Errorf("%w: %s: %v", common.ErrCreateFailed, s, s.dispatcher.LastError())
	}

	s.mu.Lock()
	s.creating = false
	switch {
	case err != nil:
		s.mu.Unlock()
		return -1, err
	case s.state != StateUncreated || s.disposing:
		// disposed while the call was in flight, the native releases the socket
		s.mu.Unlock()
		return -1, fmt.Errorf("create %s: %w", s, common.ErrDisposed)
	}
	s.handle = fd
	s.state = StateCreated
	s.mu.Unlock()

	Logger.Debugf("created %s as socket %d", s, fd)
	if s.handlers.OnCreated != nil {
		s.handlers.OnCreated(s)
	}
	return fd, nil
}

// Open runs the role's open step on a created socket
func (s *Socket) Open(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state >= StateDisposing || s.disposing:
		s.mu.Unlock()
		return fmt.Errorf("open %s: %w", s, common.ErrDisposed)
	case s.state == StateUncreated:
		s.mu.Unlock()
		return fmt.Errorf("open %s: %w", s, common.ErrNoSocket)
	case s.state != StateCreated || s.opening:
		s.mu.Unlock()
		return fmt.Errorf("%w: open %s in state %s", common.ErrInvalidState, s, s.state)
	}
	s.opening = true
	s.mu.Unlock()

	err := s.role.OpenSocket(ctx, s)

	s.mu.Lock()
	s.opening = false
	if err == nil && s.state == StateCreated {
		s.state = StateOpened
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("open %s: %w", s, err)
	}
	Logger.Debugf("opened %s", s)
	return nil
}

// Dispose closes the native socket, disposes the dispatcher and reports
// OnDisposed. Disposing a disposed socket does nothing, so does a call made
// while a dispose is running (e.g. from a handler). If ctx ends before the
// dispatcher is idle Dispose returns the error and may be called again.
func (s *Socket) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisposed || s.disposing {
		s.mu.Unlock()
		return nil
	}
	s.disposing = true
	s.state = StateDisposing
	handle, closeHandle := s.handle, s.handle >= 0 && !s.handleClosed
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		s.disposing = false
		s.mu.Unlock()
		return fmt.Errorf("dispose %s: %w", s, err)
	}

	if closeHandle {
		res, err := s.dispatcher.Close(ctx, handle)
		switch {
		case errors.Is(err, common.ErrDisposed):
		case err != nil:
			return fail(err)
		case res == native.ERROR:
			Logger.Warningf("close of socket %d (%s) failed: %v", handle, s, s.dispatcher.LastError())
		}
		s.mu.Lock()
		s.handleClosed = true
		s.mu.Unlock()
	}

	exitCode, err := s.dispatcher.Dispose(ctx)
	if err != nil {
		return fail(err)
	}

	s.mu.Lock()
	s.state = StateDisposed
	s.disposing = false
	s.mu.Unlock()

	Logger.Debugf("disposed %s (exit code %d)", s, exitCode)
	if s.handlers.OnDisposed != nil {
		s.handlers.OnDisposed(s)
	}
	return nil
}

// IsDisposed reports whether Dispose has started or finished
func (s *Socket) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state >= StateDisposing
}

// --------------------------------------------------------------------------
// Socket options
// --------------------------------------------------------------------------

// SetSockOpts sets opts[i] to values[i] and returns one result per option.
// The values are checked before any call is made. If the socket is disposed
// while the calls are in flight the result list is empty.
func (s *Socket) SetSockOpts(ctx context.Context, opts []native.SockOpt, values []any) ([]native.Result, error) {
	handle := s.Handle()
	if handle < 0 {
		return nil, fmt.Errorf("set options on %s: %w", s, common.ErrNoSocket)
	}
	if len(opts) != len(values) {
		return nil, fmt.Errorf("%w: %d options, %d values", common.ErrOptionMismatch, len(opts), len(values))
	}

	coerced := make([]any, len(values))
	for i, opt := range opts {
		v, err := opt.Coerce(values[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidArgument, err)
		}
		coerced[i] = v
	}

	futures := make([]*dispatch.Future, len(opts))
	for i, opt := range opts {
		futures[i] = s.dispatcher.Call(native.MethodSetSockOpt, []any{handle, opt, coerced[i]})
	}

	results := make([]native.Result, 0, len(opts))
	for i, f := range futures {
		v, err := f.Await(ctx)
		if errors.Is(err, common.ErrDisposed) {
			return []native.Result{}, nil
		}
		if err != nil {
			return results, fmt.Errorf("set %s on %s: %w", opts[i], s, err)
		}
		res, ok := v.(native.Result)
		if !ok {
			return results, fmt.Errorf("%w: set %s returned %T", common.ErrUnexpectedResult, opts[i], v)
		}
		if res == native.ERROR {
			Logger.Warningf("set %s=%v on %s failed: %v", opts[i], coerced[i], s, s.dispatcher.LastError())
		}
		results = append(results, res)
	}
	return results, nil
}

// SetLogLevel sets the verbosity of the native behind the socket
func (s *Socket) SetLogLevel(ctx context.Context, level string) error {
	l, err := native.ParseLogLevel(level)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidArgument, err)
	}
	res, err := s.dispatcher.SetLogLevel(ctx, l)
	if err != nil {
		return err
	}
	if res == native.ERROR {
		return fmt.Errorf("set native log level %s: %v", level, s.dispatcher.LastError())
	}
	return nil
}

// Stats returns the transfer statistics of the socket
func (s *Socket) Stats(ctx context.Context, clear bool) (*native.Stats, error) {
	handle := s.Handle()
	if handle < 0 {
		return nil, fmt.Errorf("stats of %s: %w", s, common.ErrNoSocket)
	}
	stats, res, err := s.dispatcher.Stats(ctx, handle, clear)
	if err != nil {
		return nil, err
	}
	if res == native.ERROR {
		return nil, fmt.Errorf("stats of %s: %v", s, s.dispatcher.LastError())
	}
	return stats, nil
}
