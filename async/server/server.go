package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/async/socket"
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

// Handlers are the server callbacks. Nil handlers are skipped. OnConnection,
// OnDisconnection and OnError run on the poll goroutine.
type Handlers struct {
	OnCreated       func(s *Server)
	OnOpened        func(s *Server)
	OnConnection    func(c *Connection)
	OnDisconnection func(fd int)
	OnDisposed      func(s *Server)
	// OnError receives registry consistency errors (common.ErrUnknownDescriptor)
	// and errors that stopped the poll loop
	OnError func(err error)
}

// Server is a listening socket with a poll loop and a connection registry
type Server struct {
	*socket.Socket

	config   common.ServerConfig
	handlers Handlers

	epid        atomic.Int64
	connections *xsync.MapOf[int, *Connection]
	// draining holds descriptors whose connection started closing, mapped to
	// the number of waits issued when the close completed (-1 while it runs)
	draining *xsync.MapOf[int, int64]
	waits    atomic.Int64

	loopMu   sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
	started  bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// listener opens the server socket
type listener struct {
	s *Server
}

func (l listener) OpenSocket(ctx context.Context, _ *socket.Socket) error {
	return l.s.open(ctx)
}

// New creates an uncreated server. Zero config values take their defaults.
func New(config common.ServerConfig, factory native.Factory, handlers Handlers) (*Server, error) {
	if config.Backlog <= 0 {
		config.Backlog = common.DefaultBacklog
	}
	if config.IdleBackoff <= 0 {
		config.IdleBackoff = common.DefaultIdleBackoff
	}
	if config.Dispatcher.Name == "" {
		config.Dispatcher.Name = fmt.Sprintf("server:%d", config.Port)
	}

	s := &Server{
		config:      config,
		handlers:    handlers,
		connections: xsync.NewMapOf[int, *Connection](),
		draining:    xsync.NewMapOf[int, int64](),
		stop:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	s.epid.Store(-1)

	sock, err := socket.New(config.Address, config.Port, listener{s}, factory, config.Dispatcher, socket.Handlers{
		OnCreated: func(*socket.Socket) {
			if handlers.OnCreated != nil {
				handlers.OnCreated(s)
			}
		},
		OnDisposed: func(*socket.Socket) {
			if handlers.OnDisposed != nil {
				handlers.OnDisposed(s)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	s.Socket = sock
	return s, nil
}

// Config returns the configuration of the server
func (s *Server) Config() common.ServerConfig {
	return s.config
}

// Create creates the listening socket and applies the configured native log level
func (s *Server) Create(ctx context.Context) (int, error) {
	fd, err := s.Socket.Create(ctx)
	if err != nil {
		return fd, err
	}
	if s.config.NativeLogLevel != "" {
		if err := s.SetLogLevel(ctx, s.config.NativeLogLevel); err != nil {
			Logger.Warningf("server %s: %v", s, err)
		}
	}
	return fd, nil
}

// Connection returns the registry entry of fd
func (s *Server) Connection(fd int) (*Connection, bool) {
	return s.connections.Load(fd)
}

// Connections returns all registered connections in no particular order
func (s *Server) Connections() []*Connection {
	conns := make([]*Connection, 0, s.connections.Size())
	s.connections.Range(func(_ int, c *Connection) bool {
		conns = append(conns, c)
		return true
	})
	return conns
}

// Err returns the last error reported through OnError
func (s *Server) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Done is closed once the poll loop has stopped, or on Dispose if it never
// started
func (s *Server) Done() <-chan struct{} {
	return s.loopDone
}

func (s *Server) report(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()

	Logger.Errorf("server %s: %v", s, err)
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

// --------------------------------------------------------------------------
// Open
// --------------------------------------------------------------------------

func (s *Server) open(ctx context.Context) error {
	d := s.Dispatcher()
	handle := s.Handle()

	res, err := d.Bind(ctx, handle, s.Address(), s.Port())
	if err != nil {
		return err
	}
	if res == native.ERROR {
		return fmt.Errorf("%w: %s: %v", common.ErrBindFailed, s, d.LastError())
	}

	res, err = d.Listen(ctx, handle, s.config.Backlog)
	if err != nil {
		return err
	}
	if res == native.ERROR {
		return fmt.Errorf("%w: %s: %v", common.ErrListenFailed, s, d.LastError())
	}

	epid, err := d.EpollCreate(ctx)
	if err != nil {
		return err
	}
	if epid < 0 {
		return fmt.Errorf("%w: create readiness set for %s: %v", common.ErrEpollFailed, s, d.LastError())
	}
	s.epid.Store(int64(epid))

	if s.handlers.OnOpened != nil {
		s.handlers.OnOpened(s)
	}

	res, err = d.EpollAddUsock(ctx, epid, handle, native.EpollIn|native.EpollErr)
	if err != nil {
		return err
	}
	if res == native.ERROR {
		return fmt.Errorf("%w: register %s: %v", common.ErrEpollFailed, s, d.LastError())
	}

	s.loopMu.Lock()
	if s.stopped() {
		s.loopMu.Unlock()
		return common.ErrDisposed
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = true
	go s.poll(loopCtx, epid, handle)
	s.loopMu.Unlock()

	Logger.Infof("server listening on %s (socket %d, backlog %d)", s, handle, s.config.Backlog)
	return nil
}

// --------------------------------------------------------------------------
// Poll loop
// --------------------------------------------------------------------------

func (s *Server) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// pause sleeps for d or until the server stops
func (s *Server) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.stop:
	}
}

func (s *Server) poll(ctx context.Context, epid, listenerFD int) {
	defer close(s.loopDone)

	d := s.Dispatcher()
	timeoutMs := int(s.config.EpollTimeout / time.Millisecond)

	for !s.stopped() {
		wait := s.waits.Add(1)
		events, res, err := d.EpollUWait(ctx, epid, timeoutMs)
		if err != nil {
			if !s.stopped() && !errors.Is(err, common.ErrDisposed) && !errors.Is(err, context.Canceled) {
				s.report(fmt.Errorf("poll stopped: %w", err))
			}
			return
		}
		if res == native.ERROR {
			if s.stopped() {
				return
			}
			Logger.Warningf("server %s: wait on readiness set %d failed: %v", s, epid, d.LastError())
			s.pause(s.config.IdleBackoff)
			continue
		}

		s.purgeDraining(wait)

		for _, ev := range events {
			if s.stopped() {
				return
			}
			if err := s.handleEvent(ctx, epid, listenerFD, ev); err != nil {
				if errors.Is(err, common.ErrDisposed) || errors.Is(err, context.Canceled) {
					return
				}
				s.report(err)
			}
		}

		switch {
		case s.config.EpollPeriod > 0:
			s.pause(s.config.EpollPeriod)
		case len(events) == 0 && timeoutMs <= 0:
			s.pause(s.config.IdleBackoff)
		}
	}
}

// purgeDraining forgets descriptors whose close completed before the wait
// with the given number was issued. That wait and all later ones cannot
// report them.
func (s *Server) purgeDraining(wait int64) {
	s.draining.Range(func(fd int, closedAt int64) bool {
		if closedAt >= 0 && closedAt < wait {
			s.draining.Delete(fd)
		}
		return true
	})
}

func (s *Server) isDraining(fd int) bool {
	_, ok := s.draining.Load(fd)
	return ok
}

func (s *Server) handleEvent(ctx context.Context, epid, listenerFD int, ev native.EpollEvent) error {
	d := s.Dispatcher()
	fd := ev.Socket

	state, err := d.GetSockState(ctx, fd)
	if err != nil {
		return err
	}

	switch {
	case fd == listenerFD:
		if state != native.SockListening {
			Logger.Debugf("server %s: listener event %s in state %s", s, ev.Events, state)
			return nil
		}
		return s.accept(ctx, epid, listenerFD)

	case state.IsGone():
		conn, ok := s.connections.Load(fd)
		if !ok {
			// nothing left to close
			Logger.Debugf("server %s: ignoring %s of unregistered %d in state %s", s, ev.Events, fd, state)
			return nil
		}
		if _, err := conn.Close(ctx); err != nil {
			return err
		}
		Logger.Debugf("server %s: peer of %d is gone (%s)", s, fd, state)
		if s.handlers.OnDisconnection != nil {
			s.handlers.OnDisconnection(fd)
		}
		return nil

	default:
		conn, ok := s.connections.Load(fd)
		if !ok {
			if s.isDraining(fd) {
				return nil
			}
			return fmt.Errorf("%w: %d reported %s in state %s", common.ErrUnknownDescriptor, fd, ev.Events, state)
		}
		conn.onData()
		return nil
	}
}

func (s *Server) accept(ctx context.Context, epid, listenerFD int) error {
	d := s.Dispatcher()

	fd, err := d.Accept(ctx, listenerFD)
	if err != nil {
		return err
	}
	if fd < 0 {
		Logger.Warningf("server %s: %v: %v", s, common.ErrAcceptFailed, d.LastError())
		return nil
	}

	// an accepted descriptor is always registered, so Dispose can close it
	ctx = context.WithoutCancel(ctx)

	res, err := d.EpollAddUsock(ctx, epid, fd, native.EpollIn|native.EpollErr)
	if err != nil {
		return err
	}
	if res == native.ERROR {
		Logger.Warningf("server %s: register %d: %v", s, fd, d.LastError())
	}

	// the descriptor value may be reused after a close
	s.draining.Delete(fd)

	conn := newConnection(fd, d, registryHooks{
		closing: func(c *Connection) {
			s.draining.Store(c.FD(), -1)
			s.connections.Delete(c.FD())
		},
		closed: func(c *Connection) {
			s.draining.Store(c.FD(), s.waits.Load())
		},
	})
	s.connections.Store(fd, conn)
	common.ConnectionsAccepted.Inc()
	Logger.Debugf("server %s: accepted %d", s, fd)

	if s.handlers.OnConnection != nil {
		s.handlers.OnConnection(conn)
	}

	// Dispose snapshots the registry after stopping, so a connection stored
	// after that snapshot is closed here
	if s.stopped() {
		if _, err := conn.Close(ctx); err != nil && !errors.Is(err, common.ErrDisposed) {
			Logger.Warningf("server %s: close %s: %v", s, conn, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Dispose
// --------------------------------------------------------------------------

// Dispose stops the poll loop, closes all connections and disposes the
// listening socket. Like socket.Socket.Dispose it may be retried if ctx ends
// first.
func (s *Server) Dispose(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.loopMu.Lock()
		defer s.loopMu.Unlock()
		close(s.stop)
		if s.started {
			s.cancel()
		} else {
			close(s.loopDone)
		}
	})

	for _, conn := range s.Connections() {
		if _, err := conn.Close(ctx); err != nil && !errors.Is(err, common.ErrDisposed) {
			Logger.Warningf("server %s: close %s: %v", s, conn, err)
		}
	}
	return s.Socket.Dispose(ctx)
}
