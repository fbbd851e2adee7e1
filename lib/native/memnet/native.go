package memnet

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/asyncsrt/lib/native"
)

var (
	ErrBadDescriptor  = errors.New("invalid socket descriptor")
	ErrBadState       = errors.New("operation not permitted in socket state")
	ErrPortInUse      = errors.New("port already in use")
	ErrRefused        = errors.New("connection refused")
	ErrBacklogFull    = errors.New("listen backlog full")
	ErrWouldBlock     = errors.New("operation would block")
	ErrTimedOut       = errors.New("operation timed out")
	ErrMessageSize    = errors.New("message size out of range")
	ErrBufferTooSmall = errors.New("read buffer smaller than message")
	ErrBadEpoll       = errors.New("invalid epoll id")
	ErrBadOption      = errors.New("invalid socket option")
	ErrClosed         = errors.New("native closed")
)

// Native is one native instance of a Network. It is not safe for
// concurrent use: a single channel worker owns it.
type Native struct {
	net      *Network
	owned    map[int]struct{} // guarded by net.mu
	epolls   map[int]struct{} // guarded by net.mu
	closed   bool             // guarded by net.mu
	lastErr  error
	logLevel native.LogLevel
}

// LastError returns the reason of the last failed operation
func (n *Native) LastError() error {
	return n.lastErr
}

// fail records err and returns ERROR
func (n *Native) fail(err error, format string, args ...any) native.Result {
	n.lastErr = fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
	if n.logLevel >= native.LogDebug {
		Logger.Debugf("%v", n.lastErr)
	}
	return native.ERROR
}

// lookup returns the socket fd. Must be called with net.mu held.
func (n *Native) lookup(fd int) *socket {
	return n.net.sockets[fd]
}

// newFD registers a new socket. Must be called with net.mu held.
func (n *Native) newFD(owner *Native, sender bool) *socket {
	fd := n.net.nextFD
	n.net.nextFD++
	s := newSocket(fd, owner, sender)
	n.net.sockets[fd] = s
	owner.owned[fd] = struct{}{}
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see native.INative)
// --------------------------------------------------------------------------

func (n *Native) CreateSocket(sender bool) int {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	if n.closed {
		n.fail(ErrClosed, "createSocket")
		return -1
	}
	return n.newFD(n, sender).fd
}

func (n *Native) Bind(sock int, address string, port int) native.Result {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	s := n.lookup(sock)
	if s == nil {
		return n.fail(ErrBadDescriptor, "bind(%d)", sock)
	}
	if s.state != native.SockInit {
		return n.fail(ErrBadState, "bind(%d) in state %s", sock, s.state)
	}
	if port <= 0 || port > 65535 {
		return n.fail(ErrBadState, "bind(%d) to port %d", sock, port)
	}
	if _, used := n.net.ports[port]; used {
		return n.fail(ErrPortInUse, "bind(%d) to %s:%d", sock, address, port)
	}

	s.port = port
	s.state = native.SockOpened
	n.net.ports[port] = s
	return native.OK
}

func (n *Native) Listen(sock int, backlog int) native.Result {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	s := n.lookup(sock)
	if s == nil {
		return n.fail(ErrBadDescriptor, "listen(%d)", sock)
	}
	if s.state != native.SockOpened {
		return n.fail(ErrBadState, "listen(%d) in state %s", sock, s.state)
	}
	if backlog <= 0 {
		backlog = 1
	}

	s.backlog = backlog
	s.state = native.SockListening
	n.net.notify()
	return native.OK
}

func (n *Native) Connect(sock int, host string, port int) native.Result {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	s := n.lookup(sock)
	if s == nil {
		return n.fail(ErrBadDescriptor, "connect(%d)", sock)
	}
	if s.state != native.SockInit && s.state != native.SockOpened {
		return n.fail(ErrBadState, "connect(%d) in state %s", sock, s.state)
	}

	listener := n.net.ports[port]
	if listener == nil || listener.state != native.SockListening {
		return n.fail(ErrRefused, "connect(%d) to %s:%d", sock, host, port)
	}
	if len(listener.pending) >= listener.backlog {
		return n.fail(ErrBacklogFull, "connect(%d) to %s:%d", sock, host, port)
	}

	// the accepted side belongs to the listener's native
	accepted := n.newFD(listener.owner, !s.sender)
	for _, opt := range []native.SockOpt{native.SRTO_PAYLOADSIZE, native.SRTO_RCVBUF, native.SRTO_SNDBUF, native.SRTO_LATENCY} {
		accepted.opts[opt] = listener.opts[opt]
	}
	accepted.state = native.SockConnected
	accepted.peer = s

	s.state = native.SockConnected
	s.peer = accepted

	listener.pending = append(listener.pending, accepted)
	n.net.notify()
	return native.OK
}

func (n *Native) Accept(sock int) int {
	var (
		accepted *socket
		failure  native.Result
		waitFor  time.Duration = -1
	)

	n.net.mu.Lock()
	if s := n.lookup(sock); s != nil && !s.boolOpt(native.SRTO_RCVSYN) {
		waitFor = 0
	}
	n.net.mu.Unlock()

	ok := n.net.await(waitFor, func() bool {
		s := n.lookup(sock)
		if s == nil {
			failure = n.fail(ErrBadDescriptor, "accept(%d)", sock)
			return true
		}
		if s.state != native.SockListening {
			failure = n.fail(ErrBadState, "accept(%d) in state %s", sock, s.state)
			return true
		}
		if len(s.pending) == 0 {
			return false
		}
		accepted = s.pending[0]
		s.pending = s.pending[1:]
		return true
	})

	if !ok {
		n.fail(ErrWouldBlock, "accept(%d)", sock)
		return -1
	}
	if failure == native.ERROR || accepted == nil {
		return -1
	}
	return accepted.fd
}

func (n *Native) Close(sock int) native.Result {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	if n.lookup(sock) == nil {
		return n.fail(ErrBadDescriptor, "close(%d)", sock)
	}
	n.closeLocked(sock)
	return native.OK
}

// closeLocked closes the socket. Must be called with net.mu held.
func (n *Native) closeLocked(fd int) {
	s := n.net.sockets[fd]
	if s == nil {
		return
	}

	delete(n.net.sockets, fd)
	delete(s.owner.owned, fd)
	if s.port != 0 && n.net.ports[s.port] == s {
		delete(n.net.ports, s.port)
	}
	for _, ep := range n.net.epolls {
		ep.remove(fd)
	}

	// connections never accepted die with their listener
	for _, p := range s.pending {
		n.closeLocked(p.fd)
	}
	s.pending = nil

	if s.peer != nil {
		if s.peer.state == native.SockConnected {
			s.peer.state = native.SockBroken
		}
		s.peer.peer = nil
		s.peer = nil
	}

	s.state = native.SockClosed
	s.rx = nil
	s.rxBytes = 0
	n.net.notify()
}

func (n *Native) Read(sock int, size int) ([]byte, native.Result) {
	var (
		msg     []byte
		result  = native.OK
		waitFor time.Duration
	)

	n.net.mu.Lock()
	s := n.lookup(sock)
	if s == nil {
		n.net.mu.Unlock()
		return nil, n.fail(ErrBadDescriptor, "read(%d)", sock)
	}
	if s.boolOpt(native.SRTO_RCVSYN) {
		waitFor = s.timeoutOpt(native.SRTO_RCVTIMEO)
	}
	n.net.mu.Unlock()

	if size <= 0 {
		return nil, n.fail(ErrMessageSize, "read(%d, %d)", sock, size)
	}

	ok := n.net.await(waitFor, func() bool {
		s := n.lookup(sock)
		if s == nil {
			result = n.fail(ErrBadDescriptor, "read(%d)", sock)
			return true
		}
		switch s.state {
		case native.SockConnected, native.SockBroken:
		default:
			result = n.fail(ErrBadState, "read(%d) in state %s", sock, s.state)
			return true
		}

		if len(s.rx) > 0 {
			head := s.rx[0]
			if len(head) > size {
				result = n.fail(ErrBufferTooSmall, "read(%d, %d) with message of %d bytes", sock, size, len(head))
				return true
			}
			s.rx[0] = nil
			s.rx = s.rx[1:]
			s.rxBytes -= len(head)
			s.stats.AddRecv(len(head))
			msg = head
			// the writer may be waiting for queue space
			n.net.notify()
			return true
		}

		// peer gone and nothing left
		return s.state == native.SockBroken
	})

	if result == native.ERROR {
		return nil, native.ERROR
	}
	if !ok {
		if waitFor == 0 {
			return nil, n.fail(ErrWouldBlock, "read(%d)", sock)
		}
		return nil, n.fail(ErrTimedOut, "read(%d)", sock)
	}
	return msg, native.OK
}

func (n *Native) Write(sock int, chunk []byte) int {
	var (
		result  = native.OK
		waitFor time.Duration
	)

	n.net.mu.Lock()
	s := n.lookup(sock)
	if s == nil {
		n.net.mu.Unlock()
		return int(n.fail(ErrBadDescriptor, "write(%d)", sock))
	}
	payload := s.intOpt(native.SRTO_PAYLOADSIZE)
	if s.boolOpt(native.SRTO_SNDSYN) {
		waitFor = s.timeoutOpt(native.SRTO_SNDTIMEO)
	}
	n.net.mu.Unlock()

	if len(chunk) == 0 || (payload > 0 && len(chunk) > payload) {
		return int(n.fail(ErrMessageSize, "write(%d) of %d bytes (payload size %d)", sock, len(chunk), payload))
	}

	ok := n.net.await(waitFor, func() bool {
		s := n.lookup(sock)
		if s == nil {
			result = n.fail(ErrBadDescriptor, "write(%d)", sock)
			return true
		}
		if s.state != native.SockConnected || s.peer == nil {
			result = n.fail(ErrBadState, "write(%d) in state %s", sock, s.state)
			return true
		}
		if !s.writable(len(chunk)) {
			return false
		}

		peer := s.peer
		peer.rx = append(peer.rx, chunk)
		peer.rxBytes += len(chunk)
		s.stats.AddSent(len(chunk))
		n.net.notify()
		return true
	})

	if result == native.ERROR {
		return int(native.ERROR)
	}
	if !ok {
		if waitFor == 0 {
			return int(n.fail(ErrWouldBlock, "write(%d)", sock))
		}
		return int(n.fail(ErrTimedOut, "write(%d)", sock))
	}
	return len(chunk)
}

func (n *Native) SetSockOpt(sock int, opt native.SockOpt, value any) native.Result {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	s := n.lookup(sock)
	if s == nil {
		return n.fail(ErrBadDescriptor, "setSockOpt(%d, %s)", sock, opt)
	}
	info, ok := opt.Info()
	if !ok || !info.Writable() {
		return n.fail(ErrBadOption, "setSockOpt(%d, %s) not writable", sock, opt)
	}
	v, err := opt.Coerce(value)
	if err != nil {
		return n.fail(ErrBadOption, "setSockOpt(%d): %v", sock, err)
	}
	if opt == native.SRTO_PAYLOADSIZE || opt == native.SRTO_RCVBUF {
		if v.(int32) <= 0 {
			return n.fail(ErrBadOption, "setSockOpt(%d, %s, %v)", sock, opt, v)
		}
	}

	s.opts[opt] = v
	if opt == native.SRTO_LATENCY {
		s.opts[native.SRTO_RCVLATENCY] = v
		s.opts[native.SRTO_PEERLATENCY] = v
	}
	n.net.notify()
	return native.OK
}

func (n *Native) GetSockOpt(sock int, opt native.SockOpt) (any, native.Result) {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	s := n.lookup(sock)
	if s == nil {
		return nil, n.fail(ErrBadDescriptor, "getSockOpt(%d, %s)", sock, opt)
	}
	info, ok := opt.Info()
	if !ok || !info.Readable() {
		return nil, n.fail(ErrBadOption, "getSockOpt(%d, %s) not readable", sock, opt)
	}

	switch opt {
	case native.SRTO_STATE:
		return int32(s.state), native.OK
	case native.SRTO_RCVDATA:
		return int32(len(s.rx)), native.OK
	case native.SRTO_SNDDATA:
		return int32(0), native.OK
	case native.SRTO_EVENT:
		return int32(s.events(native.EpollIn | native.EpollOut | native.EpollErr)), native.OK
	case native.SRTO_PEERVERSION:
		if s.peer == nil {
			return int32(0), native.OK
		}
		return int32(version), native.OK
	}

	if v, ok := s.opts[opt]; ok {
		return v, native.OK
	}
	switch info.Type {
	case native.OptBool:
		return false, native.OK
	case native.OptString:
		return "", native.OK
	case native.OptInt64:
		return int64(0), native.OK
	default:
		return int32(0), native.OK
	}
}

func (n *Native) GetSockState(sock int) native.SockStatus {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	s := n.lookup(sock)
	if s == nil {
		return native.SockNonExist
	}
	return s.state
}

func (n *Native) EpollCreate() int {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	if n.closed {
		n.fail(ErrClosed, "epollCreate")
		return -1
	}

	id := n.net.nextEpid
	n.net.nextEpid++
	n.net.epolls[id] = &epoll{id: id, owner: n}
	n.epolls[id] = struct{}{}
	return id
}

func (n *Native) EpollAddUsock(epid int, sock int, events native.EpollOpt) native.Result {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	ep := n.net.epolls[epid]
	if ep == nil {
		return n.fail(ErrBadEpoll, "epollAddUsock(%d, %d)", epid, sock)
	}
	if n.lookup(sock) == nil {
		return n.fail(ErrBadDescriptor, "epollAddUsock(%d, %d)", epid, sock)
	}

	ep.add(sock, events)
	return native.OK
}

func (n *Native) EpollUWait(epid int, timeoutMs int) ([]native.EpollEvent, native.Result) {
	var (
		events []native.EpollEvent
		result = native.OK
	)

	waitFor := time.Duration(-1)
	if timeoutMs >= 0 {
		waitFor = time.Duration(timeoutMs) * time.Millisecond
	}

	n.net.await(waitFor, func() bool {
		ep := n.net.epolls[epid]
		if ep == nil {
			result = n.fail(ErrBadEpoll, "epollUWait(%d)", epid)
			return true
		}

		events = events[:0]
		for _, sub := range ep.subs {
			s := n.net.sockets[sub.fd]
			if s == nil {
				continue
			}
			if ev := s.events(sub.interest); ev != 0 {
				events = append(events, native.EpollEvent{Socket: sub.fd, Events: ev})
			}
		}
		return len(events) > 0
	})

	if result == native.ERROR {
		return nil, native.ERROR
	}
	if events == nil {
		events = []native.EpollEvent{}
	}
	return events, native.OK
}

func (n *Native) SetLogLevel(level native.LogLevel) native.Result {
	if !level.Valid() {
		return n.fail(ErrBadOption, "setLogLevel(%d)", int(level))
	}
	n.logLevel = level
	return native.OK
}

func (n *Native) Stats(sock int, clear bool) (*native.Stats, native.Result) {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	s := n.lookup(sock)
	if s == nil {
		return nil, n.fail(ErrBadDescriptor, "stats(%d)", sock)
	}

	stats := s.stats
	stats.MsTimeStamp = time.Now().UnixMilli()
	stats.PktRcvBuf = int64(len(s.rx))
	stats.ByteRcvBuf = int64(s.rxBytes)
	stats.ByteAvailRcvBuf = int64(s.intOpt(native.SRTO_RCVBUF) - s.rxBytes)
	stats.ByteMSS = int64(s.intOpt(native.SRTO_MSS))

	if clear {
		s.stats.ClearLocal()
	}
	return &stats, native.OK
}

// --------------------------------------------------------------------------
// Resource cleanup
// --------------------------------------------------------------------------

// Release closes every socket and readiness set owned by this native.
// Afterwards CreateSocket and EpollCreate fail.
func (n *Native) Release() error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	for fd := range n.owned {
		n.closeLocked(fd)
	}
	for id := range n.epolls {
		delete(n.net.epolls, id)
	}
	n.epolls = map[int]struct{}{}
	n.net.notify()
	return nil
}
