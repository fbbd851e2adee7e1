//go:build linux

package unixnet

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sys/unix"
)

var Logger = logger.GetLogger("native")

const (
	// DefaultNamespace is the prefix of the abstract socket names
	DefaultNamespace = "asrt"

	// DefaultPayloadSize is the largest message a socket accepts by default
	DefaultPayloadSize = 1316

	maxEpollEvents = 128
)

var (
	ErrBadDescriptor  = errors.New("invalid socket descriptor")
	ErrBadState       = errors.New("operation not permitted in socket state")
	ErrWouldBlock     = errors.New("operation would block")
	ErrMessageSize    = errors.New("message size out of range")
	ErrBufferTooSmall = errors.New("read buffer smaller than message")
	ErrBadEpoll       = errors.New("invalid epoll id")
	ErrBadOption      = errors.New("invalid socket option")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// sockState is the bookkeeping the kernel does not do for us
type sockState struct {
	sender    bool
	port      int
	listening bool
	connected bool
	peerGone  bool
	opts      map[native.SockOpt]any
	stats     native.Stats
}

func (s *sockState) boolOpt(opt native.SockOpt) bool {
	v, _ := s.opts[opt].(bool)
	return v
}

func (s *sockState) intOpt(opt native.SockOpt) int {
	switch v := s.opts[opt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// Native is an INative on kernel sockets. It is not safe for concurrent use
// except for Release and SocketCount.
type Native struct {
	namespace string
	socks     *xsync.MapOf[int, *sockState]
	epolls    *xsync.MapOf[int, struct{}]
	events    []unix.EpollEvent
	lastErr   error
	logLevel  native.LogLevel
}

// NewNative creates a native using the given abstract namespace (DefaultNamespace if empty)
func NewNative(namespace string) *Native {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Native{
		namespace: namespace,
		socks:     xsync.NewMapOf[int, *sockState](),
		epolls:    xsync.NewMapOf[int, struct{}](),
		events:    make([]unix.EpollEvent, maxEpollEvents),
		logLevel:  native.LogError,
	}
}

// Factory returns a native.Factory creating natives in the given namespace
func Factory(namespace string) native.Factory {
	return func() native.INative {
		return NewNative(namespace)
	}
}

// LastError returns the reason of the last failed operation
func (n *Native) LastError() error {
	return n.lastErr
}

// SocketCount returns the number of open sockets of this native
func (n *Native) SocketCount() int {
	return n.socks.Size()
}

func (n *Native) fail(err error, format string, args ...any) native.Result {
	n.lastErr = fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
	if n.logLevel >= native.LogDebug {
		Logger.Debugf("%v", n.lastErr)
	}
	return native.ERROR
}

func (n *Native) address(port int) *unix.SockaddrUnix {
	// a leading '@' selects the abstract namespace
	return &unix.SockaddrUnix{Name: fmt.Sprintf("@%s-%d", n.namespace, port)}
}

func newSockState(sender bool) *sockState {
	return &sockState{
		sender: sender,
		opts: map[native.SockOpt]any{
			native.SRTO_SNDSYN:      true,
			native.SRTO_RCVSYN:      true,
			native.SRTO_SNDTIMEO:    int32(-1),
			native.SRTO_RCVTIMEO:    int32(-1),
			native.SRTO_PAYLOADSIZE: int32(DefaultPayloadSize),
			native.SRTO_MESSAGEAPI:  true,
			native.SRTO_REUSEADDR:   true,
			native.SRTO_SENDER:      sender,
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see native.INative)
// --------------------------------------------------------------------------

func (n *Native) CreateSocket(sender bool) int {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		n.fail(err, "createSocket")
		return -1
	}
	n.socks.Store(fd, newSockState(sender))
	return fd
}

func (n *Native) Bind(sock int, address string, port int) native.Result {
	s, ok := n.socks.Load(sock)
	if !ok {
		return n.fail(ErrBadDescriptor, "bind(%d)", sock)
	}
	if port <= 0 || port > 65535 {
		return n.fail(ErrBadState, "bind(%d) to port %d", sock, port)
	}
	if err := unix.Bind(sock, n.address(port)); err != nil {
		return n.fail(err, "bind(%d) to %s:%d", sock, address, port)
	}
	s.port = port
	return native.OK
}

func (n *Native) Listen(sock int, backlog int) native.Result {
	s, ok := n.socks.Load(sock)
	if !ok {
		return n.fail(ErrBadDescriptor, "listen(%d)", sock)
	}
	if s.port == 0 {
		return n.fail(ErrBadState, "listen(%d) on unbound socket", sock)
	}
	if err := unix.Listen(sock, backlog); err != nil {
		return n.fail(err, "listen(%d)", sock)
	}
	s.listening = true
	return native.OK
}

func (n *Native) Connect(sock int, host string, port int) native.Result {
	s, ok := n.socks.Load(sock)
	if !ok {
		return n.fail(ErrBadDescriptor, "connect(%d)", sock)
	}
	if s.listening || s.connected {
		return n.fail(ErrBadState, "connect(%d) on listening or connected socket", sock)
	}
	if err := unix.Connect(sock, n.address(port)); err != nil {
		return n.fail(err, "connect(%d) to %s:%d", sock, host, port)
	}
	s.connected = true
	return native.OK
}

func (n *Native) Accept(sock int) int {
	s, ok := n.socks.Load(sock)
	if !ok {
		n.fail(ErrBadDescriptor, "accept(%d)", sock)
		return -1
	}
	if !s.listening {
		n.fail(ErrBadState, "accept(%d) on socket not listening", sock)
		return -1
	}
	if !s.boolOpt(native.SRTO_RCVSYN) && !pollIn(sock) {
		n.fail(ErrWouldBlock, "accept(%d)", sock)
		return -1
	}

	fd, _, err := unix.Accept4(sock, unix.SOCK_CLOEXEC)
	for err == unix.EINTR {
		fd, _, err = unix.Accept4(sock, unix.SOCK_CLOEXEC)
	}
	if err != nil {
		n.fail(err, "accept(%d)", sock)
		return -1
	}

	accepted := newSockState(!s.sender)
	accepted.connected = true
	accepted.opts[native.SRTO_PAYLOADSIZE] = s.opts[native.SRTO_PAYLOADSIZE]
	n.socks.Store(fd, accepted)
	return fd
}

func (n *Native) Close(sock int) native.Result {
	if _, ok := n.socks.LoadAndDelete(sock); !ok {
		return n.fail(ErrBadDescriptor, "close(%d)", sock)
	}
	// the kernel removes the descriptor from every epoll set
	if err := unix.Close(sock); err != nil {
		return n.fail(err, "close(%d)", sock)
	}
	return native.OK
}

func (n *Native) Read(sock int, size int) ([]byte, native.Result) {
	s, ok := n.socks.Load(sock)
	if !ok {
		return nil, n.fail(ErrBadDescriptor, "read(%d)", sock)
	}
	if !s.connected {
		return nil, n.fail(ErrBadState, "read(%d) on unconnected socket", sock)
	}
	if size <= 0 {
		return nil, n.fail(ErrMessageSize, "read(%d, %d)", sock, size)
	}

	flags := 0
	if !s.boolOpt(native.SRTO_RCVSYN) {
		flags |= unix.MSG_DONTWAIT
	}

	buf := make([]byte, size)
	m, _, recvFlags, _, err := unix.Recvmsg(sock, buf, nil, flags)
	for err == unix.EINTR {
		m, _, recvFlags, _, err = unix.Recvmsg(sock, buf, nil, flags)
	}
	switch {
	case err == unix.EAGAIN:
		return nil, n.fail(ErrWouldBlock, "read(%d)", sock)
	case err != nil:
		return nil, n.fail(err, "read(%d)", sock)
	case recvFlags&unix.MSG_TRUNC != 0:
		return nil, n.fail(ErrBufferTooSmall, "read(%d, %d)", sock, size)
	case m == 0:
		// end of stream: the peer closed and the queue is drained
		s.peerGone = true
		return nil, native.OK
	}

	s.stats.AddRecv(m)
	return buf[:m], native.OK
}

func (n *Native) Write(sock int, chunk []byte) int {
	s, ok := n.socks.Load(sock)
	if !ok {
		return int(n.fail(ErrBadDescriptor, "write(%d)", sock))
	}
	if !s.connected || s.peerGone {
		return int(n.fail(ErrBadState, "write(%d) on unconnected socket", sock))
	}
	payload := s.intOpt(native.SRTO_PAYLOADSIZE)
	if len(chunk) == 0 || (payload > 0 && len(chunk) > payload) {
		return int(n.fail(ErrMessageSize, "write(%d) of %d bytes (payload size %d)", sock, len(chunk), payload))
	}

	flags := unix.MSG_NOSIGNAL
	if !s.boolOpt(native.SRTO_SNDSYN) {
		flags |= unix.MSG_DONTWAIT
	}

	m, err := unix.SendmsgN(sock, chunk, nil, nil, flags)
	for err == unix.EINTR {
		m, err = unix.SendmsgN(sock, chunk, nil, nil, flags)
	}
	switch {
	case err == unix.EAGAIN:
		return int(n.fail(ErrWouldBlock, "write(%d)", sock))
	case err == unix.EPIPE || err == unix.ECONNRESET:
		s.peerGone = true
		return int(n.fail(err, "write(%d)", sock))
	case err != nil:
		return int(n.fail(err, "write(%d)", sock))
	}

	s.stats.AddSent(m)
	return m
}

func (n *Native) SetSockOpt(sock int, opt native.SockOpt, value any) native.Result {
	s, ok := n.socks.Load(sock)
	if !ok {
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

	switch opt {
	case native.SRTO_SNDBUF:
		err = unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_SNDBUF, int(v.(int32)))
	case native.SRTO_RCVBUF:
		err = unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_RCVBUF, int(v.(int32)))
	case native.SRTO_SNDTIMEO:
		err = unix.SetsockoptTimeval(sock, unix.SOL_SOCKET, unix.SO_SNDTIMEO, msToTimeval(v.(int32)))
	case native.SRTO_RCVTIMEO:
		err = unix.SetsockoptTimeval(sock, unix.SOL_SOCKET, unix.SO_RCVTIMEO, msToTimeval(v.(int32)))
	case native.SRTO_PAYLOADSIZE:
		if v.(int32) <= 0 {
			err = ErrBadOption
		}
	}
	if err != nil {
		return n.fail(err, "setSockOpt(%d, %s, %v)", sock, opt, v)
	}

	s.opts[opt] = v
	return native.OK
}

func (n *Native) GetSockOpt(sock int, opt native.SockOpt) (any, native.Result) {
	s, ok := n.socks.Load(sock)
	if !ok {
		return nil, n.fail(ErrBadDescriptor, "getSockOpt(%d, %s)", sock, opt)
	}
	info, ok := opt.Info()
	if !ok || !info.Readable() {
		return nil, n.fail(ErrBadOption, "getSockOpt(%d, %s) not readable", sock, opt)
	}

	switch opt {
	case native.SRTO_STATE:
		return int32(n.GetSockState(sock)), native.OK
	case native.SRTO_SNDBUF:
		v, err := unix.GetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_SNDBUF)
		if err != nil {
			return nil, n.fail(err, "getSockOpt(%d, %s)", sock, opt)
		}
		return int32(v), native.OK
	case native.SRTO_RCVBUF:
		v, err := unix.GetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_RCVBUF)
		if err != nil {
			return nil, n.fail(err, "getSockOpt(%d, %s)", sock, opt)
		}
		return int32(v), native.OK
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
	s, ok := n.socks.Load(sock)
	switch {
	case !ok:
		return native.SockNonExist
	case s.listening:
		return native.SockListening
	case s.connected && (s.peerGone || peerHungUp(sock)):
		return native.SockBroken
	case s.connected:
		return native.SockConnected
	case s.port != 0:
		return native.SockOpened
	default:
		return native.SockInit
	}
}

func (n *Native) EpollCreate() int {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		n.fail(err, "epollCreate")
		return -1
	}
	n.epolls.Store(epfd, struct{}{})
	return epfd
}

func (n *Native) EpollAddUsock(epid int, sock int, events native.EpollOpt) native.Result {
	if _, ok := n.epolls.Load(epid); !ok {
		return n.fail(ErrBadEpoll, "epollAddUsock(%d, %d)", epid, sock)
	}
	if _, ok := n.socks.Load(sock); !ok {
		return n.fail(ErrBadDescriptor, "epollAddUsock(%d, %d)", epid, sock)
	}

	event := unix.EpollEvent{Events: toKernelEvents(events), Fd: int32(sock)}
	err := unix.EpollCtl(epid, unix.EPOLL_CTL_ADD, sock, &event)
	if err == unix.EEXIST {
		err = unix.EpollCtl(epid, unix.EPOLL_CTL_MOD, sock, &event)
	}
	if err != nil {
		return n.fail(err, "epollAddUsock(%d, %d)", epid, sock)
	}
	return native.OK
}

func (n *Native) EpollUWait(epid int, timeoutMs int) ([]native.EpollEvent, native.Result) {
	if _, ok := n.epolls.Load(epid); !ok {
		return nil, n.fail(ErrBadEpoll, "epollUWait(%d)", epid)
	}

	count, err := unix.EpollWait(epid, n.events, timeoutMs)
	for err == unix.EINTR {
		count, err = unix.EpollWait(epid, n.events, timeoutMs)
	}
	if err != nil {
		return nil, n.fail(err, "epollUWait(%d)", epid)
	}

	result := make([]native.EpollEvent, 0, count)
	for i := 0; i < count; i++ {
		result = append(result, native.EpollEvent{
			Socket: int(n.events[i].Fd),
			Events: fromKernelEvents(n.events[i].Events),
		})
	}
	return result, native.OK
}

func (n *Native) SetLogLevel(level native.LogLevel) native.Result {
	if !level.Valid() {
		return n.fail(ErrBadOption, "setLogLevel(%d)", int(level))
	}
	n.logLevel = level
	return native.OK
}

func (n *Native) Stats(sock int, clear bool) (*native.Stats, native.Result) {
	s, ok := n.socks.Load(sock)
	if !ok {
		return nil, n.fail(ErrBadDescriptor, "stats(%d)", sock)
	}

	stats := s.stats
	stats.MsTimeStamp = time.Now().UnixMilli()
	if queued, err := unix.IoctlGetInt(sock, unix.SIOCINQ); err == nil {
		stats.ByteRcvBuf = int64(queued)
	}
	stats.ByteMSS = int64(s.intOpt(native.SRTO_PAYLOADSIZE))

	if clear {
		s.stats.ClearLocal()
	}
	return &stats, native.OK
}

// Release closes every socket and epoll set of this native
func (n *Native) Release() error {
	var firstErr error
	n.socks.Range(func(fd int, _ *sockState) bool {
		n.socks.Delete(fd)
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	n.epolls.Range(func(epfd int, _ struct{}) bool {
		n.epolls.Delete(epfd)
		if err := unix.Close(epfd); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// pollIn reports whether fd is readable right now
func pollIn(fd int) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	return err == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0
}

// peerHungUp reports whether the peer of a connected fd has closed
func peerHungUp(fd int) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN | unix.POLLRDHUP}}
	n, err := unix.Poll(fds, 0)
	if err != nil || n == 0 {
		return false
	}
	return fds[0].Revents&(unix.POLLHUP|unix.POLLRDHUP|unix.POLLERR) != 0
}

func toKernelEvents(events native.EpollOpt) uint32 {
	var k uint32
	if events&native.EpollIn != 0 {
		k |= unix.EPOLLIN
	}
	if events&native.EpollOut != 0 {
		k |= unix.EPOLLOUT
	}
	if events&native.EpollErr != 0 {
		k |= unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
	}
	if events&native.EpollET != 0 {
		k |= unix.EPOLLET
	}
	return k
}

func fromKernelEvents(k uint32) native.EpollOpt {
	var events native.EpollOpt
	if k&unix.EPOLLIN != 0 {
		events |= native.EpollIn
	}
	if k&unix.EPOLLOUT != 0 {
		events |= native.EpollOut
	}
	if k&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= native.EpollErr
	}
	return events
}

func msToTimeval(ms int32) *unix.Timeval {
	if ms < 0 {
		// zero means no timeout
		ms = 0
	}
	tv := unix.NsecToTimeval(int64(ms) * int64(time.Millisecond))
	return &tv
}
