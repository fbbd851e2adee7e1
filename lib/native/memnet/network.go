package memnet

import (
	"sync"
	"time"

	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("native")

const (
	// DefaultPayloadSize is the largest message a socket accepts by default
	DefaultPayloadSize = 1316

	// DefaultRcvBuf is the default receive queue capacity in bytes
	DefaultRcvBuf = 8192 * DefaultPayloadSize

	// version reported by SRTO_VERSION
	version = 0x010500
)

// --------------------------------------------------------------------------
// Network
// --------------------------------------------------------------------------

// Network is the shared state of all natives created from it.
// Every field is guarded by mu. Waiters never hold mu while blocked: they
// wait on the changed channel, which is closed and replaced on every state change.
type Network struct {
	mu      sync.Mutex
	changed chan struct{}

	nextFD   int
	nextEpid int
	sockets  map[int]*socket
	ports    map[int]*socket
	epolls   map[int]*epoll
}

// NewNetwork creates an empty network
func NewNetwork() *Network {
	return &Network{
		changed:  make(chan struct{}),
		nextFD:   100,
		nextEpid: 1,
		sockets:  make(map[int]*socket),
		ports:    make(map[int]*socket),
		epolls:   make(map[int]*epoll),
	}
}

// NewNative creates a native bound to this network
func (n *Network) NewNative() *Native {
	return &Native{
		net:      n,
		owned:    make(map[int]struct{}),
		epolls:   make(map[int]struct{}),
		logLevel: native.LogError,
	}
}

// Factory returns a native.Factory creating a fresh native per call
func (n *Network) Factory() native.Factory {
	return func() native.INative {
		return n.NewNative()
	}
}

// SocketCount returns the number of open sockets in the network
func (n *Network) SocketCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sockets)
}

// notify wakes up all waiters. Must be called with mu held.
func (n *Network) notify() {
	close(n.changed)
	n.changed = make(chan struct{})
}

// await runs step under the network lock until it reports done or the
// timeout expires. A negative timeout waits forever. Returns whether step
// reported done.
func (n *Network) await(timeout time.Duration, step func() bool) bool {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		n.mu.Lock()
		done := step()
		changed := n.changed
		n.mu.Unlock()

		if done {
			return true
		}

		select {
		case <-changed:
		case <-expired:
			n.mu.Lock()
			done = step()
			n.mu.Unlock()
			return done
		}
	}
}

// --------------------------------------------------------------------------
// Sockets
// --------------------------------------------------------------------------

type socket struct {
	fd     int
	owner  *Native
	state  native.SockStatus
	sender bool
	opts   map[native.SockOpt]any

	// listener fields
	port    int
	backlog int
	pending []*socket

	// connection fields
	peer    *socket
	rx      [][]byte
	rxBytes int
	stats   native.Stats
}

func newSocket(fd int, owner *Native, sender bool) *socket {
	return &socket{
		fd:     fd,
		owner:  owner,
		state:  native.SockInit,
		sender: sender,
		opts: map[native.SockOpt]any{
			native.SRTO_SNDSYN:      true,
			native.SRTO_RCVSYN:      true,
			native.SRTO_SNDTIMEO:    int32(-1),
			native.SRTO_RCVTIMEO:    int32(-1),
			native.SRTO_PAYLOADSIZE: int32(DefaultPayloadSize),
			native.SRTO_RCVBUF:      int32(DefaultRcvBuf),
			native.SRTO_SNDBUF:      int32(DefaultRcvBuf),
			native.SRTO_MSS:         int32(1500),
			native.SRTO_LATENCY:     int32(120),
			native.SRTO_CONNTIMEO:   int32(3000),
			native.SRTO_MESSAGEAPI:  true,
			native.SRTO_REUSEADDR:   true,
			native.SRTO_SENDER:      sender,
			native.SRTO_VERSION:     int32(version),
		},
	}
}

func (s *socket) boolOpt(opt native.SockOpt) bool {
	v, _ := s.opts[opt].(bool)
	return v
}

func (s *socket) intOpt(opt native.SockOpt) int {
	switch v := s.opts[opt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// timeoutOpt converts a millisecond option to a wait timeout (negative: forever)
func (s *socket) timeoutOpt(opt native.SockOpt) time.Duration {
	ms := s.intOpt(opt)
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

// readable reports whether a read or accept would not block
func (s *socket) readable() bool {
	switch s.state {
	case native.SockListening:
		return len(s.pending) > 0
	case native.SockConnected, native.SockBroken:
		return len(s.rx) > 0
	}
	return false
}

// writable reports whether the peer can take a message of n bytes
func (s *socket) writable(n int) bool {
	if s.state != native.SockConnected || s.peer == nil {
		return false
	}
	peer := s.peer
	return peer.rxBytes == 0 || peer.rxBytes+n <= peer.intOpt(native.SRTO_RCVBUF)
}

// events computes the ready events of s for the interest mask
func (s *socket) events(interest native.EpollOpt) native.EpollOpt {
	var ev native.EpollOpt
	if interest&native.EpollIn != 0 && s.readable() {
		ev |= native.EpollIn
	}
	if interest&native.EpollOut != 0 && s.state == native.SockConnected && s.writable(1) {
		ev |= native.EpollOut
	}
	if interest&native.EpollErr != 0 && s.state.IsGone() {
		ev |= native.EpollErr
	}
	return ev
}

// --------------------------------------------------------------------------
// Readiness sets
// --------------------------------------------------------------------------

type subscription struct {
	fd       int
	interest native.EpollOpt
}

type epoll struct {
	id    int
	owner *Native
	subs  []subscription
}

func (e *epoll) add(fd int, interest native.EpollOpt) {
	for i := range e.subs {
		if e.subs[i].fd == fd {
			e.subs[i].interest = interest
			return
		}
	}
	e.subs = append(e.subs, subscription{fd: fd, interest: interest})
}

func (e *epoll) remove(fd int) {
	for i := range e.subs {
		if e.subs[i].fd == fd {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}
