package native

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// INative is the synchronous socket operation set.
//
// Every operation reports failure through its result value (ERROR, or a
// negative descriptor), never through a Go error. Blocking behaviour of
// Accept, Read and Write follows the SRTO_RCVSYN / SRTO_SNDSYN options of the
// socket (both default to blocking).
type INative interface {
	// CreateSocket allocates a new socket and returns its descriptor (or -1)
	CreateSocket(sender bool) int

	// Bind binds the socket to a local address and port
	Bind(sock int, address string, port int) Result

	// Listen turns a bound socket into a listener
	Listen(sock int, backlog int) Result

	// Connect connects the socket to a listening peer
	Connect(sock int, host string, port int) Result

	// Accept takes one pending connection from a listener and returns its descriptor (or -1)
	Accept(sock int) int

	// Close releases the socket. Closed sockets are removed from all readiness sets.
	Close(sock int) Result

	// Read reads one message of at most size bytes.
	// It returns nil, OK when the peer is gone and nothing is left to read.
	Read(sock int, size int) ([]byte, Result)

	// Write sends chunk as one message and returns the number of bytes sent or ERROR.
	// Chunks larger than the payload size fail.
	Write(sock int, chunk []byte) int

	// SetSockOpt sets an option on the socket
	SetSockOpt(sock int, opt SockOpt, value any) Result

	// GetSockOpt returns the value of an option
	GetSockOpt(sock int, opt SockOpt) (any, Result)

	// GetSockState returns the state of the socket (SockNonExist for unknown descriptors)
	GetSockState(sock int) SockStatus

	// EpollCreate creates a readiness set and returns its id (or -1)
	EpollCreate() int

	// EpollAddUsock registers the socket with the readiness set
	EpollAddUsock(epid int, sock int, events EpollOpt) Result

	// EpollUWait waits up to timeoutMs (negative: forever) for ready sockets.
	// A timeout with no ready socket returns an empty list and OK.
	EpollUWait(epid int, timeoutMs int) ([]EpollEvent, Result)

	// SetLogLevel sets the verbosity of the native library
	SetLogLevel(level LogLevel) Result

	// Stats returns the transfer statistics of the socket, optionally resetting the local counters
	Stats(sock int, clear bool) (*Stats, Result)
}

// ILastErrorReporter is implemented by natives that can explain their last ERROR result
type ILastErrorReporter interface {
	LastError() error
}

// IReleaser is implemented by natives that hold resources of their own.
// Release closes every socket and readiness set the native created.
type IReleaser interface {
	Release() error
}

// Factory creates a new INative instance. Each call must return a fresh
// instance: two channels never share one.
type Factory func() INative

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats is the subset of the native statistics record the implementations track
type Stats struct {
	MsTimeStamp int64 `json:"msTimeStamp"`

	// totals since the socket was created
	PktSentTotal  int64 `json:"pktSentTotal"`
	PktRecvTotal  int64 `json:"pktRecvTotal"`
	ByteSentTotal int64 `json:"byteSentTotal"`
	ByteRecvTotal int64 `json:"byteRecvTotal"`

	// local counters since the last clear
	PktSent  int64 `json:"pktSent"`
	PktRecv  int64 `json:"pktRecv"`
	ByteSent int64 `json:"byteSent"`
	ByteRecv int64 `json:"byteRecv"`

	// instant measurements
	PktRcvBuf       int64 `json:"pktRcvBuf"`
	ByteRcvBuf      int64 `json:"byteRcvBuf"`
	ByteAvailRcvBuf int64 `json:"byteAvailRcvBuf"`
	ByteMSS         int64 `json:"byteMSS"`
}

// ClearLocal resets the counters that a clearing Stats call resets
func (s *Stats) ClearLocal() {
	s.PktSent = 0
	s.PktRecv = 0
	s.ByteSent = 0
	s.ByteRecv = 0
}

// AddSent records one sent message of n bytes
func (s *Stats) AddSent(n int) {
	s.PktSent++
	s.PktSentTotal++
	s.ByteSent += int64(n)
	s.ByteSentTotal += int64(n)
}

// AddRecv records one received message of n bytes
func (s *Stats) AddRecv(n int) {
	s.PktRecv++
	s.PktRecvTotal++
	s.ByteRecv += int64(n)
	s.ByteRecvTotal += int64(n)
}
