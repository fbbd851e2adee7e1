package server

import (
	"bytes"
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/async/rw"
	"github.com/ValentinKolb/asyncsrt/async/socket"
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/ValentinKolb/asyncsrt/lib/native/memnet"
	"github.com/ValentinKolb/asyncsrt/lib/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

const waitTimeout = 5 * time.Second

// recorder collects event names in order
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.list() {
		if e == event {
			n++
		}
	}
	return n
}

func startServer(t *testing.T, factory native.Factory, port int, handlers Handlers) *Server {
	ctx := context.Background()
	srv, err := New(common.DefaultServerConfig("127.0.0.1", port), factory, handlers)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, srv.Dispose(context.Background())) })

	_, err = srv.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, srv.Open(ctx))
	return srv
}

func connect(t *testing.T, factory native.Factory, port int) *socket.Caller {
	ctx := context.Background()
	c, err := socket.NewCaller(common.DefaultClientConfig("127.0.0.1", port), factory, socket.Handlers{})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Dispose(context.Background())) })

	_, err = c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Open(ctx))
	return c
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

func TestEventOrdering(t *testing.T) {
	ctx := context.Background()
	network := memnet.NewNetwork()
	events := &recorder{}
	conns := make(chan *Connection, 4)

	startServer(t, network.Factory(), 9700, Handlers{
		OnCreated: func(*Server) { events.add("created") },
		OnOpened:  func(*Server) { events.add("opened") },
		OnConnection: func(c *Connection) {
			events.add("connection")
			conns <- c
		},
	})
	caller := connect(t, network.Factory(), 9700)

	conn := receive(t, conns)
	assert.Equal(t, []string{"created", "opened", "connection"}, events.list())
	assert.Never(t, func() bool { return events.count("connection") > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	source := make([]byte, 1000)
	rand.New(rand.NewSource(1)).Read(source)
	n, err := conn.Write(ctx, bytes.Clone(source))
	require.NoError(t, err)
	require.Equal(t, 1000, n)

	var received []byte
	for len(received) < len(source) {
		data, err := caller.Read(ctx, 1024)
		require.NoError(t, err)
		require.NotNil(t, data, "peer gone before all data arrived")
		received = append(received, data...)
	}
	assert.Equal(t, source, received)
}

func TestDisconnection(t *testing.T) {
	network := memnet.NewNetwork()
	events := &recorder{}
	conns := make(chan *Connection, 1)
	gone := make(chan int, 1)

	srv := startServer(t, network.Factory(), 9701, Handlers{
		OnConnection: func(c *Connection) {
			c.Handle(ConnectionHandlers{
				OnClosing: func(*Connection) { events.add("closing") },
				OnClosed: func(_ *Connection, res native.Result) {
					events.add("closed:" + res.String())
				},
			})
			conns <- c
		},
		OnDisconnection: func(fd int) {
			events.add("disconnection")
			gone <- fd
		},
	})
	caller := connect(t, network.Factory(), 9701)
	conn := receive(t, conns)

	got, ok := srv.Connection(conn.FD())
	require.True(t, ok)
	assert.Same(t, conn, got)
	assert.Len(t, srv.Connections(), 1)

	require.NoError(t, caller.Dispose(context.Background()))

	assert.Equal(t, conn.FD(), receive(t, gone))
	assert.Equal(t, []string{"closing", "closed:SRT_OK", "disconnection"}, events.list())

	_, ok = srv.Connection(conn.FD())
	assert.False(t, ok)
	assert.Empty(t, srv.Connections())
	assert.True(t, conn.IsClosed())
	assert.NoError(t, srv.Err())

	// closing twice does nothing
	res, err := conn.Close(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, native.OK, res)
	assert.Equal(t, 1, events.count("closing"))

	_, err = conn.Write(context.Background(), []byte("late"))
	assert.ErrorIs(t, err, common.ErrConnectionClosed)
	_, err = conn.Read(context.Background(), 10)
	assert.ErrorIs(t, err, common.ErrConnectionClosed)
}

func TestFirstDataLatch(t *testing.T) {
	ctx := context.Background()
	network := memnet.NewNetwork()

	type delivery struct {
		first bool
		data  string
	}
	deliveries := make(chan delivery, 8)

	startServer(t, network.Factory(), 9702, Handlers{
		OnConnection: func(c *Connection) {
			assert.False(t, c.GotFirstData())
			c.Handle(ConnectionHandlers{
				OnData: func(c *Connection) {
					first := !c.GotFirstData()
					data, err := c.Read(ctx, 1024)
					assert.NoError(t, err)
					deliveries <- delivery{first: first, data: string(data)}
				},
			})
		},
	})
	caller := connect(t, network.Factory(), 9702)

	_, err := caller.Write(ctx, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, delivery{first: true, data: "ping"}, receive(t, deliveries))

	_, err = caller.Write(ctx, []byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, delivery{first: false, data: "pong"}, receive(t, deliveries))
}

// injectingNative reports one readiness event for a descriptor the server
// never registered. With unregistered set the descriptor is a fresh socket
// of this native, otherwise it does not exist.
type injectingNative struct {
	*memnet.Native
	unregistered bool
	pending      atomic.Bool
	injected     atomic.Int64
}

func (n *injectingNative) EpollUWait(epid int, timeoutMs int) ([]native.EpollEvent, native.Result) {
	if n.pending.CompareAndSwap(true, false) {
		fd := 424242
		if n.unregistered {
			fd = n.Native.CreateSocket(false)
		}
		n.injected.Store(int64(fd))
		return []native.EpollEvent{{Socket: fd, Events: native.EpollIn}}, native.OK
	}
	return n.Native.EpollUWait(epid, timeoutMs)
}

func TestUnknownDescriptorIsReported(t *testing.T) {
	network := memnet.NewNetwork()
	injecting := &injectingNative{Native: network.NewNative(), unregistered: true}
	errs := make(chan error, 4)
	conns := make(chan *Connection, 1)

	srv := startServer(t, func() native.INative { return injecting }, 9703, Handlers{
		OnConnection: func(c *Connection) { conns <- c },
		OnError:      func(err error) { errs <- err },
	})
	injecting.pending.Store(true)

	err := receive(t, errs)
	assert.ErrorIs(t, err, common.ErrUnknownDescriptor)
	assert.ErrorIs(t, srv.Err(), common.ErrUnknownDescriptor)

	// the descriptor exists and is not gone, so the event was a data event
	fd := int(injecting.injected.Load())
	state, err := srv.Dispatcher().GetSockState(context.Background(), fd)
	require.NoError(t, err)
	assert.False(t, state.IsGone(), "state %s", state)

	// the loop keeps serving
	connect(t, network.Factory(), 9703)
	receive(t, conns)
}

func TestGoneUnregisteredDescriptorIsIgnored(t *testing.T) {
	network := memnet.NewNetwork()
	injecting := &injectingNative{Native: network.NewNative()}
	errs := make(chan error, 4)
	conns := make(chan *Connection, 1)

	srv := startServer(t, func() native.INative { return injecting }, 9710, Handlers{
		OnConnection: func(c *Connection) { conns <- c },
		OnError:      func(err error) { errs <- err },
	})
	injecting.pending.Store(true)
	require.True(t, util.WaitForCondition(func() bool { return injecting.injected.Load() != 0 }, waitTimeout, time.Millisecond))

	// events are handled in order, so the injected one was handled before
	// the connection
	connect(t, network.Factory(), 9710)
	receive(t, conns)

	assert.NoError(t, srv.Err())
	assert.Empty(t, errs)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestDisposeClosesConnections(t *testing.T) {
	ctx := context.Background()
	network := memnet.NewNetwork()
	closing := make(chan int, 4)
	conns := make(chan *Connection, 4)
	var disposed atomic.Int32

	srv := startServer(t, network.Factory(), 9704, Handlers{
		OnConnection: func(c *Connection) {
			c.Handle(ConnectionHandlers{OnClosing: func(c *Connection) { closing <- c.FD() }})
			conns <- c
		},
		OnDisposed: func(*Server) { disposed.Add(1) },
	})
	first := connect(t, network.Factory(), 9704)
	second := connect(t, network.Factory(), 9704)
	receive(t, conns)
	receive(t, conns)

	require.NoError(t, srv.Dispose(ctx))
	receive(t, srv.Done())
	assert.Len(t, closing, 2)
	assert.Empty(t, srv.Connections())
	assert.EqualValues(t, 1, disposed.Load())
	assert.Equal(t, socket.StateDisposed, srv.State())

	for _, c := range []*socket.Caller{first, second} {
		state, err := c.Dispatcher().GetSockState(ctx, c.Handle())
		require.NoError(t, err)
		assert.Equal(t, native.SockBroken, state)
	}

	// idempotent
	require.NoError(t, srv.Dispose(ctx))
	assert.EqualValues(t, 1, disposed.Load())
}

// gatedRegistrationNative blocks every readiness registration after the
// listener's until gate is closed
type gatedRegistrationNative struct {
	*memnet.Native
	registrations atomic.Int32
	entered       chan struct{}
	gate          chan struct{}
}

func (n *gatedRegistrationNative) EpollAddUsock(epid int, sock int, events native.EpollOpt) native.Result {
	if n.registrations.Add(1) > 1 {
		select {
		case n.entered <- struct{}{}:
		default:
		}
		<-n.gate
	}
	return n.Native.EpollAddUsock(epid, sock, events)
}

func TestDisposeClosesConnectionAcceptedWhileDisposing(t *testing.T) {
	network := memnet.NewNetwork()
	gated := &gatedRegistrationNative{
		Native:  network.NewNative(),
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	closing := make(chan int, 1)
	closed := make(chan int, 1)

	srv := startServer(t, func() native.INative { return gated }, 9711, Handlers{
		OnConnection: func(c *Connection) {
			c.Handle(ConnectionHandlers{
				OnClosing: func(c *Connection) { closing <- c.FD() },
				OnClosed:  func(c *Connection, _ native.Result) { closed <- c.FD() },
			})
		},
	})
	connect(t, network.Factory(), 9711)
	receive(t, gated.entered)

	// the accept is stuck in its registration while Dispose takes its snapshot
	disposed := make(chan error, 1)
	go func() { disposed <- srv.Dispose(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(gated.gate)

	fd := receive(t, closing)
	assert.Equal(t, fd, receive(t, closed))
	require.NoError(t, receive(t, disposed))
	assert.Empty(t, srv.Connections())
}

func TestDisposeWithoutOpen(t *testing.T) {
	srv, err := New(common.DefaultServerConfig("127.0.0.1", 9705), memnet.NewNetwork().Factory(), Handlers{})
	require.NoError(t, err)

	require.NoError(t, srv.Dispose(context.Background()))
	receive(t, srv.Done())
}

func TestOpenFailsOnBusyPort(t *testing.T) {
	ctx := context.Background()
	network := memnet.NewNetwork()
	startServer(t, network.Factory(), 9706, Handlers{})

	opened := false
	srv, err := New(common.DefaultServerConfig("127.0.0.1", 9706), network.Factory(), Handlers{
		OnOpened: func(*Server) { opened = true },
	})
	require.NoError(t, err)
	defer srv.Dispose(ctx)

	_, err = srv.Create(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, srv.Open(ctx), common.ErrBindFailed)
	assert.False(t, opened)
}

func TestConfigDefaults(t *testing.T) {
	srv, err := New(common.ServerConfig{Address: "127.0.0.1", Port: 9707}, memnet.NewNetwork().Factory(), Handlers{})
	require.NoError(t, err)
	defer srv.Dispose(context.Background())

	assert.Equal(t, common.DefaultBacklog, srv.Config().Backlog)
	assert.Equal(t, common.DefaultIdleBackoff, srv.Config().IdleBackoff)
	assert.Equal(t, "server:9707", srv.Dispatcher().Config().Name)

	_, err = New(common.ServerConfig{Address: "127.0.0.1", Port: 0}, memnet.NewNetwork().Factory(), Handlers{})
	assert.ErrorIs(t, err, common.ErrInvalidPort)
}

// --------------------------------------------------------------------------
// Bulk transfer
// --------------------------------------------------------------------------

const (
	bulkChunks        = 8192
	bulkChunkSize     = 1024
	bulkWritesPerTick = 32
	bulkReadBufSize   = 1 << 20
)

type chunkWriter func(ctx context.Context, c rw.ICaller, fd int, chunks [][]byte, onWrite rw.WriteFunc, writesPerTick int) error

// runBulkTransfer writes 8 MiB in 1 KiB chunks from a caller to the accepted
// connection and checks that every byte arrives once and in order
func runBulkTransfer(t *testing.T, serverFactory, callerFactory native.Factory, port int, write chunkWriter) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conns := make(chan *Connection, 1)
	srv := startServer(t, serverFactory, port, Handlers{
		OnConnection: func(c *Connection) { conns <- c },
	})
	caller := connect(t, callerFactory, port)
	conn := receive(t, conns)

	source := make([]byte, bulkChunks*bulkChunkSize)
	rand.New(rand.NewSource(42)).Read(source)
	chunks := util.SliceBufferToChunks(source, bulkChunkSize)
	require.Len(t, chunks, bulkChunks)

	type readResult struct {
		chunks [][]byte
		err    error
	}
	read := make(chan readResult, 1)
	go func() {
		got, err := rw.ReadChunks(ctx, srv.Dispatcher(), conn.FD(), len(source), bulkReadBufSize, rw.DefaultReadOptions())
		read <- readResult{got, err}
	}()

	sent, next := 0, 0
	err := write(ctx, caller.Dispatcher(), caller.Handle(), util.CloneChunks(chunks), func(n, idx int) {
		if n == 0 || idx != next {
			t.Errorf("write of chunk %d reported %d bytes, expected chunk %d", idx, n, next)
		}
		sent += n
		next++
	}, bulkWritesPerTick)
	require.NoError(t, err)

	res := receive(t, read)
	require.NoError(t, res.err)

	assert.Equal(t, len(source), sent)
	assert.Equal(t, bulkChunks, next)
	assert.Equal(t, bulkChunks, len(res.chunks))
	assert.Equal(t, sent, util.ChunksTotalByteLength(res.chunks))
	assert.True(t, bytes.Equal(source, util.CopyChunksIntoBuffer(res.chunks)), "received bytes differ from the source")
}

func TestBulkTransfer(t *testing.T) {
	if testing.Short() {
		t.Skip("bulk transfer in short mode")
	}

	writers := map[string]chunkWriter{
		"yielding":  rw.WriteChunksYielding,
		"scheduled": rw.WriteChunksScheduled,
	}
	port := 9750
	for name, write := range writers {
		port++
		t.Run(name, func(t *testing.T) {
			network := memnet.NewNetwork()
			runBulkTransfer(t, network.Factory(), network.Factory(), port, write)
		})
	}
}
