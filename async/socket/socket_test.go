package socket

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/ValentinKolb/asyncsrt/lib/native/memnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// countingRole counts open steps and fails them with err
type countingRole struct {
	opened atomic.Int32
	err    error
}

func (r *countingRole) OpenSocket(context.Context, *Socket) error {
	r.opened.Add(1)
	return r.err
}

// gatedNative blocks GetSockState until the gate is closed
type gatedNative struct {
	*memnet.Native
	gate chan struct{}
}

func (g *gatedNative) GetSockState(sock int) native.SockStatus {
	<-g.gate
	return g.Native.GetSockState(sock)
}

func newSocket(t *testing.T, network *memnet.Network, role IOpener, handlers Handlers) *Socket {
	s, err := New("127.0.0.1", 9500, role, network.Factory(), common.DefaultDispatcherConfig(), handlers)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Dispose(context.Background())) })
	return s
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestNewValidatesPort(t *testing.T) {
	network := memnet.NewNetwork()

	for _, port := range []int{-1, 0, 65536, 100000} {
		_, err := New("127.0.0.1", port, &countingRole{}, network.Factory(), common.DefaultDispatcherConfig(), Handlers{})
		assert.ErrorIs(t, err, common.ErrInvalidPort, "port %d", port)
	}

	for _, port := range []int{1, 65535} {
		s, err := New("127.0.0.1", port, &countingRole{}, network.Factory(), common.DefaultDispatcherConfig(), Handlers{})
		require.NoError(t, err, "port %d", port)
		assert.Equal(t, port, s.Port())
		require.NoError(t, s.Dispose(context.Background()))
	}

	_, err := New("127.0.0.1", 9000, nil, network.Factory(), common.DefaultDispatcherConfig(), Handlers{})
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	network := memnet.NewNetwork()
	role := &countingRole{}

	var created, disposed []*Socket
	s := newSocket(t, network, role, Handlers{
		OnCreated:  func(s *Socket) { created = append(created, s) },
		OnDisposed: func(s *Socket) { disposed = append(disposed, s) },
	})

	assert.Equal(t, StateUncreated, s.State())
	assert.Equal(t, -1, s.Handle())

	fd, err := s.Create(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fd, 0)
	assert.Equal(t, fd, s.Handle())
	assert.Equal(t, StateCreated, s.State())
	assert.Equal(t, []*Socket{s}, created)
	assert.Equal(t, 1, network.SocketCount())

	_, err = s.Create(ctx)
	assert.ErrorIs(t, err, common.ErrAlreadyCreated)
	assert.Len(t, created, 1)

	require.NoError(t, s.Open(ctx))
	assert.Equal(t, StateOpened, s.State())
	assert.EqualValues(t, 1, role.opened.Load())

	assert.ErrorIs(t, s.Open(ctx), common.ErrInvalidState)
	assert.EqualValues(t, 1, role.opened.Load())

	require.NoError(t, s.Dispose(ctx))
	assert.Equal(t, StateDisposed, s.State())
	assert.True(t, s.IsDisposed())
	assert.True(t, s.Dispatcher().IsDisposed())
	assert.Equal(t, []*Socket{s}, disposed)
	assert.Equal(t, 0, network.SocketCount())

	// idempotent
	require.NoError(t, s.Dispose(ctx))
	assert.Len(t, disposed, 1)

	_, err = s.Create(ctx)
	assert.ErrorIs(t, err, common.ErrDisposed)
	assert.ErrorIs(t, s.Open(ctx), common.ErrDisposed)
}

func TestOpenBeforeCreate(t *testing.T) {
	role := &countingRole{}
	s := newSocket(t, memnet.NewNetwork(), role, Handlers{})

	assert.ErrorIs(t, s.Open(context.Background()), common.ErrNoSocket)
	assert.Zero(t, role.opened.Load())
}

func TestOpenFailureKeepsSocketCreated(t *testing.T) {
	ctx := context.Background()
	refused := errors.New("refused")
	role := &countingRole{err: refused}
	s := newSocket(t, memnet.NewNetwork(), role, Handlers{})

	_, err := s.Create(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Open(ctx), refused)
	assert.Equal(t, StateCreated, s.State())

	role.err = nil
	require.NoError(t, s.Open(ctx))
	assert.Equal(t, StateOpened, s.State())
}

func TestDisposeWithoutCreate(t *testing.T) {
	var disposed atomic.Int32
	s := newSocket(t, memnet.NewNetwork(), &countingRole{}, Handlers{
		OnDisposed: func(*Socket) { disposed.Add(1) },
	})

	require.NoError(t, s.Dispose(context.Background()))
	assert.EqualValues(t, 1, disposed.Load())
	assert.Equal(t, StateDisposed, s.State())
}

func TestDisposeFromHandlers(t *testing.T) {
	ctx := context.Background()
	network := memnet.NewNetwork()

	var disposed atomic.Int32
	s := newSocket(t, network, &countingRole{}, Handlers{
		OnCreated: func(s *Socket) { assert.NoError(t, s.Dispose(ctx)) },
		OnDisposed: func(s *Socket) {
			disposed.Add(1)
			// re-entrant dispose is a no-op
			assert.NoError(t, s.Dispose(ctx))
		},
	})

	_, err := s.Create(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateDisposed, s.State())
	assert.EqualValues(t, 1, disposed.Load())
	assert.Equal(t, 0, network.SocketCount())
}

func TestDisposeRetryAfterContextEnds(t *testing.T) {
	network := memnet.NewNetwork()
	gated := &gatedNative{Native: network.NewNative(), gate: make(chan struct{})}

	var disposed atomic.Int32
	s, err := New("127.0.0.1", 9501, &countingRole{}, func() native.INative { return gated }, common.DefaultDispatcherConfig(), Handlers{
		OnDisposed: func(*Socket) { disposed.Add(1) },
	})
	require.NoError(t, err)

	_, err = s.Create(context.Background())
	require.NoError(t, err)

	// occupy the channel
	blocked := s.Dispatcher().Call(native.MethodGetSockState, []any{s.Handle()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Dispose(ctx), context.DeadlineExceeded)
	assert.Equal(t, StateDisposing, s.State())
	assert.Zero(t, disposed.Load())

	close(gated.gate)
	_, err = blocked.Await(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Dispose(context.Background()))
	assert.Equal(t, StateDisposed, s.State())
	assert.EqualValues(t, 1, disposed.Load())
	assert.Equal(t, 0, network.SocketCount())
}

// --------------------------------------------------------------------------
// Socket options
// --------------------------------------------------------------------------

func TestSetSockOpts(t *testing.T) {
	ctx := context.Background()
	s := newSocket(t, memnet.NewNetwork(), &countingRole{}, Handlers{})

	_, err := s.SetSockOpts(ctx, []native.SockOpt{native.SRTO_RCVBUF}, []any{200})
	assert.ErrorIs(t, err, common.ErrNoSocket)

	_, err = s.Create(ctx)
	require.NoError(t, err)

	_, err = s.SetSockOpts(ctx, []native.SockOpt{native.SRTO_RCVBUF, native.SRTO_SNDSYN}, []any{200})
	assert.ErrorIs(t, err, common.ErrOptionMismatch)

	_, err = s.SetSockOpts(ctx, []native.SockOpt{native.SRTO_RCVBUF, native.SRTO_SNDSYN}, []any{200, "yes"})
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	results, err := s.SetSockOpts(ctx,
		[]native.SockOpt{native.SRTO_RCVBUF, native.SRTO_SNDSYN, native.SRTO_STATE},
		[]any{200, false, 1},
	)
	require.NoError(t, err)
	assert.Equal(t, []native.Result{native.OK, native.OK, native.ERROR}, results)

	v, res, err := s.Dispatcher().GetSockOpt(ctx, s.Handle(), native.SRTO_RCVBUF)
	require.NoError(t, err)
	require.Equal(t, native.OK, res)
	assert.Equal(t, int32(200), v)

	v, _, err = s.Dispatcher().GetSockOpt(ctx, s.Handle(), native.SRTO_SNDSYN)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	results, err = s.SetSockOpts(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSetSockOptsWhileDisposing(t *testing.T) {
	network := memnet.NewNetwork()
	gated := &gatedNative{Native: network.NewNative(), gate: make(chan struct{})}

	s, err := New("127.0.0.1", 9502, &countingRole{}, func() native.INative { return gated }, common.DefaultDispatcherConfig(), Handlers{})
	require.NoError(t, err)
	_, err = s.Create(context.Background())
	require.NoError(t, err)

	blocked := s.Dispatcher().Call(native.MethodGetSockState, []any{s.Handle()})

	// the dispatcher starts disposing and gives up waiting
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Dispatcher().Dispose(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	results, err := s.SetSockOpts(context.Background(), []native.SockOpt{native.SRTO_RCVBUF}, []any{200})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NotNil(t, results)

	close(gated.gate)
	_, err = blocked.Await(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Dispose(context.Background()))
}

func TestSocketStatsAndLogLevel(t *testing.T) {
	ctx := context.Background()
	s := newSocket(t, memnet.NewNetwork(), &countingRole{}, Handlers{})

	_, err := s.Stats(ctx, false)
	assert.ErrorIs(t, err, common.ErrNoSocket)

	_, err = s.Create(ctx)
	require.NoError(t, err)

	stats, err := s.Stats(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, stats.ByteSentTotal)

	assert.NoError(t, s.SetLogLevel(ctx, "debug"))
	assert.ErrorIs(t, s.SetLogLevel(ctx, "loud"), common.ErrInvalidArgument)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "opened", StateOpened.String())
	assert.Equal(t, "State(42)", State(42).String())
}
