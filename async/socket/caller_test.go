package socket

import (
	"context"
	"testing"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/ValentinKolb/asyncsrt/lib/native/memnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCaller(t *testing.T, network *memnet.Network, port int) *Caller {
	config := common.DefaultClientConfig("127.0.0.1", port)
	config.NativeLogLevel = "warn"
	c, err := NewCaller(config, network.Factory(), Handlers{})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Dispose(context.Background())) })
	return c
}

// listen binds a plain native listener on port
func listen(t *testing.T, network *memnet.Network, port int) (*memnet.Native, int) {
	n := network.NewNative()
	t.Cleanup(func() { assert.NoError(t, n.Release()) })

	listener := n.CreateSocket(false)
	require.Equal(t, native.OK, n.Bind(listener, "127.0.0.1", port))
	require.Equal(t, native.OK, n.Listen(listener, 4))
	return n, listener
}

func TestCallerConnectFailure(t *testing.T) {
	ctx := context.Background()
	c := newCaller(t, memnet.NewNetwork(), 9600)

	_, err := c.Create(ctx)
	require.NoError(t, err)

	err = c.Open(ctx)
	assert.ErrorIs(t, err, common.ErrConnectFailed)
	assert.ErrorContains(t, err, memnet.ErrRefused.Error())
	assert.Equal(t, StateCreated, c.State())
}

func TestCallerWithoutSocket(t *testing.T) {
	ctx := context.Background()
	c := newCaller(t, memnet.NewNetwork(), 9601)

	_, err := c.Read(ctx, 1024)
	assert.ErrorIs(t, err, common.ErrNoSocket)

	_, err = c.Write(ctx, []byte("x"))
	assert.ErrorIs(t, err, common.ErrNoSocket)

	_, err = c.ReaderWriter(common.DefaultReadWriteConfig())
	assert.ErrorIs(t, err, common.ErrNoSocket)
}

func TestCallerRoundTrip(t *testing.T) {
	ctx := context.Background()
	network := memnet.NewNetwork()
	server, listener := listen(t, network, 9602)
	c := newCaller(t, network, 9602)

	assert.Equal(t, "caller:9602", c.Dispatcher().Config().Name)

	_, err := c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Open(ctx))

	accepted := server.Accept(listener)
	require.GreaterOrEqual(t, accepted, 0)

	n, err := c.Write(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, res := server.Read(accepted, 1024)
	require.Equal(t, native.OK, res)
	assert.Equal(t, "hello", string(got))

	require.Equal(t, 5, server.Write(accepted, []byte("world")))
	data, err := c.Read(ctx, 1024)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	rwr, err := c.ReaderWriter(common.ReadWriteConfig{})
	require.NoError(t, err)
	assert.Equal(t, c.Handle(), rwr.FD())

	require.NoError(t, c.Dispose(ctx))
	assert.Equal(t, native.SockBroken, server.GetSockState(accepted))
}

func TestCallerWriteFailure(t *testing.T) {
	ctx := context.Background()
	network := memnet.NewNetwork()
	_, _ = listen(t, network, 9603)
	c := newCaller(t, network, 9603)

	_, err := c.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Open(ctx))

	// larger than the payload size
	_, err = c.Write(ctx, make([]byte, 1<<20))
	assert.ErrorIs(t, err, common.ErrWriteFailed)
}
