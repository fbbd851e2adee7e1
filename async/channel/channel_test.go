package channel

import (
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

// recv returns the next response or fails the test
func recv(t *testing.T, c *Channel) *Response {
	t.Helper()
	select {
	case resp, ok := <-c.Responses():
		require.True(t, ok, "response channel closed")
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for response")
		return nil
	}
}

func call(t *testing.T, c *Channel, method native.Method, args ...any) *Response {
	t.Helper()
	require.True(t, c.Post(&Request{Method: method, Args: args}))
	resp := recv(t, c)
	require.Equal(t, method, resp.Method)
	return resp
}

func TestChannelExecutesInOrder(t *testing.T) {
	c := New("test", memnet.NewNetwork().NewNative())
	defer c.Terminate()

	const count = 50
	for i := 0; i < count; i++ {
		require.True(t, c.Post(&Request{Method: native.MethodCreateSocket, Args: []any{i%2 == 0}}))
	}

	last := -1
	for i := 0; i < count; i++ {
		resp := recv(t, c)
		require.NoError(t, resp.Err)
		fd := resp.Value.(int)
		assert.Greater(t, fd, last, "descriptors must be handed out in request order")
		last = fd
	}
}

func TestChannelResponseValues(t *testing.T) {
	network := memnet.NewNetwork()
	server := New("server", network.NewNative())
	client := New("client", network.NewNative())
	defer server.Terminate()
	defer client.Terminate()

	listener := call(t, server, native.MethodCreateSocket, false).Value.(int)
	assert.Equal(t, native.OK, call(t, server, native.MethodBind, listener, "127.0.0.1", 9100).Value)
	assert.Equal(t, native.OK, call(t, server, native.MethodListen, listener, 4).Value)

	caller := call(t, client, native.MethodCreateSocket, true).Value.(int)
	assert.Equal(t, native.OK, call(t, client, native.MethodConnect, caller, "127.0.0.1", 9100).Value)
	accepted := call(t, server, native.MethodAccept, listener).Value.(int)
	assert.Equal(t, native.SockConnected, call(t, server, native.MethodGetSockState, accepted).Value)

	assert.Equal(t, 5, call(t, client, native.MethodWrite, caller, []byte("hello")).Value)
	assert.Equal(t, []byte("hello"), call(t, server, native.MethodRead, accepted, 1024).Value)

	stats, ok := call(t, server, native.MethodStats, accepted, false).Value.(*native.Stats)
	require.True(t, ok)
	assert.Equal(t, int64(5), stats.ByteRecvTotal)

	epid := call(t, server, native.MethodEpollCreate).Value.(int)
	assert.Equal(t, native.OK, call(t, server, native.MethodEpollAddUsock, epid, listener, native.EpollIn|native.EpollErr).Value)
	events := call(t, server, native.MethodEpollUWait, epid, 0).Value
	assert.Equal(t, []native.EpollEvent{}, events)

	assert.Equal(t, native.OK, call(t, server, native.MethodSetSockOpt, accepted, native.SRTO_RCVSYN, false).Value)
	assert.Equal(t, false, call(t, server, native.MethodGetSockOpt, accepted, native.SRTO_RCVSYN).Value)
	assert.Equal(t, native.OK, call(t, server, native.MethodSetLogLevel, native.LogDebug).Value)

	// nothing to read on a non-blocking socket
	resp := call(t, server, native.MethodRead, accepted, 1024)
	assert.Equal(t, native.ERROR, resp.Value)
	assert.ErrorIs(t, resp.Err, memnet.ErrWouldBlock)
	_, isChannelErr := resp.Err.(*common.ChannelError)
	assert.False(t, isChannelErr, "a native ERROR is not a channel error")

	// peer gone and drained
	assert.Equal(t, native.OK, call(t, client, native.MethodClose, caller).Value)
	assert.Nil(t, call(t, server, native.MethodRead, accepted, 1024).Value)
}

func TestChannelArgumentErrors(t *testing.T) {
	c := New("test", memnet.NewNetwork().NewNative())
	defer c.Terminate()

	tests := []struct {
		name   string
		method native.Method
		args   []any
	}{
		{"wrong type", native.MethodBind, []any{1, 2, 3}},
		{"wrong arity", native.MethodListen, []any{1}},
		{"unknown method", native.Method(200), nil},
		{"write without bytes", native.MethodWrite, []any{1, "data"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, c, tt.method, tt.args...)
			assert.Equal(t, native.ERROR, resp.Value)

			var chErr *common.ChannelError
			require.ErrorAs(t, resp.Err, &chErr)
			assert.ErrorIs(t, resp.Err, common.ErrInvalidArgument)
		})
	}

	// the channel keeps answering after failures
	fd := call(t, c, native.MethodCreateSocket, false)
	assert.NoError(t, fd.Err)
}

// brokenNative panics on every operation it does not override
type brokenNative struct {
	native.INative
	released atomic.Bool
}

func (b *brokenNative) GetSockState(int) native.SockStatus {
	return native.SockConnected
}

func (b *brokenNative) Release() error {
	b.released.Store(true)
	return errors.New("already gone")
}

func TestChannelRecoversPanics(t *testing.T) {
	n := &brokenNative{}
	c := New("broken", n)

	resp := call(t, c, native.MethodCreateSocket, true)
	assert.Equal(t, native.ERROR, resp.Value)
	var chErr *common.ChannelError
	require.ErrorAs(t, resp.Err, &chErr)
	assert.Contains(t, chErr.Error(), "SRT.createSocket(true)")
	assert.Contains(t, chErr.Error(), "panic")

	assert.Equal(t, native.SockConnected, call(t, c, native.MethodGetSockState, 3).Value)

	assert.Equal(t, ExitOK, c.Terminate())
	assert.True(t, n.released.Load(), "terminate must release the native")
}

func TestChannelTerminate(t *testing.T) {
	network := memnet.NewNetwork()
	n := network.NewNative()
	c := New("test", n)

	call(t, c, native.MethodCreateSocket, false)
	assert.Equal(t, 1, network.SocketCount())

	assert.Equal(t, ExitOK, c.Terminate())
	assert.Equal(t, ExitOK, c.Terminate())
	assert.False(t, c.Post(&Request{Method: native.MethodEpollCreate}))
	assert.Equal(t, 0, network.SocketCount(), "terminate must release owned sockets")

	_, ok := <-c.Responses()
	assert.False(t, ok, "responses must be closed after terminate")
}

// slowNative blocks GetSockState until released
type slowNative struct {
	native.INative
	gate chan struct{}
}

func (s *slowNative) GetSockState(int) native.SockStatus {
	<-s.gate
	return native.SockInit
}

func TestChannelTerminateDiscardsQueued(t *testing.T) {
	n := &slowNative{gate: make(chan struct{})}
	c := New("slow", n)

	for i := 0; i < 5; i++ {
		require.True(t, c.Post(&Request{Method: native.MethodGetSockState, Args: []any{i}}))
	}
	// wait until the worker is stuck in the first request
	require.Eventually(t, func() bool { return c.Queued() == 4 }, time.Second, time.Millisecond)

	code := make(chan int, 1)
	go func() { code <- c.Terminate() }()

	time.Sleep(10 * time.Millisecond)
	close(n.gate)

	select {
	case got := <-code:
		assert.Equal(t, ExitDiscarded, got)
	case <-time.After(2 * time.Second):
		t.Fatal("terminate did not return")
	}
}
