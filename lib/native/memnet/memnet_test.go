package memnet

import (
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedPair(t *testing.T, network *Network, port int) (server, client *Native, listener, accepted, caller int) {
	server = network.NewNative()
	client = network.NewNative()

	listener = server.CreateSocket(false)
	require.Equal(t, native.OK, server.Bind(listener, "127.0.0.1", port))
	require.Equal(t, native.OK, server.Listen(listener, 4))

	caller = client.CreateSocket(true)
	require.Equal(t, native.OK, client.Connect(caller, "127.0.0.1", port))

	accepted = server.Accept(listener)
	require.GreaterOrEqual(t, accepted, 0)
	return
}

func TestWriteBlocksOnFullReceiveQueue(t *testing.T) {
	network := NewNetwork()
	server, client, _, accepted, caller := connectedPair(t, network, 9000)

	// room for exactly two messages of 100 bytes
	require.Equal(t, native.OK, server.SetSockOpt(accepted, native.SRTO_RCVBUF, 200))

	require.Equal(t, 100, client.Write(caller, make([]byte, 100)))
	require.Equal(t, 100, client.Write(caller, make([]byte, 100)))

	written := make(chan int, 1)
	go func() {
		written <- client.Write(caller, make([]byte, 100))
	}()

	select {
	case n := <-written:
		t.Fatalf("Write should block on a full queue, returned %d", n)
	case <-time.After(50 * time.Millisecond):
	}

	_, res := server.Read(accepted, 1024)
	require.Equal(t, native.OK, res)

	select {
	case n := <-written:
		assert.Equal(t, 100, n)
	case <-time.After(time.Second):
		t.Fatal("Write did not resume after the queue drained")
	}
}

func TestNonBlockingWriteOnFullQueue(t *testing.T) {
	network := NewNetwork()
	server, client, _, accepted, caller := connectedPair(t, network, 9001)

	require.Equal(t, native.OK, server.SetSockOpt(accepted, native.SRTO_RCVBUF, 100))
	require.Equal(t, native.OK, client.SetSockOpt(caller, native.SRTO_SNDSYN, false))

	require.Equal(t, 100, client.Write(caller, make([]byte, 100)))
	assert.Equal(t, int(native.ERROR), client.Write(caller, make([]byte, 1)))
	assert.ErrorIs(t, client.LastError(), ErrWouldBlock)
}

func TestReadTimeout(t *testing.T) {
	network := NewNetwork()
	server, _, _, accepted, _ := connectedPair(t, network, 9002)

	require.Equal(t, native.OK, server.SetSockOpt(accepted, native.SRTO_RCVTIMEO, 20))

	start := time.Now()
	got, res := server.Read(accepted, 1024)
	assert.Nil(t, got)
	assert.Equal(t, native.ERROR, res)
	assert.ErrorIs(t, server.LastError(), ErrTimedOut)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReadBufferTooSmallKeepsMessage(t *testing.T) {
	network := NewNetwork()
	server, client, _, accepted, caller := connectedPair(t, network, 9003)

	client.Write(caller, []byte("0123456789"))

	_, res := server.Read(accepted, 4)
	require.Equal(t, native.ERROR, res)
	assert.ErrorIs(t, server.LastError(), ErrBufferTooSmall)

	got, res := server.Read(accepted, 10)
	require.Equal(t, native.OK, res)
	assert.Equal(t, "0123456789", string(got))
}

func TestBlockedReadWakesOnPeerClose(t *testing.T) {
	network := NewNetwork()
	server, client, _, accepted, caller := connectedPair(t, network, 9004)

	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	var res native.Result
	go func() {
		defer wg.Done()
		got, res = server.Read(accepted, 1024)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, native.OK, client.Close(caller))
	wg.Wait()

	assert.Nil(t, got)
	assert.Equal(t, native.OK, res)
	assert.Equal(t, native.SockBroken, server.GetSockState(accepted))
}

func TestBacklogAndListenerClose(t *testing.T) {
	network := NewNetwork()
	server := network.NewNative()
	client := network.NewNative()

	listener := server.CreateSocket(false)
	require.Equal(t, native.OK, server.Bind(listener, "0.0.0.0", 9005))
	require.Equal(t, native.OK, server.Listen(listener, 1))

	first := client.CreateSocket(true)
	second := client.CreateSocket(true)
	require.Equal(t, native.OK, client.Connect(first, "127.0.0.1", 9005))
	assert.Equal(t, native.ERROR, client.Connect(second, "127.0.0.1", 9005))
	assert.ErrorIs(t, client.LastError(), ErrBacklogFull)

	// the pending connection dies with its listener
	require.Equal(t, native.OK, server.Close(listener))
	assert.Equal(t, native.SockBroken, client.GetSockState(first))

	// the port is free again
	again := server.CreateSocket(false)
	assert.Equal(t, native.OK, server.Bind(again, "0.0.0.0", 9005))
}

func TestNativeCloseReleasesOwnedSockets(t *testing.T) {
	network := NewNetwork()
	server, client, listener, accepted, caller := connectedPair(t, network, 9006)

	epid := server.EpollCreate()
	require.GreaterOrEqual(t, epid, 0)
	require.Equal(t, 3, network.SocketCount())

	require.NoError(t, server.Release())
	assert.Equal(t, native.SockNonExist, server.GetSockState(listener))
	assert.Equal(t, native.SockNonExist, server.GetSockState(accepted))
	assert.Equal(t, native.SockBroken, client.GetSockState(caller))
	assert.Equal(t, 1, network.SocketCount())

	_, res := server.EpollUWait(epid, 0)
	assert.Equal(t, native.ERROR, res)
	assert.Equal(t, -1, server.CreateSocket(false))

	// idempotent
	assert.NoError(t, server.Release())
}

func TestEpollWaitTimesOut(t *testing.T) {
	network := NewNetwork()
	n := network.NewNative()
	epid := n.EpollCreate()

	start := time.Now()
	events, res := n.EpollUWait(epid, 30)
	assert.Equal(t, native.OK, res)
	assert.Empty(t, events)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
