package testing

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/asyncsrt/lib/native"
)

// readTimeoutMs bounds every blocking read of the suite
const readTimeoutMs = 2000

var nextPort atomic.Int32

func init() {
	nextPort.Store(41000)
}

// NextPort returns a port that no other test of this process uses
func NextPort() int {
	return int(nextPort.Add(1))
}

// RunNativeTests runs the conformance suite for an INative implementation.
func RunNativeTests(t *testing.T, name string, factory native.Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("CreateClose", func(t *testing.T) {
			testCreateClose(t, factory)
		})

		t.Run("BindListen", func(t *testing.T) {
			testBindListen(t, factory)
		})

		t.Run("ConnectAccept", func(t *testing.T) {
			testConnectAccept(t, factory)
		})

		t.Run("ConnectRefused", func(t *testing.T) {
			testConnectRefused(t, factory)
		})

		t.Run("MessageBoundaries", func(t *testing.T) {
			testMessageBoundaries(t, factory)
		})

		t.Run("InvalidWrites", func(t *testing.T) {
			testInvalidWrites(t, factory)
		})

		t.Run("NonBlockingRead", func(t *testing.T) {
			testNonBlockingRead(t, factory)
		})

		t.Run("PeerClose", func(t *testing.T) {
			testPeerClose(t, factory)
		})

		t.Run("Epoll", func(t *testing.T) {
			testEpoll(t, factory)
		})

		t.Run("SockOpts", func(t *testing.T) {
			testSockOpts(t, factory)
		})

		t.Run("Stats", func(t *testing.T) {
			testStats(t, factory)
		})

		t.Run("LogLevel", func(t *testing.T) {
			testLogLevel(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// closeNative releases the native if it holds resources
func closeNative(t testing.TB, n native.INative) {
	if r, ok := n.(native.IReleaser); ok {
		if err := r.Release(); err != nil {
			t.Errorf("Failed to close native: %v", err)
		}
	}
}

// pair is a connected listener / caller setup on two natives
type pair struct {
	server   native.INative
	client   native.INative
	listener int
	accepted int
	caller   int
	port     int
}

func newListener(t testing.TB, n native.INative) (int, int) {
	port := NextPort()
	sock := n.CreateSocket(false)
	if sock < 0 {
		t.Fatalf("CreateSocket failed: %d", sock)
	}
	if res := n.Bind(sock, "127.0.0.1", port); res != native.OK {
		t.Fatalf("Bind to port %d failed: %s", port, res)
	}
	if res := n.Listen(sock, 16); res != native.OK {
		t.Fatalf("Listen failed: %s", res)
	}
	return sock, port
}

func newPair(t testing.TB, factory native.Factory) *pair {
	p := &pair{server: factory(), client: factory()}
	t.Cleanup(func() {
		closeNative(t, p.client)
		closeNative(t, p.server)
	})

	p.listener, p.port = newListener(t, p.server)

	p.caller = p.client.CreateSocket(true)
	if p.caller < 0 {
		t.Fatalf("CreateSocket failed: %d", p.caller)
	}
	if res := p.client.Connect(p.caller, "127.0.0.1", p.port); res != native.OK {
		t.Fatalf("Connect failed: %s", res)
	}

	p.accepted = p.server.Accept(p.listener)
	if p.accepted < 0 {
		t.Fatalf("Accept failed: %d", p.accepted)
	}

	for _, s := range []struct {
		n    native.INative
		sock int
	}{{p.server, p.accepted}, {p.client, p.caller}} {
		if res := s.n.SetSockOpt(s.sock, native.SRTO_RCVTIMEO, readTimeoutMs); res != native.OK {
			t.Fatalf("SetSockOpt(SRTO_RCVTIMEO) failed: %s", res)
		}
	}
	return p
}

// waitFor polls cond until it holds or the timeout expires
func waitFor(t testing.TB, timeout time.Duration, what string, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCreateClose(t *testing.T, factory native.Factory) {
	n := factory()
	defer closeNative(t, n)

	sock := n.CreateSocket(false)
	if sock < 0 {
		t.Fatalf("Expected a descriptor, got %d", sock)
	}
	if state := n.GetSockState(sock); state != native.SockInit {
		t.Errorf("Expected state %s after create, got %s", native.SockInit, state)
	}

	if res := n.Close(sock); res != native.OK {
		t.Errorf("Expected OK on close, got %s", res)
	}
	if state := n.GetSockState(sock); state != native.SockNonExist {
		t.Errorf("Expected state %s after close, got %s", native.SockNonExist, state)
	}
	if res := n.Close(sock); res != native.ERROR {
		t.Errorf("Expected ERROR on second close, got %s", res)
	}
	if state := n.GetSockState(-5); state != native.SockNonExist {
		t.Errorf("Expected state %s for invalid descriptor, got %s", native.SockNonExist, state)
	}
}

func testBindListen(t *testing.T, factory native.Factory) {
	n := factory()
	defer closeNative(t, n)

	port := NextPort()
	sock := n.CreateSocket(false)
	if res := n.Bind(sock, "0.0.0.0", port); res != native.OK {
		t.Fatalf("Expected OK on bind, got %s", res)
	}
	if state := n.GetSockState(sock); state != native.SockOpened {
		t.Errorf("Expected state %s after bind, got %s", native.SockOpened, state)
	}
	if res := n.Listen(sock, 65535); res != native.OK {
		t.Fatalf("Expected OK on listen, got %s", res)
	}
	if state := n.GetSockState(sock); state != native.SockListening {
		t.Errorf("Expected state %s after listen, got %s", native.SockListening, state)
	}

	other := n.CreateSocket(false)
	if res := n.Bind(other, "0.0.0.0", port); res != native.ERROR {
		t.Errorf("Expected ERROR binding a used port, got %s", res)
	}
	if reporter, ok := n.(native.ILastErrorReporter); ok && reporter.LastError() == nil {
		t.Errorf("Expected a last error after failed bind")
	}

	unbound := n.CreateSocket(false)
	if res := n.Listen(unbound, 10); res != native.ERROR {
		t.Errorf("Expected ERROR listening on unbound socket, got %s", res)
	}
}

func testConnectAccept(t *testing.T, factory native.Factory) {
	p := newPair(t, factory)

	if state := p.client.GetSockState(p.caller); state != native.SockConnected {
		t.Errorf("Expected caller state %s, got %s", native.SockConnected, state)
	}
	if state := p.server.GetSockState(p.accepted); state != native.SockConnected {
		t.Errorf("Expected accepted state %s, got %s", native.SockConnected, state)
	}
	if p.accepted == p.listener {
		t.Errorf("Accepted descriptor must differ from the listener")
	}

	// non-blocking accept without pending connections
	if res := p.server.SetSockOpt(p.listener, native.SRTO_RCVSYN, false); res != native.OK {
		t.Fatalf("SetSockOpt(SRTO_RCVSYN) failed: %s", res)
	}
	if fd := p.server.Accept(p.listener); fd >= 0 {
		t.Errorf("Expected non-blocking accept to fail, got %d", fd)
	}
}

func testConnectRefused(t *testing.T, factory native.Factory) {
	n := factory()
	defer closeNative(t, n)

	sock := n.CreateSocket(true)
	if res := n.Connect(sock, "127.0.0.1", NextPort()); res != native.ERROR {
		t.Errorf("Expected ERROR connecting to a closed port, got %s", res)
	}
	if reporter, ok := n.(native.ILastErrorReporter); ok && reporter.LastError() == nil {
		t.Errorf("Expected a last error after failed connect")
	}
}

func testMessageBoundaries(t *testing.T, factory native.Factory) {
	p := newPair(t, factory)

	messages := [][]byte{
		bytes.Repeat([]byte{1}, 10),
		bytes.Repeat([]byte{2}, 1316),
		bytes.Repeat([]byte{3}, 1),
	}
	for i, msg := range messages {
		if written := p.client.Write(p.caller, bytes.Clone(msg)); written != len(msg) {
			t.Fatalf("Write %d: expected %d bytes, got %d", i, len(msg), written)
		}
	}

	for i, msg := range messages {
		got, res := p.server.Read(p.accepted, 16*1024)
		if res != native.OK {
			t.Fatalf("Read %d failed: %s", i, res)
		}
		if !bytes.Equal(got, msg) {
			t.Errorf("Read %d: expected %d bytes of %d, got %d bytes", i, len(msg), msg[0], len(got))
		}
	}

	// reverse direction
	if written := p.server.Write(p.accepted, []byte("pong")); written != 4 {
		t.Fatalf("Expected 4 bytes written, got %d", written)
	}
	got, res := p.client.Read(p.caller, 1024)
	if res != native.OK || string(got) != "pong" {
		t.Errorf("Expected pong, got %q (%s)", got, res)
	}
}

func testInvalidWrites(t *testing.T, factory native.Factory) {
	p := newPair(t, factory)

	if res := p.client.Write(p.caller, []byte{}); res != int(native.ERROR) {
		t.Errorf("Expected ERROR for zero-byte write, got %d", res)
	}
	if res := p.client.Write(p.caller, make([]byte, 1317)); res != int(native.ERROR) {
		t.Errorf("Expected ERROR for write above the payload size, got %d", res)
	}
	if res := p.server.Write(p.listener, []byte("x")); res != int(native.ERROR) {
		t.Errorf("Expected ERROR writing to a listener, got %d", res)
	}
	if res := p.client.Write(-1, []byte("x")); res != int(native.ERROR) {
		t.Errorf("Expected ERROR writing to an invalid descriptor, got %d", res)
	}
}

func testNonBlockingRead(t *testing.T, factory native.Factory) {
	p := newPair(t, factory)

	if res := p.server.SetSockOpt(p.accepted, native.SRTO_RCVSYN, false); res != native.OK {
		t.Fatalf("SetSockOpt(SRTO_RCVSYN) failed: %s", res)
	}
	if got, res := p.server.Read(p.accepted, 1024); res != native.ERROR || got != nil {
		t.Errorf("Expected ERROR for non-blocking read without data, got %v (%s)", got, res)
	}

	p.client.Write(p.caller, []byte("data"))
	waitFor(t, time.Second, "readable data", func() bool {
		got, res := p.server.Read(p.accepted, 1024)
		return res == native.OK && string(got) == "data"
	})
}

func testPeerClose(t *testing.T, factory native.Factory) {
	p := newPair(t, factory)

	p.client.Write(p.caller, []byte("first"))
	p.client.Write(p.caller, []byte("second"))
	if res := p.client.Close(p.caller); res != native.OK {
		t.Fatalf("Close failed: %s", res)
	}

	waitFor(t, time.Second, "broken state", func() bool {
		return p.server.GetSockState(p.accepted).IsGone()
	})

	// queued messages survive the peer
	for _, want := range []string{"first", "second"} {
		got, res := p.server.Read(p.accepted, 1024)
		if res != native.OK || string(got) != want {
			t.Fatalf("Expected %q, got %q (%s)", want, got, res)
		}
	}

	got, res := p.server.Read(p.accepted, 1024)
	if res != native.OK || got != nil {
		t.Errorf("Expected nil, OK after the peer is gone, got %v (%s)", got, res)
	}
	if res := p.server.Write(p.accepted, []byte("x")); res != int(native.ERROR) {
		t.Errorf("Expected ERROR writing to a broken socket, got %d", res)
	}
}

func testEpoll(t *testing.T, factory native.Factory) {
	server := factory()
	client := factory()
	defer closeNative(t, client)
	defer closeNative(t, server)

	listener, port := newListener(t, server)

	epid := server.EpollCreate()
	if epid < 0 {
		t.Fatalf("EpollCreate failed: %d", epid)
	}
	if res := server.EpollAddUsock(epid, listener, native.EpollIn|native.EpollErr); res != native.OK {
		t.Fatalf("EpollAddUsock failed: %s", res)
	}
	if res := server.EpollAddUsock(epid+1000, listener, native.EpollIn); res != native.ERROR {
		t.Errorf("Expected ERROR for unknown epoll id, got %s", res)
	}

	events, res := server.EpollUWait(epid, 0)
	if res != native.OK || len(events) != 0 {
		t.Fatalf("Expected no events, got %v (%s)", events, res)
	}

	caller := client.CreateSocket(true)
	if res := client.Connect(caller, "127.0.0.1", port); res != native.OK {
		t.Fatalf("Connect failed: %s", res)
	}

	events, res = server.EpollUWait(epid, 1000)
	if res != native.OK || len(events) != 1 || events[0].Socket != listener || events[0].Events&native.EpollIn == 0 {
		t.Fatalf("Expected IN on the listener, got %v (%s)", events, res)
	}

	accepted := server.Accept(listener)
	if res := server.EpollAddUsock(epid, accepted, native.EpollIn|native.EpollErr); res != native.OK {
		t.Fatalf("EpollAddUsock failed: %s", res)
	}

	client.Write(caller, []byte("hello"))
	events, res = server.EpollUWait(epid, 1000)
	if res != native.OK || len(events) != 1 || events[0].Socket != accepted || events[0].Events&native.EpollIn == 0 {
		t.Fatalf("Expected IN on the accepted socket, got %v (%s)", events, res)
	}

	// level-triggered: still readable until read
	events, _ = server.EpollUWait(epid, 0)
	if len(events) != 1 {
		t.Errorf("Expected the unread socket to stay ready, got %v", events)
	}
	server.Read(accepted, 1024)
	events, _ = server.EpollUWait(epid, 0)
	if len(events) != 0 {
		t.Errorf("Expected no events after reading, got %v", events)
	}

	client.Close(caller)
	events, res = server.EpollUWait(epid, 1000)
	if res != native.OK || len(events) != 1 || events[0].Events&native.EpollErr == 0 {
		t.Fatalf("Expected ERR after the peer closed, got %v (%s)", events, res)
	}

	// closed sockets leave the set
	server.Close(accepted)
	events, _ = server.EpollUWait(epid, 0)
	if len(events) != 0 {
		t.Errorf("Expected no events after close, got %v", events)
	}
}

func testSockOpts(t *testing.T, factory native.Factory) {
	n := factory()
	defer closeNative(t, n)

	sock := n.CreateSocket(false)

	if res := n.SetSockOpt(sock, native.SRTO_LATENCY, 200); res != native.OK {
		t.Fatalf("SetSockOpt(SRTO_LATENCY) failed: %s", res)
	}
	if v, res := n.GetSockOpt(sock, native.SRTO_LATENCY); res != native.OK || v != int32(200) {
		t.Errorf("Expected latency 200, got %v (%s)", v, res)
	}

	if res := n.SetSockOpt(sock, native.SRTO_STREAMID, "stream-1"); res != native.OK {
		t.Fatalf("SetSockOpt(SRTO_STREAMID) failed: %s", res)
	}
	if v, _ := n.GetSockOpt(sock, native.SRTO_STREAMID); v != "stream-1" {
		t.Errorf("Expected stream id stream-1, got %v", v)
	}

	if v, res := n.GetSockOpt(sock, native.SRTO_RCVSYN); res != native.OK || v != true {
		t.Errorf("Expected blocking receive by default, got %v (%s)", v, res)
	}

	if v, res := n.GetSockOpt(sock, native.SRTO_STATE); res != native.OK || v != int32(native.SockInit) {
		t.Errorf("Expected SRTO_STATE %d, got %v (%s)", native.SockInit, v, res)
	}

	if res := n.SetSockOpt(sock, native.SRTO_LATENCY, "slow"); res != native.ERROR {
		t.Errorf("Expected ERROR for a value of the wrong type, got %s", res)
	}
	if res := n.SetSockOpt(sock, native.SRTO_STATE, 1); res != native.ERROR {
		t.Errorf("Expected ERROR setting a read-only option, got %s", res)
	}
	if _, res := n.GetSockOpt(sock, native.SRTO_PASSPHRASE); res != native.ERROR {
		t.Errorf("Expected ERROR reading a write-only option, got %s", res)
	}
	if res := n.SetSockOpt(sock+1000, native.SRTO_LATENCY, 1); res != native.ERROR {
		t.Errorf("Expected ERROR for an invalid descriptor, got %s", res)
	}
}

func testStats(t *testing.T, factory native.Factory) {
	p := newPair(t, factory)

	for i := 0; i < 3; i++ {
		p.client.Write(p.caller, make([]byte, 100))
	}
	for i := 0; i < 3; i++ {
		if _, res := p.server.Read(p.accepted, 1024); res != native.OK {
			t.Fatalf("Read failed: %s", res)
		}
	}

	sent, res := p.client.Stats(p.caller, true)
	if res != native.OK || sent.PktSentTotal != 3 || sent.ByteSentTotal != 300 {
		t.Errorf("Unexpected sender stats %+v (%s)", sent, res)
	}
	recv, res := p.server.Stats(p.accepted, false)
	if res != native.OK || recv.PktRecvTotal != 3 || recv.ByteRecvTotal != 300 {
		t.Errorf("Unexpected receiver stats %+v (%s)", recv, res)
	}

	cleared, _ := p.client.Stats(p.caller, false)
	if cleared.PktSent != 0 || cleared.PktSentTotal != 3 {
		t.Errorf("Expected local counters cleared and totals kept, got %+v", cleared)
	}

	if _, res := p.client.Stats(-1, false); res != native.ERROR {
		t.Errorf("Expected ERROR for an invalid descriptor, got %s", res)
	}
}

func testLogLevel(t *testing.T, factory native.Factory) {
	n := factory()
	defer closeNative(t, n)

	if res := n.SetLogLevel(native.LogDebug); res != native.OK {
		t.Errorf("Expected OK for a valid level, got %s", res)
	}
	if res := n.SetLogLevel(native.LogLevel(42)); res != native.ERROR {
		t.Errorf("Expected ERROR for an invalid level, got %s", res)
	}
}
