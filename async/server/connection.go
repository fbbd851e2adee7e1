package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/async/dispatch"
	"github.com/ValentinKolb/asyncsrt/async/rw"
	"github.com/ValentinKolb/asyncsrt/lib/native"
)

// ConnectionHandlers are the callbacks of one connection. Nil handlers are
// skipped.
type ConnectionHandlers struct {
	// OnData is called from the poll goroutine while the connection has
	// data to read
	OnData func(c *Connection)
	// OnClosing is called before the close call is issued
	OnClosing func(c *Connection)
	// OnClosed is called with the result of the close call
	OnClosed func(c *Connection, result native.Result)
}

// registryHooks let the server follow the close sequence of a connection
type registryHooks struct {
	closing func(c *Connection)
	closed  func(c *Connection)
}

// Connection is an accepted peer. It shares the dispatcher of its server.
type Connection struct {
	fd    int
	hooks registryHooks

	mu         sync.Mutex
	dispatcher *dispatch.Dispatcher
	handlers   ConnectionHandlers

	gotFirstData atomic.Bool
}

func newConnection(fd int, d *dispatch.Dispatcher, hooks registryHooks) *Connection {
	return &Connection{fd: fd, dispatcher: d, hooks: hooks}
}

// FD returns the descriptor of the connection
func (c *Connection) FD() int { return c.fd }

// GotFirstData reports whether OnData has been delivered at least once
func (c *Connection) GotFirstData() bool { return c.gotFirstData.Load() }

// IsClosed reports whether Close has started
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatcher == nil
}

// Handle replaces the handlers of the connection
func (c *Connection) Handle(h ConnectionHandlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

func (c *Connection) String() string {
	return fmt.Sprintf("connection %d", c.fd)
}

// live returns the dispatcher while the connection is open
func (c *Connection) live(op string) (*dispatch.Dispatcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dispatcher == nil {
		return nil, fmt.Errorf("%s on %s: %w", op, c, common.ErrConnectionClosed)
	}
	return c.dispatcher, nil
}

// onData delivers a data notification and then sets the first-data latch
func (c *Connection) onData() {
	c.mu.Lock()
	h := c.handlers.OnData
	c.mu.Unlock()

	if h != nil {
		h(c)
	}
	c.gotFirstData.Store(true)
}

// Read reads one message of at most size bytes. It returns nil and no error
// once the peer is gone and everything was read.
func (c *Connection) Read(ctx context.Context, size int) ([]byte, error) {
	d, err := c.live("read")
	if err != nil {
		return nil, err
	}
	data, res, err := d.Read(ctx, c.fd, size)
	if err != nil {
		return nil, err
	}
	if res == native.ERROR {
		return nil, fmt.Errorf("read from %s: %v", c, d.LastError())
	}
	return data, nil
}

// Write sends chunk as one message and returns the number of bytes written.
// The chunk is handed over and must not be modified afterwards.
func (c *Connection) Write(ctx context.Context, chunk []byte) (int, error) {
	d, err := c.live("write")
	if err != nil {
		return 0, err
	}
	n, err := d.Write(ctx, c.fd, chunk)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d bytes to %s: %v", common.ErrWriteFailed, len(chunk), c, d.LastError())
	}
	return n, nil
}

// ReaderWriter returns a chunked reader / writer on the connection
func (c *Connection) ReaderWriter(config common.ReadWriteConfig) (*rw.ReaderWriter, error) {
	d, err := c.live("reader writer")
	if err != nil {
		return nil, err
	}
	return rw.NewReaderWriter(d, c.fd, config), nil
}

// Close runs the close sequence: OnClosing, the close call, OnClosed. The
// handlers are detached afterwards. Only the first Close runs the sequence,
// later calls return OK right away.
func (c *Connection) Close(ctx context.Context) (native.Result, error) {
	c.mu.Lock()
	d := c.dispatcher
	c.dispatcher = nil
	h := c.handlers
	c.mu.Unlock()

	if d == nil {
		return native.OK, nil
	}

	if c.hooks.closing != nil {
		c.hooks.closing(c)
	}
	if h.OnClosing != nil {
		h.OnClosing(c)
	}

	res, err := d.Close(ctx, c.fd)
	if err != nil {
		res = native.ERROR
	} else if res == native.ERROR {
		Logger.Warningf("close of %s failed: %v", c, d.LastError())
	}
	common.ConnectionsClosed.Inc()

	if c.hooks.closed != nil {
		c.hooks.closed(c)
	}
	if h.OnClosed != nil {
		h.OnClosed(c, res)
	}

	c.mu.Lock()
	c.handlers = ConnectionHandlers{}
	c.mu.Unlock()
	return res, err
}
