package socket

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/async/rw"
	"github.com/ValentinKolb/asyncsrt/lib/native"
)

// connector opens a socket by connecting it to its address
type connector struct{}

func (connector) OpenSocket(ctx context.Context, s *Socket) error {
	res, err := s.Dispatcher().Connect(ctx, s.Handle(), s.Address(), s.Port())
	if err != nil {
		return err
	}
	if res == native.ERROR {
		return fmt.Errorf("%w: %s: %v", common.ErrConnectFailed, s, s.Dispatcher().LastError())
	}
	return nil
}

// Caller is a socket that connects to a listening peer on open
type Caller struct {
	*Socket
	config common.ClientConfig
}

// NewCaller creates an uncreated caller socket for config.Address:config.Port
func NewCaller(config common.ClientConfig, factory native.Factory, handlers Handlers) (*Caller, error) {
	s, err := New(config.Address, config.Port, connector{}, factory, config.Dispatcher, handlers)
	if err != nil {
		return nil, err
	}
	return &Caller{Socket: s, config: config}, nil
}

// Config returns the configuration of the caller
func (c *Caller) Config() common.ClientConfig {
	return c.config
}

// Create creates the socket and applies the configured native log level
func (c *Caller) Create(ctx context.Context) (int, error) {
	fd, err := c.Socket.Create(ctx)
	if err != nil {
		return fd, err
	}
	if c.config.NativeLogLevel != "" {
		if err := c.SetLogLevel(ctx, c.config.NativeLogLevel); err != nil {
			Logger.Warningf("caller %s: %v", c, err)
		}
	}
	return fd, nil
}

// Read reads one message of at most size bytes. It returns nil and no error
// once the peer is gone and everything was read.
func (c *Caller) Read(ctx context.Context, size int) ([]byte, error) {
	handle := c.Handle()
	if handle < 0 {
		return nil, fmt.Errorf("read from %s: %w", c, common.ErrNoSocket)
	}
	data, res, err := c.Dispatcher().Read(ctx, handle, size)
	if err != nil {
		return nil, err
	}
	if res == native.ERROR {
		return nil, fmt.Errorf("read from %s: %v", c, c.Dispatcher().LastError())
	}
	return data, nil
}

// Write sends chunk as one message and returns the number of bytes written.
// The chunk is handed over and must not be modified afterwards.
func (c *Caller) Write(ctx context.Context, chunk []byte) (int, error) {
	handle := c.Handle()
	if handle < 0 {
		return 0, fmt.Errorf("write to %s: %w", c, common.ErrNoSocket)
	}
	n, err := c.Dispatcher().Write(ctx, handle, chunk)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d bytes to %s: %v", common.ErrWriteFailed, len(chunk), c, c.Dispatcher().LastError())
	}
	return n, nil
}

// ReaderWriter returns a chunked reader / writer on the socket
func (c *Caller) ReaderWriter(config common.ReadWriteConfig) (*rw.ReaderWriter, error) {
	handle := c.Handle()
	if handle < 0 {
		return nil, fmt.Errorf("reader writer on %s: %w", c, common.ErrNoSocket)
	}
	return rw.NewReaderWriter(c.Dispatcher(), handle, config), nil
}
