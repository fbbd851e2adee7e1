package common

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	// DefaultCallTimeout is used by calls made WithDefaultTimeout
	DefaultCallTimeout = 3000 * time.Millisecond
	// DefaultDisposePollInterval is the pause between two outstanding call checks of Dispose
	DefaultDisposePollInterval = time.Millisecond

	// DefaultBacklog is the listen backlog of a server
	DefaultBacklog = 65535
	// DefaultIdleBackoff is the pause after a poll tick without events when no epoll period is set
	DefaultIdleBackoff = time.Millisecond

	// DefaultMTU is the largest payload of a single write
	DefaultMTU = 1316
	// DefaultWritesPerTick caps the writes issued before the writer yields
	DefaultWritesPerTick = 128
	// DefaultReadBufferSize is the size of a single read of ReadChunks
	DefaultReadBufferSize = 16 * 1024
	// DefaultMaxReadFailures is the number of consecutive failed reads ReadChunks tolerates
	DefaultMaxReadFailures = 1
)

// Writer pacing modes of ReadWriteConfig.Writer
const (
	// WriterYielding yields the goroutine after each batch of writes
	WriterYielding = "yielding"
	// WriterScheduled re-enters through a timer after each batch of writes
	WriterScheduled = "scheduled"
)

// formatter renders config sections with aligned fields
type formatter struct {
	sb strings.Builder
}

func (f *formatter) section(title string) {
	f.sb.WriteString("\n")
	f.sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func (f *formatter) field(name, value string) {
	f.sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
}

func durationOrNone(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	return d.String()
}

// --------------------------------------------------------------------------
// Dispatcher configuration
// --------------------------------------------------------------------------

// DispatcherConfig configures one dispatcher and its call channel
type DispatcherConfig struct {
	// Name identifies the dispatcher in logs
	Name string
	// CallTimeout is the timeout of calls made WithDefaultTimeout
	CallTimeout time.Duration
	// DisposePollInterval is the pause between two checks of Dispose
	// while calls are outstanding
	DisposePollInterval time.Duration
}

// DefaultDispatcherConfig returns the default dispatcher configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Name:                "dispatcher",
		CallTimeout:         DefaultCallTimeout,
		DisposePollInterval: DefaultDisposePollInterval,
	}
}

// WithDefaults fills zero values with their defaults
func (c DispatcherConfig) WithDefaults() DispatcherConfig {
	def := DefaultDispatcherConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.DisposePollInterval <= 0 {
		c.DisposePollInterval = def.DisposePollInterval
	}
	return c
}

func (c DispatcherConfig) render(f *formatter) {
	f.section("Dispatcher")
	f.field("Name", c.Name)
	f.field("Call Timeout", c.CallTimeout.String())
	f.field("Dispose Poll Interval", c.DisposePollInterval.String())
}

// String returns a formatted representation of the configuration
func (c DispatcherConfig) String() string {
	var f formatter
	c.render(&f)
	return f.sb.String()
}

// --------------------------------------------------------------------------
// Server configuration
// --------------------------------------------------------------------------

// ServerConfig configures a listening server
type ServerConfig struct {
	Address string
	Port    int
	// Backlog is passed to listen
	Backlog int
	// EpollTimeout is the timeout of each readiness wait, zero polls
	EpollTimeout time.Duration
	// EpollPeriod is the pause between two poll ticks
	EpollPeriod time.Duration
	// IdleBackoff is the pause after a tick without events when EpollPeriod
	// and EpollTimeout are zero
	IdleBackoff time.Duration

	Dispatcher DispatcherConfig

	// NativeLogLevel is applied to the native after create, empty keeps its default
	NativeLogLevel string
	// MetricsEndpoint serves the Prometheus metrics when set (cmd only)
	MetricsEndpoint string
	LogLevel        string
}

// DefaultServerConfig returns the configuration of a server on the given port
func DefaultServerConfig(address string, port int) ServerConfig {
	d := DefaultDispatcherConfig()
	d.Name = fmt.Sprintf("server:%d", port)
	return ServerConfig{
		Address:     address,
		Port:        port,
		Backlog:     DefaultBacklog,
		IdleBackoff: DefaultIdleBackoff,
		Dispatcher:  d,
		LogLevel:    "info",
	}
}

// String returns a formatted representation of the configuration
func (c ServerConfig) String() string {
	var f formatter
	f.section("Server")
	f.field("Address", fmt.Sprintf("%s:%d", c.Address, c.Port))
	f.field("Backlog", fmt.Sprintf("%d", c.Backlog))
	f.field("Epoll Timeout", durationOrNone(c.EpollTimeout))
	f.field("Epoll Period", durationOrNone(c.EpollPeriod))
	f.field("Idle Backoff", durationOrNone(c.IdleBackoff))
	if c.MetricsEndpoint != "" {
		f.field("Metrics Endpoint", c.MetricsEndpoint)
	}
	c.Dispatcher.render(&f)
	f.section("Logging")
	f.field("Log Level", c.LogLevel)
	if c.NativeLogLevel != "" {
		f.field("Native Log Level", c.NativeLogLevel)
	}
	return f.sb.String()
}

// --------------------------------------------------------------------------
// Client configuration
// --------------------------------------------------------------------------

// ClientConfig configures a connecting socket
type ClientConfig struct {
	Address        string
	Port           int
	Dispatcher     DispatcherConfig
	NativeLogLevel string
	LogLevel       string
}

// DefaultClientConfig returns the configuration of a client for the given endpoint
func DefaultClientConfig(address string, port int) ClientConfig {
	d := DefaultDispatcherConfig()
	d.Name = fmt.Sprintf("caller:%d", port)
	return ClientConfig{
		Address:    address,
		Port:       port,
		Dispatcher: d,
		LogLevel:   "info",
	}
}

// String returns a formatted representation of the configuration
func (c ClientConfig) String() string {
	var f formatter
	f.section("Client")
	f.field("Endpoint", fmt.Sprintf("%s:%d", c.Address, c.Port))
	c.Dispatcher.render(&f)
	f.section("Logging")
	f.field("Log Level", c.LogLevel)
	if c.NativeLogLevel != "" {
		f.field("Native Log Level", c.NativeLogLevel)
	}
	return f.sb.String()
}

// --------------------------------------------------------------------------
// Read / write configuration
// --------------------------------------------------------------------------

// ReadWriteConfig configures chunked reads and paced writes
type ReadWriteConfig struct {
	// MTU is the largest chunk a single write carries
	MTU int
	// WritesPerTick caps the writes issued before the writer yields
	WritesPerTick int
	// ReadBufferSize is the size of each read
	ReadBufferSize int
	// MaxReadFailures is the number of consecutive failed reads tolerated
	MaxReadFailures int
	// Writer is the pacing mode, WriterYielding or WriterScheduled
	Writer string
}

// DefaultReadWriteConfig returns the default read / write configuration
func DefaultReadWriteConfig() ReadWriteConfig {
	return ReadWriteConfig{
		MTU:             DefaultMTU,
		WritesPerTick:   DefaultWritesPerTick,
		ReadBufferSize:  DefaultReadBufferSize,
		MaxReadFailures: DefaultMaxReadFailures,
		Writer:          WriterYielding,
	}
}

// String returns a formatted representation of the configuration
func (c ReadWriteConfig) String() string {
	var f formatter
	f.section("Read / Write")
	f.field("MTU", fmt.Sprintf("%d bytes", c.MTU))
	f.field("Writes Per Tick", fmt.Sprintf("%d", c.WritesPerTick))
	f.field("Read Buffer Size", fmt.Sprintf("%d bytes", c.ReadBufferSize))
	f.field("Max Read Failures", fmt.Sprintf("%d", c.MaxReadFailures))
	f.field("Writer", c.Writer)
	return f.sb.String()
}
