package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/asyncsrt/async/channel"
	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/eapache/queue"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("dispatch")

const (
	stateActive int32 = iota
	stateDisposing
	stateDisposed
)

// pendingCall is the record of a call waiting for its response
type pendingCall struct {
	method   native.Method
	future   *Future
	callback func(value any)
	timer    *time.Timer
	issued   time.Time
}

// Dispatcher turns native operations into asynchronous calls on its own
// channel. It is safe for concurrent use; calls issued concurrently are
// answered in the order they entered the queue.
type Dispatcher struct {
	config  common.DispatcherConfig
	channel *channel.Channel

	mu      sync.Mutex   // guards pending, lastErr and state changes
	pending *queue.Queue // of *pendingCall, strictly FIFO
	lastErr error
	state   atomic.Int32

	outstanding atomic.Int64

	disposeMu sync.Mutex
	exitCode  int
}

// New creates a dispatcher with a fresh native from factory
func New(factory native.Factory, config common.DispatcherConfig) *Dispatcher {
	config = config.WithDefaults()
	d := &Dispatcher{
		config:  config,
		channel: channel.New(config.Name, factory()),
		pending: queue.New(),
	}
	go d.readResponses()
	return d
}

// Config returns the configuration of the dispatcher
func (d *Dispatcher) Config() common.DispatcherConfig {
	return d.config
}

// Outstanding returns the number of calls posted and not yet answered
func (d *Dispatcher) Outstanding() int {
	return int(d.outstanding.Load())
}

// IsDisposed reports whether Dispose has started
func (d *Dispatcher) IsDisposed() bool {
	return d.state.Load() != stateActive
}

// LastError returns the explanation of the most recent failed call, if any
func (d *Dispatcher) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Call posts method with args to the channel.
//
// The returned future settles with the native's answer. It fails right away
// with common.ErrDisposed once Dispose has started and with
// common.ErrInvalidArgument if an argument is nil; in both cases nothing is
// posted.
//
// Byte slices passed in args are handed over to the channel. The caller must
// not modify them after the call, pass a copy to keep using the data.
func (d *Dispatcher) Call(method native.Method, args []any, opts ...CallOption) *Future {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	if d.state.Load() != stateActive {
		return d.reject(method, fmt.Errorf("%w: %s on %s", common.ErrDisposed, method, d.config.Name))
	}
	for i, arg := range args {
		if isMissing(arg) {
			return d.reject(method, fmt.Errorf("%w: %s argument %d is missing", common.ErrInvalidArgument, method, i))
		}
	}

	p := &pendingCall{
		method:   method,
		future:   newFuture(),
		callback: o.callback,
		issued:   time.Now(),
	}
	timeout := o.timeout
	if o.defaultTimeout {
		timeout = d.config.CallTimeout
	}
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			if p.future.settle(nil, fmt.Errorf("%w: %s after %s", common.ErrTimeout, method, timeout)) {
				common.CallTimeouts.Inc()
				Logger.Debugf("[%s] %s timed out after %s", d.config.Name, method, timeout)
			}
		})
	}

	// queue order must equal channel order
	d.mu.Lock()
	if d.state.Load() != stateActive {
		d.mu.Unlock()
		p.stop()
		return d.reject(method, fmt.Errorf("%w: %s on %s", common.ErrDisposed, method, d.config.Name))
	}
	d.pending.Add(p)
	d.outstanding.Add(1)
	common.OutstandingCalls.Inc()
	posted := d.channel.Post(&channel.Request{Method: method, Args: args})
	d.mu.Unlock()

	if !posted {
		// the channel only stops after Dispose flushed the queue
		Logger.Errorf("[%s] channel refused %s", d.config.Name, method)
	}

	common.CallCounter(method).Inc()
	return p.future
}

// reject returns a settled future for a call that was never posted
func (d *Dispatcher) reject(method native.Method, err error) *Future {
	common.RejectedCalls.Inc()
	Logger.Debugf("[%s] rejected %s: %v", d.config.Name, method, err)
	return settledFuture(err)
}

// isMissing reports nil arguments, including nil byte slices
func isMissing(arg any) bool {
	if arg == nil {
		return true
	}
	if b, ok := arg.([]byte); ok && b == nil {
		return true
	}
	return false
}

func (p *pendingCall) stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// readResponses resolves the oldest pending call with every response
func (d *Dispatcher) readResponses() {
	for resp := range d.channel.Responses() {
		d.mu.Lock()
		if d.pending.Length() == 0 {
			d.mu.Unlock()
			Logger.Errorf("[%s] dropped %s response without pending call", d.config.Name, resp.Method)
			continue
		}
		p := d.pending.Remove().(*pendingCall)
		if resp.Err != nil {
			d.lastErr = resp.Err
		}
		d.mu.Unlock()

		if p.method != resp.Method {
			// positional matching is broken, nothing after this can be trusted
			Logger.Errorf("[%s] response for %s matched pending %s", d.config.Name, resp.Method, p.method)
		}
		d.resolve(p, resp)
	}
}

func (d *Dispatcher) resolve(p *pendingCall, resp *channel.Response) {
	p.stop()
	common.CallDuration(p.method).UpdateDuration(p.issued)

	var chErr *common.ChannelError
	if errors.As(resp.Err, &chErr) {
		common.ChannelErrors.Inc()
	}

	if !p.future.settle(resp.Value, nil) {
		common.LateResponses.Inc()
		Logger.Debugf("[%s] late response for %s", d.config.Name, p.method)
	}

	d.outstanding.Add(-1)
	common.OutstandingCalls.Dec()

	if p.callback != nil {
		p.callback(resp.Value)
	}
}

// Dispose waits until no call is outstanding, flushes the queue and
// terminates the channel. It returns the channel's exit code.
//
// New calls fail with common.ErrDisposed as soon as Dispose starts. If ctx
// ends first Dispose returns ctx.Err() and may be called again; the
// dispatcher keeps rejecting calls. Disposing a disposed dispatcher returns
// the first exit code.
func (d *Dispatcher) Dispose(ctx context.Context) (int, error) {
	d.disposeMu.Lock()
	defer d.disposeMu.Unlock()

	if d.state.Load() == stateDisposed {
		return d.exitCode, nil
	}

	d.mu.Lock()
	d.state.Store(stateDisposing)
	d.mu.Unlock()

	if n := d.outstanding.Load(); n > 0 {
		Logger.Debugf("[%s] dispose waits for %d outstanding calls", d.config.Name, n)
	}
	for d.outstanding.Load() > 0 {
		select {
		case <-ctx.Done():
			return -1, fmt.Errorf("dispose %s with %d outstanding calls: %w", d.config.Name, d.outstanding.Load(), ctx.Err())
		case <-time.After(d.config.DisposePollInterval):
		}
	}

	d.flush()
	d.exitCode = d.channel.Terminate()
	d.state.Store(stateDisposed)
	Logger.Debugf("[%s] disposed with exit code %d", d.config.Name, d.exitCode)
	return d.exitCode, nil
}

// flush fails every call still queued
func (d *Dispatcher) flush() {
	d.mu.Lock()
	var leftovers []*pendingCall
	for d.pending.Length() > 0 {
		leftovers = append(leftovers, d.pending.Remove().(*pendingCall))
	}
	d.mu.Unlock()

	if len(leftovers) == 0 {
		return
	}

	Logger.Warningf("[%s] flushing %d pending calls on dispose", d.config.Name, len(leftovers))
	for _, p := range leftovers {
		p.stop()
		p.future.settle(nil, fmt.Errorf("%w: %s flushed", common.ErrDisposed, p.method))
		if p.callback != nil {
			p.callback(nil)
		}
	}
}
