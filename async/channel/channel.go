package channel

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/asyncsrt/async/common"
	"github.com/ValentinKolb/asyncsrt/lib/native"
	"github.com/ValentinKolb/asyncsrt/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("channel")

// Exit codes returned by Terminate
const (
	// ExitOK means the worker stopped with no request left behind
	ExitOK = 0
	// ExitDiscarded means requests were still queued and have been dropped
	ExitDiscarded = 1
)

// --------------------------------------------------------------------------
// Messages
// --------------------------------------------------------------------------

// Request asks the channel to execute one native operation
type Request struct {
	Method native.Method
	Args   []any
}

// Response is the answer to exactly one Request
type Response struct {
	Method native.Method
	Value  any
	// Err is a *common.ChannelError when execution failed, or the reason
	// of a native ERROR result when the native reports one
	Err error
}

// --------------------------------------------------------------------------
// Channel
// --------------------------------------------------------------------------

// Channel executes requests on one native in a dedicated goroutine
type Channel struct {
	name   string
	native native.INative
	inbox  *util.Mailbox[Request]
	outbox *util.Mailbox[Response]

	stopped   chan struct{}
	terminate sync.Once
	exitCode  int
}

// New creates a channel owning n and starts its worker
func New(name string, n native.INative) *Channel {
	c := &Channel{
		name:    name,
		native:  n,
		inbox:   util.NewMailbox[Request](),
		outbox:  util.NewMailbox[Response](),
		stopped: make(chan struct{}),
	}
	go c.run()
	return c
}

// Post queues a request. It returns false once the channel is terminated.
func (c *Channel) Post(req *Request) bool {
	return c.inbox.Push(req)
}

// Responses returns the channel the responses are delivered on, in request
// order. It is closed after the worker stopped and every response has been
// received.
func (c *Channel) Responses() <-chan *Response {
	return c.outbox.Recv()
}

// Queued returns the number of requests not yet picked up by the worker
func (c *Channel) Queued() int {
	return c.inbox.Len()
}

// Terminate stops the worker after the request it currently executes,
// drops all queued requests and releases the native. It returns ExitOK, or
// ExitDiscarded if requests were dropped. Calling it again returns the same
// code.
func (c *Channel) Terminate() int {
	c.terminate.Do(func() {
		if queued := c.inbox.Len(); queued > 0 {
			Logger.Warningf("[%s] terminating with %d queued requests", c.name, queued)
			c.exitCode = ExitDiscarded
		}
		c.inbox.Abort()
		<-c.stopped
	})
	return c.exitCode
}

// run is the worker loop
func (c *Channel) run() {
	defer close(c.stopped)
	defer c.outbox.Close()
	defer c.release()

	for req := range c.inbox.Recv() {
		resp := c.execute(req)
		c.outbox.Push(resp)
	}
}

// release frees the native's own resources
func (c *Channel) release() {
	if r, ok := c.native.(native.IReleaser); ok {
		if err := r.Release(); err != nil {
			Logger.Warningf("[%s] failed to release native: %v", c.name, err)
		}
	}
}

// execute runs one request and never panics
func (c *Channel) execute(req *Request) (resp *Response) {
	resp = &Response{Method: req.Method}

	defer func() {
		if r := recover(); r != nil {
			resp.Value = native.ERROR
			resp.Err = common.NewChannelError(req.Method, req.Args, fmt.Errorf("panic: %v", r))
			Logger.Errorf("[%s] %v", c.name, resp.Err)
		}
	}()

	value, err := c.invoke(req.Method, req.Args)
	if err != nil {
		resp.Value = native.ERROR
		resp.Err = common.NewChannelError(req.Method, req.Args, err)
		Logger.Errorf("[%s] %v", c.name, resp.Err)
		return resp
	}

	resp.Value = value
	if isError(value) {
		if reporter, ok := c.native.(native.ILastErrorReporter); ok {
			if cause := reporter.LastError(); cause != nil {
				resp.Err = fmt.Errorf("%s: %w", common.TraceCall(req.Method, req.Args), cause)
			}
		}
		Logger.Debugf("[%s] %s returned ERROR: %v", c.name, common.TraceCall(req.Method, req.Args), resp.Err)
	}
	return resp
}

// isError reports whether a response value is the ERROR sentinel
func isError(value any) bool {
	switch v := value.(type) {
	case native.Result:
		return v == native.ERROR
	case int:
		return v == int(native.ERROR)
	}
	return false
}
