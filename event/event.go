package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/flowstream/internal/ctxkeys"
)

// ErrTerminated is returned when a child is requested from a context that
// has already terminated.
var ErrTerminated = errors.New("event: context terminated")

// Outcome is how a context settled.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeAbandoned Outcome = "abandoned"
)

// Result describes a terminated context.
type Result struct {
	ID       string        `json:"id"`
	RootID   string        `json:"root_id"`
	Outcome  Outcome       `json:"outcome"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// AbandonedError is the Result error of an abandoned context.
type AbandonedError struct {
	Reason string
}

func (e *AbandonedError) Error() string { return "event abandoned: " + e.Reason }

// Context tracks one message in flight. A root context is created per
// message entering the runtime; children track forks of it. A context
// terminates once it has settled and all of its children have terminated.
type Context struct {
	id      string
	root    *Context
	parent  *Context
	created time.Time

	mu         sync.Mutex
	children   []*Context
	pending    int
	settled    bool
	terminated bool
	result     Result
	callbacks  []func(Result)
	stop       []func() bool
}

// Option configures a root context.
type Option func(*rootOptions)

type rootOptions struct {
	id      string
	timeout time.Duration
}

// WithID sets the root id instead of generating one.
func WithID(id string) Option {
	return func(o *rootOptions) { o.id = id }
}

// WithTimeout abandons the whole tree if the root has not terminated after d.
func WithTimeout(d time.Duration) Option {
	return func(o *rootOptions) { o.timeout = d }
}

// NewRoot creates a root context. Cancellation of ctx abandons the tree.
func NewRoot(ctx context.Context, opts ...Option) *Context {
	var o rootOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	c := &Context{id: o.id, created: time.Now()}
	c.root = c

	if o.timeout > 0 {
		timer := time.AfterFunc(o.timeout, func() {
			c.abandonTree(fmt.Sprintf("timed out after %s", o.timeout))
		})
		c.stop = append(c.stop, timer.Stop)
	}
	if ctx != nil && ctx.Done() != nil {
		c.stop = append(c.stop, context.AfterFunc(ctx, func() {
			c.abandonTree(context.Cause(ctx).Error())
		}))
	}
	return c
}

// ID returns the context id.
func (c *Context) ID() string { return c.id }

// RootID returns the id of the root context.
func (c *Context) RootID() string { return c.root.id }

// Root returns the root context.
func (c *Context) Root() *Context { return c.root }

// Parent returns the parent, or nil for a root.
func (c *Context) Parent() *Context { return c.parent }

// IsRoot reports whether c is a root context.
func (c *Context) IsRoot() bool { return c.parent == nil }

// NewChild forks a child context. The parent does not terminate before the
// child does.
func (c *Context) NewChild() (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return nil, fmt.Errorf("%w: %s", ErrTerminated, c.id)
	}
	child := &Context{
		id:      uuid.NewString(),
		root:    c.root,
		parent:  c,
		created: time.Now(),
	}
	c.children = append(c.children, child)
	c.pending++
	return child, nil
}

// Success settles c successfully. It returns false if c had already settled.
func (c *Context) Success() bool {
	return c.settle(OutcomeSuccess, nil)
}

// Fail settles c with err.
func (c *Context) Fail(err error) bool {
	if err == nil {
		err = errors.New("event failed")
	}
	return c.settle(OutcomeFailure, err)
}

// Abandon settles c without processing it to completion.
func (c *Context) Abandon(reason string) bool {
	return c.settle(OutcomeAbandoned, &AbandonedError{Reason: reason})
}

// Settled reports whether c has settled.
func (c *Context) Settled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled
}

// Terminated reports whether c has terminated.
func (c *Context) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Result returns the result and whether c has terminated.
func (c *Context) Result() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.terminated
}

// OnTerminated registers fn to run once when c terminates. If c has already
// terminated fn runs immediately on the calling goroutine.
func (c *Context) OnTerminated(fn func(Result)) {
	c.mu.Lock()
	if !c.terminated {
		c.callbacks = append(c.callbacks, fn)
		c.mu.Unlock()
		return
	}
	res := c.result
	c.mu.Unlock()
	fn(res)
}

// Done returns a channel closed when c terminates.
func (c *Context) Done() <-chan struct{} {
	ch := make(chan struct{})
	c.OnTerminated(func(Result) { close(ch) })
	return ch
}

func (c *Context) settle(outcome Outcome, err error) bool {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		return false
	}
	c.settled = true
	c.result = Result{
		ID:       c.id,
		RootID:   c.root.id,
		Outcome:  outcome,
		Err:      err,
		Duration: time.Since(c.created),
	}
	c.tryTerminateLocked()
	return true
}

// tryTerminateLocked is called with c.mu held and releases it.
func (c *Context) tryTerminateLocked() {
	if !c.settled || c.pending > 0 || c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	callbacks := c.callbacks
	c.callbacks = nil
	stop := c.stop
	c.stop = nil
	res := c.result
	c.mu.Unlock()

	for _, s := range stop {
		s()
	}
	for _, fn := range callbacks {
		fn(res)
	}

	if p := c.parent; p != nil {
		p.mu.Lock()
		p.pending--
		p.tryTerminateLocked()
	}
}

// abandonTree settles every context of the tree that has not settled yet,
// leaves first so parents terminate as their children do.
func (c *Context) abandonTree(reason string) {
	c.mu.Lock()
	children := append([]*Context(nil), c.children...)
	c.mu.Unlock()
	for _, child := range children {
		child.abandonTree(reason)
	}
	c.Abandon(reason)
}

// =============================================================================
// context.Context propagation
// =============================================================================

type ctxKey struct{}

// NewContext returns ctx carrying ec. The root id is also exposed through
// ctxkeys so lower layers can register streams without importing event.
func NewContext(ctx context.Context, ec *Context) context.Context {
	ctx = context.WithValue(ctx, ctxKey{}, ec)
	return ctxkeys.WithRootID(ctx, ec.RootID())
}

// FromContext returns the event context carried by ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	ec, ok := ctx.Value(ctxKey{}).(*Context)
	return ec, ok && ec != nil
}
