package engine

import (
	"github.com/relaywire/httpcore/pkg/errors"
	"github.com/relaywire/httpcore/pkg/transport"
)

// NetworkInterceptor is a user-supplied link in the chain wrapped around
// the Transport exchange. Each interceptor must call proceed exactly
// once.
type NetworkInterceptor func(req *transport.Request, proceed func(*transport.Request) (*transport.Response, error)) (*transport.Response, error)

// interceptorChain is a linked structure: each node carries an index into
// the interceptor slice and recursively constructs the next node on
// proceed. calls tracks how many times this node's proceed was invoked so
// a misbehaving interceptor that calls it twice is caught rather than
// silently corrupting the exchange; an interceptor that never calls it is
// not detected.
type interceptorChain struct {
	interceptors []NetworkInterceptor
	index        int
	terminal     func(*transport.Request) (*transport.Response, error)
	calls        int
}

func (c *interceptorChain) proceed(req *transport.Request) (*transport.Response, error) {
	c.calls++
	if c.calls > 1 {
		return nil, errors.NewRequest("network interceptor called proceed more than once")
	}

	if c.index >= len(c.interceptors) {
		return c.terminal(req)
	}

	next := &interceptorChain{
		interceptors: c.interceptors,
		index:        c.index + 1,
		terminal:     c.terminal,
	}
	return c.interceptors[c.index](req, next.proceed)
}

// runInterceptorChain drives req through every registered interceptor
// before terminal performs the actual network write/read.
func (e *Engine) runInterceptorChain(req *transport.Request, terminal func(*transport.Request) (*transport.Response, error)) (*transport.Response, error) {
	chain := &interceptorChain{interceptors: e.Interceptors, terminal: terminal}
	return chain.proceed(req)
}
