// Package middleware holds the http.Handler decorators applied around the
// generated routes: request ids, access logs, panic recovery, rate limits
// and deadlines.
package middleware

import (
	"net/http"
)

// Middleware wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain composes middleware so that the first one added runs first
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a chain from the given middleware
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: append([]Middleware(nil), middlewares...)}
}

// Use appends middleware to the chain
func (c *Chain) Use(middlewares ...Middleware) *Chain {
	c.middlewares = append(c.middlewares, middlewares...)
	return c
}

// Len returns the number of middleware in the chain
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// Then wraps handler with every middleware in the chain
func (c *Chain) Then(handler http.Handler) http.Handler {
	return Wrap(handler, c.middlewares...)
}

// Append returns a new chain with middlewares added after the current ones.
// The receiver is left untouched.
func (c *Chain) Append(middlewares ...Middleware) *Chain {
	out := make([]Middleware, 0, len(c.middlewares)+len(middlewares))
	out = append(out, c.middlewares...)
	out = append(out, middlewares...)
	return &Chain{middlewares: out}
}

// Wrap applies middlewares to handler. middlewares[0] is the outermost
// wrapper. Nil entries are skipped.
func Wrap(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		handler = middlewares[i](handler)
	}
	return handler
}
