// Package kit holds the transport-neutral endpoint shape shared by the HTTP
// API, connectivity handlers and MCP tools of the adaptation service.
package kit

import "context"

// Endpoint is one service operation: decoded request in, response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain applies middlewares so that the first is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
