package rpc

import (
	"context"
)

type Handler func(ctx context.Context, req interface{}) (interface{}, error)
type Middleware func(ctx context.Context, req interface{}, next Handler) (interface{}, error)

func buildHandlerFunction(middleware []Middleware, final Handler) Handler {

	// apply middleware from first registered outward

	// start with the final handler
	chain := final

	// loop backwards through the middleware slice
	for i := len(middleware) - 1; i >= 0; i-- {
		// capture the current middleware handler
		m := middleware[i]

		// wrap the current chain with the current middleware
		next := chain
		chain = func(ctx context.Context, req interface{}) (interface{}, error) {
			return m(ctx, req, next)
		}
	}

	// return the fully chained handler
	return chain
}

func ApplyHandlerChain(ctx context.Context, req interface{}, middleware []Middleware, final Handler) (interface{}, error) {
	fn := buildHandlerFunction(middleware, final)
	return fn(ctx, req)
}
