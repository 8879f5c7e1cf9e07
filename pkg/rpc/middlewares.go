package rpc

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kestrelrpc/kestrel/pkg/log"
	"github.com/kestrelrpc/kestrel/pkg/status"
)

// LoggingMiddleware logs each call's duration and failure, if any.
func LoggingMiddleware(logger log.Logger) Middleware {
	return func(ctx context.Context, req interface{}, next Handler) (interface{}, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		if logger != nil {
			if err != nil {
				logger.Warn(fmt.Sprintf("call failed after %s: %s", time.Since(start), err))
			} else {
				logger.Debug(fmt.Sprintf("call completed in %s", time.Since(start)))
			}
		}
		return resp, err
	}
}

// TimeoutMiddleware bounds each call with a deadline.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(ctx context.Context, req interface{}, next Handler) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return next(ctx, req)
	}
}

// RetryMiddleware retries calls that failed with UNAVAILABLE or
// RESOURCE_EXHAUSTED, with exponential backoff. Only safe on idempotent
// methods; the caller decides where to install it.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(ctx context.Context, req interface{}, next Handler) (interface{}, error) {
		resp, err := next(ctx, req)
		for i := 0; i < maxRetries && err != nil; i++ {
			st := status.FromError(err)
			if st.Code != status.Unavailable && st.Code != status.ResourceExhausted {
				return resp, err
			}
			select {
			case <-time.After(baseDelay * time.Duration(1<<i)):
			case <-ctx.Done():
				return nil, status.FromError(ctx.Err()).Err()
			}
			resp, err = next(ctx, req)
		}
		return resp, err
	}
}

// RateLimitMiddleware rejects calls beyond a token-bucket rate with
// RESOURCE_EXHAUSTED.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(ctx context.Context, req interface{}, next Handler) (interface{}, error) {
		if !limiter.Allow() {
			return nil, status.New(status.ResourceExhausted, "rate limit exceeded")
		}
		return next(ctx, req)
	}
}
