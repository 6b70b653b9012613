package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name.
//
//	groutine.Go(ctx, "bluez-signals", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	go pprof.Do(parentCtx, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// Do runs fn on the calling goroutine with the name label applied for its
// duration and returns fn's error.
func Do(parentCtx context.Context, name string, fn func(ctx context.Context) error) error {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	var err error
	pprof.Do(parentCtx, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		err = fn(context.WithValue(ctx, goroutineNameKey, name))
	})
	return err
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(goroutineNameKey).(string); ok {
		return s
	}
	return ""
}
