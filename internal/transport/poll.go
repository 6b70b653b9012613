package transport

import (
	"context"
	"time"
)

// Poll receives the next event from ch, giving up after timeout.
//
// It returns ErrTimeout when nothing arrives in time and ErrSessionClosed
// once ch is closed and drained.
func Poll(ctx context.Context, ch <-chan Event, timeout time.Duration) (Event, error) {
	select {
	case ev, ok := <-ch:
		if !ok {
			return nil, ErrSessionClosed
		}
		return ev, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	case ev, ok := <-ch:
		if !ok {
			return nil, ErrSessionClosed
		}
		return ev, nil
	}
}
