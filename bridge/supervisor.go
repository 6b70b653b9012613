package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/mijiabridge/internal/groutine"
	"golang.org/x/sync/errgroup"
)

// ErrUnitExited reports a supervised unit that returned without an error.
var ErrUnitExited = errors.New("unit exited")

// Unit is a long running task joined by Supervise.
type Unit struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervise runs units concurrently until the first of them returns, cancels
// the others and returns that first result. A unit returning nil is reported
// as ErrUnitExited; Supervise never returns nil.
func Supervise(ctx context.Context, units ...Unit) error {
	if len(units) == 0 {
		return fmt.Errorf("supervise: %w", ErrUnitExited)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range units {
		g.Go(func() error {
			return groutine.Do(gctx, u.Name, func(ctx context.Context) error {
				if err := u.Run(ctx); err != nil {
					return fmt.Errorf("%s: %w", u.Name, err)
				}
				return fmt.Errorf("%s: %w", u.Name, ErrUnitExited)
			})
		})
	}
	return g.Wait()
}
