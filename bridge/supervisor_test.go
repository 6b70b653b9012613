package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/mijiabridge/internal/groutine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSuperviseReturnsFirstFailure(t *testing.T) {
	errDelivery := errors.New("delivery loop failed")

	start := time.Now()
	err := Supervise(context.Background(),
		Unit{Name: "bridge", Run: blockUntilDone},
		Unit{Name: "homie", Run: func(context.Context) error { return errDelivery }},
	)

	require.ErrorIs(t, err, errDelivery)
	assert.ErrorContains(t, err, "homie")
	assert.Less(t, time.Since(start), time.Second)
}

func TestSuperviseTreatsCleanExitAsFailure(t *testing.T) {
	err := Supervise(context.Background(),
		Unit{Name: "bridge", Run: func(context.Context) error { return nil }},
		Unit{Name: "homie", Run: blockUntilDone},
	)

	require.ErrorIs(t, err, ErrUnitExited)
	assert.ErrorContains(t, err, "bridge")
}

func TestSuperviseCancelsSiblings(t *testing.T) {
	cancelled := make(chan struct{})

	err := Supervise(context.Background(),
		Unit{Name: "bridge", Run: func(ctx context.Context) error {
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		}},
		Unit{Name: "homie", Run: func(context.Context) error { return errors.New("boom") }},
	)

	require.Error(t, err)
	select {
	case <-cancelled:
	default:
		t.Fatal("sibling unit was not cancelled before Supervise returned")
	}
}

func TestSuperviseStopsOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := Supervise(ctx,
		Unit{Name: "bridge", Run: blockUntilDone},
		Unit{Name: "homie", Run: blockUntilDone},
	)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSuperviseNamesUnits(t *testing.T) {
	var name string
	_ = Supervise(context.Background(), Unit{Name: "metrics", Run: func(ctx context.Context) error {
		name = groutine.GetName(ctx)
		return nil
	}})

	assert.Equal(t, "metrics", name)
}

func TestSuperviseWithoutUnits(t *testing.T) {
	assert.ErrorIs(t, Supervise(context.Background()), ErrUnitExited)
}
