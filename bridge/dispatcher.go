package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/mijiabridge/internal/transport"
)

// Drain dispatches events until none arrives within the incoming timeout.
// Session faults and registry failures end the drain with an error.
func (b *Bridge) Drain(ctx context.Context) error {
	for {
		ev, err := b.session.NextEvent(ctx, b.opts.IncomingTimeout)
		if errors.Is(err, transport.ErrTimeout) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to receive events: %w", err)
		}
		if err := b.Dispatch(ctx, ev); err != nil {
			return err
		}
	}
}

// Dispatch routes one event: values to the telemetry pipeline, lost links to
// HandleDisconnect. Everything else is dropped.
func (b *Bridge) Dispatch(ctx context.Context, ev transport.Event) error {
	switch ev := ev.(type) {
	case transport.ValueNotification:
		return b.handleValue(ctx, ev)
	case transport.ConnectionStateChange:
		if ev.Connected {
			b.ignore(ev)
			return nil
		}
		return b.HandleDisconnect(ctx, ev.Path)
	case transport.OtherEvent:
		b.ignore(ev)
		return nil
	default:
		// Event is sealed; a new variant needs an arm above.
		panic(fmt.Sprintf("bridge: unhandled event %T", ev))
	}
}

func (b *Bridge) handleValue(ctx context.Context, ev transport.ValueNotification) error {
	devicePath, ok := strings.CutSuffix(ev.Path, b.opts.Profile.Data.Suffix)
	if !ok {
		b.ignore(ev)
		return nil
	}

	id, err := b.identify(devicePath)
	if err != nil {
		b.logger.WithFields(logrus.Fields{
			"path":  ev.Path,
			"error": err,
		}).Warn("Value from unknown device")
		return nil
	}

	reading, ok := b.opts.Profile.Decode(ev.Value)
	if !ok {
		b.metrics.IncInvalidReadings()
		b.logger.WithFields(logrus.Fields{
			"name":    id.DisplayName,
			"path":    devicePath,
			"payload": fmt.Sprintf("%x", ev.Value),
		}).Warn("Invalid value")
		return nil
	}

	b.metrics.IncReadings()
	b.logger.WithFields(logrus.Fields{
		"name": id.DisplayName,
		"node": id.NodeID,
	}).Debug(reading.String())
	return publishReading(ctx, b.registry, id.NodeID, reading)
}

// identify resolves the identity of the device at path, falling back to the
// session for devices the fleet does not track.
func (b *Bridge) identify(path string) (NodeIdentity, error) {
	if s, ok := b.sensors.Lookup(path); ok {
		return s.Identity, nil
	}
	h, err := b.session.Resolve(path)
	if err != nil {
		return NodeIdentity{}, err
	}
	return Identify(h.Address(), b.opts.Names), nil
}

func (b *Bridge) ignore(ev transport.Event) {
	b.metrics.IncIgnoredEvents()
	b.logger.WithField("event", ev).Trace("Ignored event")
}
