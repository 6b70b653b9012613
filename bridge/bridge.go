// Package bridge keeps known sensors connected and republishes their
// telemetry to a Homie registry.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/mijiabridge/internal/homie"
	"github.com/srg/mijiabridge/internal/metrics"
	"github.com/srg/mijiabridge/internal/sensor"
	"github.com/srg/mijiabridge/internal/transport"
	"github.com/srg/mijiabridge/pkg/config"
	"github.com/srg/mijiabridge/scanner"
)

// Registry is the device registry sensors are published to.
// Calls hand work to the registry's own delivery loop.
type Registry interface {
	AddNode(ctx context.Context, n homie.Node) error
	RemoveNode(ctx context.Context, nodeID string) error
	PublishValue(ctx context.Context, nodeID, propertyID, value string) error
	Ready(ctx context.Context) error
}

// Options contains all the configuration for running a bridge
type Options struct {
	ScanDuration    time.Duration            // Discovery pass length at startup
	ConnectTimeout  time.Duration            // Per-attempt connection timeout
	IncomingTimeout time.Duration            // Idle time that ends an event drain
	Profile         sensor.Profile           // Sensor model being bridged
	Names           *config.SensorNames      // Known sensors and their display names
	Logger          *logrus.Logger           // Logger instance
	Metrics         *metrics.Metrics         // Optional instrumentation
	Progress        scanner.ProgressCallback // Optional scan progress reporting
}

// Bridge connects known sensors one attempt at a time and dispatches their
// events. It is driven from a single goroutine.
type Bridge struct {
	session  transport.Session
	registry Registry
	opts     Options
	sensors  *Fleet
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

// New creates a bridge over session publishing to registry.
func New(session transport.Session, registry Registry, opts Options) (*Bridge, error) {
	if session == nil {
		return nil, fmt.Errorf("failed to create bridge: session is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("failed to create bridge: registry is required")
	}
	if opts.Profile.Decode == nil {
		return nil, fmt.Errorf("failed to create bridge: profile %q has no decoder", opts.Profile.Model)
	}
	if opts.ConnectTimeout <= 0 || opts.IncomingTimeout <= 0 {
		return nil, fmt.Errorf("failed to create bridge: timeouts must be positive")
	}
	if opts.Names == nil {
		opts.Names = config.NewSensorNames()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	return &Bridge{
		session:  session,
		registry: registry,
		opts:     opts,
		sensors:  NewFleet(opts.Logger, opts.Metrics),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}, nil
}

// Sensors returns the tracked sensors.
func (b *Bridge) Sensors() *Fleet {
	return b.sensors
}

// Run discovers sensors, marks the registry ready and then alternates between
// one connection attempt and draining pending events until ctx is done or a
// registry or session fault occurs. It never returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Discover(ctx); err != nil {
		return err
	}
	if err := b.registry.Ready(ctx); err != nil {
		return fmt.Errorf("failed to mark registry ready: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Step(ctx); err != nil {
			return err
		}
	}
}

// Discover runs one discovery pass and queues every known sensor found, in
// discovery order.
func (b *Bridge) Discover(ctx context.Context) error {
	handles, err := scanner.NewScanner(b.session, b.logger).Scan(ctx, b.opts.ScanDuration, b.opts.Progress)
	if err != nil {
		return fmt.Errorf("failed to scan: %w", err)
	}

	inv := scanner.Partition(handles, b.opts.Names, b.opts.Profile)
	b.logger.WithFields(logrus.Fields{
		"devices": len(handles),
		"known":   len(inv.Known),
		"unnamed": len(inv.Unnamed),
	}).Info("Scan finished")
	for _, h := range inv.Unnamed {
		b.logger.WithField("address", h.Address()).Info("Found unnamed sensor")
	}

	for _, h := range inv.Known {
		b.Enqueue(h)
	}
	return nil
}

// Enqueue queues a sensor for connection.
func (b *Bridge) Enqueue(h transport.Handle) {
	b.sensors.Enqueue(h, Identify(h.Address(), b.opts.Names))
}

// Step performs one loop iteration: at most one connection attempt, then a
// drain of every pending event.
func (b *Bridge) Step(ctx context.Context) error {
	if err := b.TryConnectNext(ctx); err != nil {
		return err
	}
	return b.Drain(ctx)
}

// TryConnectNext attempts to connect the sensor at the front of the queue.
// Sensor failures requeue the sensor at the back and are not returned.
func (b *Bridge) TryConnectNext(ctx context.Context) error {
	s, ok := b.sensors.Next()
	if !ok {
		return nil
	}

	log := b.logger.WithFields(logrus.Fields{
		"name":    s.Identity.DisplayName,
		"address": s.Handle.Address(),
	})
	log.WithField("queued", len(b.sensors.Pending())).Debug("Trying to connect")

	if err := b.sensors.dial(ctx, s); err != nil {
		return err
	}

	start := time.Now()
	err := b.connect(ctx, s)
	if err != nil {
		b.metrics.ObserveConnect(metrics.ResultFailure, time.Since(start))
		if requeueErr := b.sensors.requeue(ctx, s); requeueErr != nil {
			return requeueErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("Failed to connect")
		return nil
	}

	b.metrics.ObserveConnect(metrics.ResultSuccess, time.Since(start))
	log.WithField("node", s.Identity.NodeID).Info("Connected")
	return b.sensors.established(ctx, s)
}

// connect opens the link, subscribes, applies the profile setup writes and
// registers the node. A failure after the link opened drops the link.
func (b *Bridge) connect(ctx context.Context, s *Sensor) (err error) {
	if err := b.session.Connect(ctx, s.Handle, b.opts.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err != nil {
			b.dropLink(ctx, s)
		}
	}()

	if err := b.session.Subscribe(ctx, s.Handle, b.opts.Profile.Data); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	for _, w := range b.opts.Profile.Setup {
		if err := b.session.Write(ctx, s.Handle, w.Characteristic, w.Value); err != nil {
			return fmt.Errorf("failed to write %s: %w", w.Characteristic.Suffix, err)
		}
	}
	if err := b.registry.AddNode(ctx, SensorNode(s.Identity, b.opts.Profile.NodeType)); err != nil {
		return fmt.Errorf("failed to register node %s: %w", s.Identity.NodeID, err)
	}
	return nil
}

func (b *Bridge) dropLink(ctx context.Context, s *Sensor) {
	if err := b.session.Disconnect(context.WithoutCancel(ctx), s.Handle); err != nil {
		b.logger.WithFields(logrus.Fields{
			"name":  s.Identity.DisplayName,
			"error": err,
		}).Debug("Failed to drop link")
	}
}

// HandleDisconnect reacts to the link of the device identified by id going
// down. A connected sensor is deregistered and requeued at the back; a
// disconnect for any other device is logged and ignored.
func (b *Bridge) HandleDisconnect(ctx context.Context, id string) error {
	s, ok := b.sensors.Lookup(id)
	if !ok || s.Status() != StatusConnected {
		b.logger.WithField("path", id).Warn("Disconnected but was not known to be connected")
		return nil
	}

	b.logger.WithFields(logrus.Fields{
		"name":    s.Identity.DisplayName,
		"address": s.Handle.Address(),
	}).Info("Disconnected")
	b.metrics.IncDisconnects()

	if err := b.sensors.requeue(ctx, s); err != nil {
		return err
	}
	if err := b.registry.RemoveNode(ctx, s.Identity.NodeID); err != nil {
		return fmt.Errorf("failed to deregister node %s: %w", s.Identity.NodeID, err)
	}
	return nil
}
