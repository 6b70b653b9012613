// Package homie publishes a device and its nodes following the Homie MQTT
// convention.
package homie

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultQueueSize is the number of messages buffered ahead of the delivery loop.
const DefaultQueueSize = 256

var (
	ErrNotStarted     = errors.New("homie device not started")
	ErrClosed         = errors.New("homie delivery loop stopped")
	ErrConnectionLost = errors.New("mqtt connection lost")
	ErrQueueFull      = errors.New("homie outbox full")
	errInvalidTopicID = errors.New("invalid topic id")
)

// Config describes the device and how to reach the broker.
type Config struct {
	// BaseTopic is "<prefix>/<device id>".
	BaseTopic string
	Name      string

	Broker    *url.URL
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	// PublishTimeout bounds one delivery, including the wait for a broker
	// connection, and the wait for room in a full outbox.
	PublishTimeout time.Duration
	QueueSize      int
}

// connection is the part of autopaho.ConnectionManager the device uses.
type connection interface {
	AwaitConnection(ctx context.Context) error
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Disconnect(ctx context.Context) error
	Done() <-chan struct{}
}

// Device is a Homie device whose nodes can be added and removed at runtime.
//
// Calls enqueue messages; Run delivers them. Every (re)connection republishes
// the complete device description.
type Device struct {
	cfg    Config
	logger *logrus.Logger

	conn     connection
	stopConn context.CancelFunc

	mu    sync.Mutex
	state State
	nodes *orderedmap.OrderedMap[string, Node]

	outbox      chan message
	reconnected chan struct{}
	done        chan struct{}
	doneOnce    sync.Once
}

// NewDevice creates a device in the init state.
func NewDevice(cfg Config, logger *logrus.Logger) *Device {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	return &Device{
		cfg:         cfg,
		logger:      logger,
		state:       StateInit,
		nodes:       orderedmap.New[string, Node](),
		outbox:      make(chan message, cfg.QueueSize),
		reconnected: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start begins connecting to the broker in the background. The connection
// outlives ctx; it is torn down by Close.
func (d *Device) Start(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{d.cfg.Broker},
		KeepAlive:                     uint16(d.cfg.KeepAlive / time.Second),
		CleanStartOnInitialConnection: true,
		ConnectUsername:               d.cfg.Username,
		ConnectPassword:               []byte(d.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   d.cfg.BaseTopic + "/$state",
			Payload: []byte(StateLost),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			d.logger.WithField("broker", d.cfg.Broker.String()).Info("MQTT connection established")
			select {
			case d.reconnected <- struct{}{}:
			default:
			}
		},
		OnConnectError: func(err error) {
			d.logger.WithFields(logrus.Fields{
				"broker": d.cfg.Broker.String(),
				"error":  err,
			}).Warn("MQTT connection failed, retrying...")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: d.cfg.ClientID,
			OnClientError: func(err error) {
				d.logger.WithField("error", err).Error("MQTT client error")
			},
			OnServerDisconnect: func(p *paho.Disconnect) {
				d.logger.WithField("reason", p.ReasonCode).Warn("MQTT server requested disconnect")
			},
		},
	}
	if d.cfg.Broker.Scheme == "mqtts" || d.cfg.Broker.Scheme == "ssl" || d.cfg.Broker.Scheme == "tls" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(connCtx, pahoCfg)
	if err != nil {
		cancel()
		return fmt.Errorf("mqtt connect: %w", err)
	}

	d.conn = cm
	d.stopConn = cancel
	return nil
}

// AddNode registers a node and publishes its description. Re-adding a node
// replaces it.
func (d *Device) AddNode(ctx context.Context, n Node) error {
	if err := validateNode(n); err != nil {
		return err
	}

	d.mu.Lock()
	d.nodes.Set(n.ID, n)
	msgs := d.structureChange(n.attributes(d.cfg.BaseTopic))
	d.mu.Unlock()

	return d.enqueue(ctx, msgs...)
}

// RemoveNode unregisters a node and clears its retained topics. Removing an
// unknown node is a no-op.
func (d *Device) RemoveNode(ctx context.Context, nodeID string) error {
	d.mu.Lock()
	n, ok := d.nodes.Delete(nodeID)
	if !ok {
		d.mu.Unlock()
		return nil
	}
	msgs := d.structureChange(n.cleared(d.cfg.BaseTopic))
	d.mu.Unlock()

	return d.enqueue(ctx, msgs...)
}

// structureChange wraps msgs with the updated node list, toggling $state
// through init when the device is already ready. Callers hold d.mu.
func (d *Device) structureChange(msgs []message) []message {
	out := make([]message, 0, len(msgs)+3)
	if d.state == StateReady {
		out = append(out, d.attr("$state", string(StateInit)))
	}
	out = append(out, msgs...)
	out = append(out, d.attr("$nodes", d.nodeIDs()))
	if d.state == StateReady {
		out = append(out, d.attr("$state", string(StateReady)))
	}
	return out
}

// PublishValue publishes the current value of a node property.
func (d *Device) PublishValue(ctx context.Context, nodeID, propertyID, value string) error {
	return d.enqueue(ctx, message{d.cfg.BaseTopic + "/" + nodeID + "/" + propertyID, value})
}

// Ready marks the device ready.
func (d *Device) Ready(ctx context.Context) error {
	d.mu.Lock()
	d.state = StateReady
	d.mu.Unlock()

	return d.enqueue(ctx, d.attr("$state", string(StateReady)))
}

// Nodes returns the registered node ids in registration order.
func (d *Device) Nodes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, d.nodes.Len())
	for pair := d.nodes.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// enqueue hands msgs to the delivery loop. It fails with ErrQueueFull when
// the outbox stays full for PublishTimeout.
func (d *Device) enqueue(ctx context.Context, msgs ...message) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for _, m := range msgs {
		select {
		case <-d.done:
			return ErrClosed
		default:
		}
		select {
		case d.outbox <- m:
			continue
		default:
		}

		if timer == nil {
			timer = time.NewTimer(d.cfg.PublishTimeout)
		}
		select {
		case d.outbox <- m:
		case <-d.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: no delivery within %s", ErrQueueFull, d.cfg.PublishTimeout)
		}
	}
	return nil
}

// Run delivers queued messages until ctx is cancelled or delivery fails. A
// broker that stays unreachable for PublishTimeout while a message is pending
// fails Run with ErrConnectionLost. It never returns nil.
func (d *Device) Run(ctx context.Context) error {
	if d.conn == nil {
		return ErrNotStarted
	}
	defer d.doneOnce.Do(func() { close(d.done) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.conn.Done():
			return ErrConnectionLost
		case <-d.reconnected:
			for _, m := range d.snapshot() {
				if err := d.publish(ctx, m); err != nil {
					return err
				}
			}
		case m := <-d.outbox:
			if err := d.publish(ctx, m); err != nil {
				return err
			}
		}
	}
}

// snapshot returns the complete device description for a fresh connection.
func (d *Device) snapshot() []message {
	d.mu.Lock()
	defer d.mu.Unlock()

	msgs := []message{
		d.attr("$state", string(StateInit)),
		d.attr("$homie", Version),
		d.attr("$name", d.cfg.Name),
		d.attr("$extensions", ""),
		d.attr("$nodes", d.nodeIDs()),
	}
	for pair := d.nodes.Oldest(); pair != nil; pair = pair.Next() {
		msgs = append(msgs, pair.Value.attributes(d.cfg.BaseTopic)...)
	}
	if d.state != StateInit {
		msgs = append(msgs, d.attr("$state", string(d.state)))
	}
	return msgs
}

func (d *Device) publish(ctx context.Context, m message) error {
	pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()

	if err := d.conn.AwaitConnection(pubCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: no connection to %s within %s: %v", ErrConnectionLost, d.brokerName(), d.cfg.PublishTimeout, err)
	}

	_, err := d.conn.Publish(pubCtx, &paho.Publish{
		Topic:   m.topic,
		QoS:     1,
		Retain:  true,
		Payload: []byte(m.payload),
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	d.logger.WithFields(logrus.Fields{"topic": m.topic, "payload": m.payload}).Trace("Published")
	return nil
}

// Close publishes the disconnected state and closes the broker connection.
func (d *Device) Close(ctx context.Context) error {
	if d.conn == nil {
		return nil
	}
	defer d.stopConn()

	d.mu.Lock()
	d.state = StateDisconnected
	d.mu.Unlock()

	_, pubErr := d.conn.Publish(ctx, &paho.Publish{
		Topic:   d.cfg.BaseTopic + "/$state",
		QoS:     1,
		Retain:  true,
		Payload: []byte(StateDisconnected),
	})
	if pubErr != nil {
		pubErr = fmt.Errorf("publish disconnected state: %w", pubErr)
	}
	return errors.Join(pubErr, d.conn.Disconnect(ctx))
}

func (d *Device) brokerName() string {
	if d.cfg.Broker == nil {
		return "broker"
	}
	return d.cfg.Broker.Host
}

func (d *Device) attr(name, value string) message {
	return message{d.cfg.BaseTopic + "/" + name, value}
}

// nodeIDs returns the comma separated node list. Callers hold d.mu.
func (d *Device) nodeIDs() string {
	ids := make([]string, 0, d.nodes.Len())
	for pair := d.nodes.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return strings.Join(ids, ",")
}

func validateNode(n Node) error {
	if err := validateID(n.ID); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	for _, p := range n.Properties {
		if err := validateID(p.ID); err != nil {
			return fmt.Errorf("node %s property: %w", n.ID, err)
		}
	}
	return nil
}

func validateID(id string) error {
	if id == "" || strings.HasPrefix(id, "$") || strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("%w %q", errInvalidTopicID, id)
	}
	return nil
}
