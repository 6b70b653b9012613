package bridge

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
	"github.com/srg/mijiabridge/internal/metrics"
	"github.com/srg/mijiabridge/internal/transport"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Status is the connection state of a known sensor.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
)

var statuses = []Status{StatusQueued, StatusConnecting, StatusConnected}

const (
	eventDial        = "dial"
	eventEstablished = "established"
	eventFail        = "fail"
	eventLost        = "lost"
)

// Sensor is a known sensor and its connection state.
type Sensor struct {
	Handle   transport.Handle
	Identity NodeIdentity

	machine *fsm.FSM
}

// Status returns the current connection state.
func (s *Sensor) Status() Status {
	return Status(s.machine.Current())
}

// Fleet tracks every known sensor with a single status-tagged entry.
//
// Entries are kept in retry order: the queued sensor closest to the front is
// dialled next, and a sensor re-entering the queue moves to the back. Queued
// entries therefore form the pending FIFO and connected entries the connected
// set, without a sensor ever being stored twice.
type Fleet struct {
	sensors *orderedmap.OrderedMap[string, *Sensor]
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewFleet creates an empty fleet.
func NewFleet(logger *logrus.Logger, m *metrics.Metrics) *Fleet {
	if logger == nil {
		logger = logrus.New()
	}
	f := &Fleet{
		sensors: orderedmap.New[string, *Sensor](),
		logger:  logger,
		metrics: m,
	}
	f.report()
	return f
}

// Enqueue adds a sensor at the back of the queue. Handles already tracked are ignored.
func (f *Fleet) Enqueue(h transport.Handle, id NodeIdentity) (*Sensor, bool) {
	if s, ok := f.sensors.Get(h.ID()); ok {
		return s, false
	}

	s := &Sensor{Handle: h, Identity: id}
	s.machine = fsm.NewFSM(
		string(StatusQueued),
		fsm.Events{
			{Name: eventDial, Src: []string{string(StatusQueued)}, Dst: string(StatusConnecting)},
			{Name: eventEstablished, Src: []string{string(StatusConnecting)}, Dst: string(StatusConnected)},
			{Name: eventFail, Src: []string{string(StatusConnecting)}, Dst: string(StatusQueued)},
			{Name: eventLost, Src: []string{string(StatusConnected)}, Dst: string(StatusQueued)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				f.logger.WithFields(logrus.Fields{
					"name":  s.Identity.DisplayName,
					"event": e.Event,
					"from":  e.Src,
					"to":    e.Dst,
				}).Debug("Sensor state changed")
			},
		},
	)

	f.sensors.Set(h.ID(), s)
	f.report()
	return s, true
}

// Lookup returns the sensor tracked under a device identity token.
func (f *Fleet) Lookup(id string) (*Sensor, bool) {
	return f.sensors.Get(id)
}

// Next returns the queued sensor at the front of the queue.
func (f *Fleet) Next() (*Sensor, bool) {
	for pair := f.sensors.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Status() == StatusQueued {
			return pair.Value, true
		}
	}
	return nil, false
}

// Pending returns the queued sensors in retry order.
func (f *Fleet) Pending() []*Sensor {
	return f.filter(StatusQueued)
}

// Connected returns the connected sensors.
func (f *Fleet) Connected() []*Sensor {
	return f.filter(StatusConnected)
}

// Len returns the number of tracked sensors.
func (f *Fleet) Len() int {
	return f.sensors.Len()
}

func (f *Fleet) filter(status Status) []*Sensor {
	var out []*Sensor
	for pair := f.sensors.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Status() == status {
			out = append(out, pair.Value)
		}
	}
	return out
}

func (f *Fleet) dial(ctx context.Context, s *Sensor) error {
	return f.fire(ctx, s, eventDial)
}

func (f *Fleet) established(ctx context.Context, s *Sensor) error {
	return f.fire(ctx, s, eventEstablished)
}

// requeue moves a connecting or connected sensor to the back of the queue.
func (f *Fleet) requeue(ctx context.Context, s *Sensor) error {
	event := eventFail
	if s.Status() == StatusConnected {
		event = eventLost
	}
	if err := f.fire(ctx, s, event); err != nil {
		return err
	}
	return f.sensors.MoveToBack(s.Handle.ID())
}

func (f *Fleet) fire(ctx context.Context, s *Sensor, event string) error {
	// Transitions must complete during shutdown too.
	if err := s.machine.Event(context.WithoutCancel(ctx), event); err != nil {
		return fmt.Errorf("sensor %s: %s from %s: %w", s.Identity.DisplayName, event, s.Status(), err)
	}
	f.report()
	return nil
}

func (f *Fleet) report() {
	if f.metrics == nil {
		return
	}
	counts := make(map[Status]int, len(statuses))
	for pair := f.sensors.Oldest(); pair != nil; pair = pair.Next() {
		counts[pair.Value.Status()]++
	}
	for _, st := range statuses {
		f.metrics.SetSensors(string(st), counts[st])
	}
}
