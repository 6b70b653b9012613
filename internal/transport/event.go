package transport

import "fmt"

// Event is a notification delivered by a Session.
//
// The set of implementations is closed: ValueNotification,
// ConnectionStateChange and OtherEvent.
type Event interface {
	// Source returns the object path the event originated from.
	Source() string
	event()
}

// ValueNotification carries a new characteristic value.
type ValueNotification struct {
	Path  string
	Value []byte
}

func (e ValueNotification) Source() string { return e.Path }
func (ValueNotification) event()           {}

func (e ValueNotification) String() string {
	return fmt.Sprintf("value %s % x", e.Path, e.Value)
}

// ConnectionStateChange reports a device link going up or down.
type ConnectionStateChange struct {
	Path      string
	Connected bool
}

func (e ConnectionStateChange) Source() string { return e.Path }
func (ConnectionStateChange) event()           {}

func (e ConnectionStateChange) String() string {
	return fmt.Sprintf("connected=%t %s", e.Connected, e.Path)
}

// OtherEvent is any notification the bridge has no use for.
type OtherEvent struct {
	Path string
	Kind string
}

func (e OtherEvent) Source() string { return e.Path }
func (OtherEvent) event()           {}

func (e OtherEvent) String() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}
