package homie

import "strings"

// Version is the Homie convention version implemented by Device.
const Version = "4.0"

// Datatype is the Homie datatype of a property.
type Datatype string

const (
	Float   Datatype = "float"
	Integer Datatype = "integer"
	String  Datatype = "string"
	Boolean Datatype = "boolean"
)

// State is the lifecycle state of a device.
type State string

const (
	StateInit         State = "init"
	StateReady        State = "ready"
	StateDisconnected State = "disconnected"
	StateLost         State = "lost"
)

// Property is a read-only node property.
type Property struct {
	ID       string
	Name     string
	Datatype Datatype
	Unit     string
}

// Node is a group of properties, one per physical sensor.
type Node struct {
	ID         string
	Name       string
	Type       string
	Properties []Property
}

type message struct {
	topic   string
	payload string
}

func (n Node) topic(base string) string {
	return base + "/" + n.ID
}

func (n Node) propertyIDs() string {
	ids := make([]string, len(n.Properties))
	for i, p := range n.Properties {
		ids[i] = p.ID
	}
	return strings.Join(ids, ",")
}

func (n Node) attributes(base string) []message {
	nt := n.topic(base)
	msgs := []message{
		{nt + "/$name", n.Name},
		{nt + "/$type", n.Type},
		{nt + "/$properties", n.propertyIDs()},
	}
	for _, p := range n.Properties {
		pt := nt + "/" + p.ID
		msgs = append(msgs,
			message{pt + "/$name", p.Name},
			message{pt + "/$datatype", string(p.Datatype)},
		)
		if p.Unit != "" {
			msgs = append(msgs, message{pt + "/$unit", p.Unit})
		}
	}
	return msgs
}

// cleared returns empty retained messages for every topic the node owns.
func (n Node) cleared(base string) []message {
	attrs := n.attributes(base)
	msgs := make([]message, 0, len(attrs)+len(n.Properties))
	for _, m := range attrs {
		msgs = append(msgs, message{topic: m.topic})
	}
	for _, p := range n.Properties {
		msgs = append(msgs, message{topic: n.topic(base) + "/" + p.ID})
	}
	return msgs
}
