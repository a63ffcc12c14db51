// Package status writes the node's externally observable state as a
// line-oriented JSON event stream.
//
// Every line is one object with a schema version "v" and a discriminator
// "kind"; the remaining fields depend on the kind. Readers must ignore kinds
// and fields they do not know; Decode returns such lines as *Unknown.
package status

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is bumped only for incompatible changes to existing kinds.
const Version = 1

type Kind string

const (
	KindInterface      Kind = "interface"
	KindInterfaceState Kind = "interface_state"
	KindAddress        Kind = "address"
	KindDAD            Kind = "dad"
	KindRouter         Kind = "router"
)

// Event is one of the concrete event types of this package.
type Event interface {
	Kind() Kind
	// Iface names the interface the event belongs to.
	Iface() string
}

// Interface announces an interface. It precedes every other event of that
// interface and is emitted once.
type Interface struct {
	Name string `json:"name"`
	MAC  string `json:"mac,omitempty"`
}

// Interface states.
const (
	StateEnabled    = "enabled"
	StateDisabled   = "disabled"
	StateIPDisabled = "ip_disabled"
)

type InterfaceState struct {
	Interface string `json:"interface"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

// Address reports an address entering a state. State "invalid" means the
// address left the table; Reason says why.
type Address struct {
	Interface         string `json:"interface"`
	Address           string `json:"address"`
	PrefixLength      int    `json:"prefix_length"`
	State             string `json:"state"`
	Source            string `json:"source"`
	PreferredLifetime string `json:"preferred_lifetime,omitempty"`
	ValidLifetime     string `json:"valid_lifetime,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// DAD outcomes.
const (
	OutcomeUnique    = "unique"
	OutcomeDuplicate = "duplicate"
)

type DAD struct {
	Interface string `json:"interface"`
	Address   string `json:"address"`
	Outcome   string `json:"outcome"`
}

// Router reports a router heard through a valid advertisement.
type Router struct {
	Interface string `json:"interface"`
	Address   string `json:"address"`
	Lifetime  string `json:"lifetime"`
}

// Unknown carries a line whose kind this version does not know.
type Unknown struct {
	Type Kind
	Raw  json.RawMessage
}

func (*Interface) Kind() Kind      { return KindInterface }
func (*InterfaceState) Kind() Kind { return KindInterfaceState }
func (*Address) Kind() Kind        { return KindAddress }
func (*DAD) Kind() Kind            { return KindDAD }
func (*Router) Kind() Kind         { return KindRouter }
func (u *Unknown) Kind() Kind      { return u.Type }

func (e *Interface) Iface() string      { return e.Name }
func (e *InterfaceState) Iface() string { return e.Interface }
func (e *Address) Iface() string        { return e.Interface }
func (e *DAD) Iface() string            { return e.Interface }
func (e *Router) Iface() string         { return e.Interface }

func (u *Unknown) Iface() string {
	var probe struct {
		Interface string `json:"interface"`
	}
	json.Unmarshal(u.Raw, &probe)
	return probe.Interface
}

// Encode renders e as one JSON object without a trailing newline.
func Encode(e Event) ([]byte, error) {
	if u, ok := e.(*Unknown); ok {
		return append([]byte(nil), u.Raw...), nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	kind, err := json.Marshal(string(e.Kind()))
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, `{"v":%d,"kind":%s`, Version, kind)
	if len(body) > 2 {
		b.WriteByte(',')
		b.Write(body[1:])
	} else {
		b.WriteByte('}')
	}
	return b.Bytes(), nil
}

var errNoKind = errors.New("status line has no kind")

// Decode parses one line. Unknown kinds come back as *Unknown.
func Decode(line []byte) (Event, error) {
	var env struct {
		V    int  `json:"v"`
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("invalid status line: %w", err)
	}
	if env.Kind == "" {
		return nil, errNoKind
	}

	var e Event
	switch env.Kind {
	case KindInterface:
		e = &Interface{}
	case KindInterfaceState:
		e = &InterfaceState{}
	case KindAddress:
		e = &Address{}
	case KindDAD:
		e = &DAD{}
	case KindRouter:
		e = &Router{}
	default:
		return &Unknown{Type: env.Kind, Raw: append(json.RawMessage(nil), line...)}, nil
	}
	if err := json.Unmarshal(line, e); err != nil {
		return nil, fmt.Errorf("invalid %s event: %w", env.Kind, err)
	}
	return e, nil
}
