package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrNotAnnounced     = errors.New("interface event before its announcement")
	ErrAlreadyAnnounced = errors.New("interface announced twice")
)

// Sink receives events. Emit may be called from several interface loops.
type Sink interface {
	Emit(Event) error
}

// announcer enforces that each interface is announced once, first.
type announcer struct {
	announced map[string]bool
}

func (a *announcer) check(e Event) error {
	name := e.Iface()
	if e.Kind() == KindInterface {
		if a.announced[name] {
			return fmt.Errorf("%w: %s", ErrAlreadyAnnounced, name)
		}
		a.announced[name] = true
		return nil
	}
	if !a.announced[name] {
		return fmt.Errorf("%w: %s event for %q", ErrNotAnnounced, e.Kind(), name)
	}
	return nil
}

// Stream writes one versioned event per line.
type Stream struct {
	mu sync.Mutex
	w  io.Writer
	a  announcer
}

func NewStream(w io.Writer) *Stream {
	return &Stream{w: w, a: announcer{announced: make(map[string]bool)}}
}

func (s *Stream) Emit(e Event) error {
	line, err := Encode(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.a.check(e); err != nil {
		return err
	}
	_, err = s.w.Write(append(line, '\n'))
	return err
}

// Snapshot folds events into one cumulative document and rewrites the whole
// document as a line after every change:
//
//	{"interface":{"name":"tap0","addresses":{"fe80::1":{"state":"preferred",...}}}}
//
// With several interfaces the top-level key is "interfaces", keyed by name.
type Snapshot struct {
	mu    sync.Mutex
	w     io.Writer
	a     announcer
	order []string
	ifs   map[string]*snapIface
}

type snapIface struct {
	Name      string               `json:"name"`
	MAC       string               `json:"mac,omitempty"`
	State     string               `json:"state,omitempty"`
	Router    string               `json:"router,omitempty"`
	Addresses map[string]*snapAddr `json:"addresses,omitempty"`
}

type snapAddr struct {
	State             string `json:"state"`
	Source            string `json:"source"`
	PrefixLength      int    `json:"prefix_length"`
	PreferredLifetime string `json:"preferred_lifetime,omitempty"`
	ValidLifetime     string `json:"valid_lifetime,omitempty"`
}

func NewSnapshot(w io.Writer) *Snapshot {
	return &Snapshot{
		w:   w,
		a:   announcer{announced: make(map[string]bool)},
		ifs: make(map[string]*snapIface),
	}
}

func (s *Snapshot) Emit(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.a.check(e); err != nil {
		return err
	}

	switch ev := e.(type) {
	case *Interface:
		s.order = append(s.order, ev.Name)
		s.ifs[ev.Name] = &snapIface{Name: ev.Name, MAC: ev.MAC}
	case *InterfaceState:
		s.ifs[ev.Interface].State = ev.State
	case *Address:
		ifc := s.ifs[ev.Interface]
		if ifc.Addresses == nil {
			ifc.Addresses = make(map[string]*snapAddr)
		}
		ifc.Addresses[ev.Address] = &snapAddr{
			State:             ev.State,
			Source:            ev.Source,
			PrefixLength:      ev.PrefixLength,
			PreferredLifetime: ev.PreferredLifetime,
			ValidLifetime:     ev.ValidLifetime,
		}
	case *Router:
		s.ifs[ev.Interface].Router = ev.Address
	default:
		// DAD outcomes are visible through the address states.
		return nil
	}
	return s.write()
}

func (s *Snapshot) write() error {
	var doc interface{}
	if len(s.order) == 1 {
		doc = map[string]*snapIface{"interface": s.ifs[s.order[0]]}
	} else {
		doc = map[string]map[string]*snapIface{"interfaces": s.ifs}
	}
	line, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.w.Write(append(line, '\n'))
	return err
}

// Multi fans events out to several sinks and returns the first error.
type Multi []Sink

func (m Multi) Emit(e Event) error {
	var first error
	for _, s := range m {
		if err := s.Emit(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
