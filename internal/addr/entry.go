package addr

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// State is the lifecycle state of an address.
type State int

const (
	Tentative State = iota
	Preferred
	Deprecated
	Invalid
)

func (s State) String() string {
	switch s {
	case Tentative:
		return "tentative"
	case Preferred:
		return "preferred"
	case Deprecated:
		return "deprecated"
	case Invalid:
		return "invalid"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Source records how an address was configured.
type Source int

const (
	LinkLocal Source = iota
	Slaac
	Manual
	Dhcp
)

func (s Source) String() string {
	switch s {
	case LinkLocal:
		return "link-local"
	case Slaac:
		return "slaac"
	case Manual:
		return "manual"
	case Dhcp:
		return "dhcp"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ErrLifetimeInversion rejects a preferred lifetime longer than the valid one.
var ErrLifetimeInversion = errors.New("preferred lifetime exceeds valid lifetime")

// Entry is one address bound to an interface.
type Entry struct {
	Address   netip.Addr
	PrefixLen int
	State     State
	Source    Source
	Anycast   bool
	// SkipDAD is set on manual addresses configured to bypass detection.
	SkipDAD bool

	PreferredLifetime Lifetime
	ValidLifetime     Lifetime
	// Updated is when the lifetimes above were last set; both count down
	// from it.
	Updated time.Time
}

// NewEntry returns a Tentative entry. Entries are never created Preferred.
func NewEntry(a netip.Addr, prefixLen int, src Source, preferred, valid Lifetime, now time.Time) (*Entry, error) {
	if !a.Is6() || a.Is4In6() {
		return nil, fmt.Errorf("%s is not an IPv6 address", a)
	}
	if prefixLen < 0 || prefixLen > 128 {
		return nil, fmt.Errorf("invalid prefix length %d", prefixLen)
	}
	e := &Entry{Address: a, PrefixLen: prefixLen, State: Tentative, Source: src}
	if err := e.SetLifetimes(preferred, valid, now); err != nil {
		return nil, err
	}
	return e, nil
}

// SetLifetimes replaces both lifetimes, counting from now.
func (e *Entry) SetLifetimes(preferred, valid Lifetime, now time.Time) error {
	if preferred > valid {
		return fmt.Errorf("%s: %w (%s > %s)", e.Address, ErrLifetimeInversion, preferred, valid)
	}
	e.PreferredLifetime = preferred
	e.ValidLifetime = valid
	e.Updated = now
	return nil
}

// Prefix is the on-link prefix the address was formed from.
func (e *Entry) Prefix() netip.Prefix {
	return netip.PrefixFrom(e.Address, e.PrefixLen).Masked()
}

// PreferredUntil returns the preferred deadline; ok is false when infinite.
func (e *Entry) PreferredUntil() (time.Time, bool) {
	return e.PreferredLifetime.Until(e.Updated)
}

// ValidUntil returns the valid deadline; ok is false when infinite.
func (e *Entry) ValidUntil() (time.Time, bool) {
	return e.ValidLifetime.Until(e.Updated)
}

// RemainingValid is the valid lifetime left at now.
func (e *Entry) RemainingValid(now time.Time) Lifetime {
	return remaining(e.ValidLifetime, e.Updated, now)
}

// RemainingPreferred is the preferred lifetime left at now.
func (e *Entry) RemainingPreferred(now time.Time) Lifetime {
	return remaining(e.PreferredLifetime, e.Updated, now)
}

func remaining(l Lifetime, since, now time.Time) Lifetime {
	if l.IsInfinite() {
		return Infinite
	}
	left := time.Duration(l) - now.Sub(since)
	if left < 0 {
		return 0
	}
	return Lifetime(left)
}

// NeedsDAD reports whether the entry must pass duplicate address detection
// before it can be used.
func (e *Entry) NeedsDAD() bool {
	if e.Anycast {
		return false
	}
	switch e.Source {
	case LinkLocal, Slaac, Dhcp:
		return true
	case Manual:
		return !e.SkipDAD
	}
	return true
}

// DuplicateDisablesInterface reports whether a failed detection on this entry
// takes the whole interface down: only a link-local address whose identifier
// came from the hardware address does.
func (e *Entry) DuplicateDisablesInterface(hardwareDerived bool) bool {
	switch e.Source {
	case LinkLocal:
		return hardwareDerived
	case Slaac, Manual, Dhcp:
		return false
	}
	return false
}

// UsableState classifies the entry at now from its lifetimes once detection
// has completed.
func (e *Entry) UsableState(now time.Time) State {
	if e.RemainingValid(now) == 0 {
		return Invalid
	}
	if e.RemainingPreferred(now) == 0 {
		return Deprecated
	}
	return Preferred
}
