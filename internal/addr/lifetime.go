package addr

import (
	"fmt"
	"math"
	"time"
)

// Lifetime is an address lifetime. Infinite never expires.
type Lifetime time.Duration

const Infinite = Lifetime(math.MaxInt64)

// infiniteSeconds is the all-ones wire encoding of an infinite lifetime.
const infiniteSeconds = 0xffffffff

// Seconds converts a 32-bit lifetime field from a neighbor discovery option.
func Seconds(s uint32) Lifetime {
	if s == infiniteSeconds {
		return Infinite
	}
	return Lifetime(time.Duration(s) * time.Second)
}

// WireSeconds is the inverse of Seconds, saturating below the infinite marker.
func (l Lifetime) WireSeconds() uint32 {
	if l.IsInfinite() {
		return infiniteSeconds
	}
	s := time.Duration(l) / time.Second
	if s >= infiniteSeconds {
		return infiniteSeconds - 1
	}
	if s < 0 {
		return 0
	}
	return uint32(s)
}

func (l Lifetime) IsInfinite() bool { return l == Infinite }

func (l Lifetime) Duration() time.Duration { return time.Duration(l) }

// Until returns the deadline of l counted from now; ok is false for Infinite.
func (l Lifetime) Until(now time.Time) (deadline time.Time, ok bool) {
	if l.IsInfinite() {
		return time.Time{}, false
	}
	return now.Add(time.Duration(l)), true
}

func (l Lifetime) String() string {
	if l.IsInfinite() {
		return "infinite"
	}
	return time.Duration(l).String()
}

// ParseLifetime accepts "infinite" or a Go duration string.
func ParseLifetime(s string) (Lifetime, error) {
	if s == "infinite" || s == "" {
		return Infinite, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid lifetime %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative lifetime %q", s)
	}
	return Lifetime(d), nil
}

func (l Lifetime) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Lifetime) UnmarshalText(b []byte) error {
	v, err := ParseLifetime(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
