package slaac

import (
	"time"

	"fakenet/internal/addr"
)

// Protocol constants from RFC 4861 section 10 and RFC 7217.
const (
	defaultDupAddrDetectTransmits  = 1
	defaultRetransTimer            = time.Second
	minimumRetransTimer            = time.Millisecond
	defaultMaxRtrSolicitationDelay = time.Second
	defaultMaxRtrSolicitations     = 3
	defaultRtrSolicitationInterval = 4 * time.Second

	// MaxIDGenRetries bounds how often a duplicate random link-local address
	// is replaced by a fresh one.
	MaxIDGenRetries = 3

	// minValidLifetimeFloor is the two hour bound of the RFC 4862 5.5.3(e)
	// valid lifetime rules.
	minValidLifetimeFloor = addr.Lifetime(2 * time.Hour)
)

// IIDMode selects how the interface identifier is formed.
type IIDMode int

const (
	// IIDRandom draws 64 random bits at startup.
	IIDRandom IIDMode = iota
	// IIDEUI64 derives the identifier from the MAC. A duplicate link-local
	// address formed this way disables IP on the interface.
	IIDEUI64
	// IIDFixed uses Config.FixedIID.
	IIDFixed
)

func (m IIDMode) String() string {
	switch m {
	case IIDRandom:
		return "random"
	case IIDEUI64:
		return "eui64"
	case IIDFixed:
		return "fixed"
	}
	return "unknown"
}

// Config is the neighbor discovery configuration of one interface.
type Config struct {
	// DupAddrDetectTransmits is the number of probes per address; 0 turns
	// detection off.
	DupAddrDetectTransmits uint8
	// RetransTimer separates probes and bounds the wait after the last one.
	RetransTimer time.Duration

	// MaxRtrSolicitationDelay bounds the random delay before the first
	// message of the interface.
	MaxRtrSolicitationDelay time.Duration
	MaxRtrSolicitations     int
	RtrSolicitationInterval time.Duration
	SendRouterSolicitations bool

	// LoopbackMulticast is set when the link hands our own multicast probes
	// back to us without their nonce being recognisable.
	LoopbackMulticast bool

	IIDMode  IIDMode
	FixedIID addr.InterfaceID
}

// DefaultConfig returns the RFC 4861 host defaults.
func DefaultConfig() Config {
	return Config{
		DupAddrDetectTransmits:  defaultDupAddrDetectTransmits,
		RetransTimer:            defaultRetransTimer,
		MaxRtrSolicitationDelay: defaultMaxRtrSolicitationDelay,
		MaxRtrSolicitations:     defaultMaxRtrSolicitations,
		RtrSolicitationInterval: defaultRtrSolicitationInterval,
		SendRouterSolicitations: true,
	}
}

// validate replaces out-of-range values with defaults.
func (c *Config) validate() {
	if c.RetransTimer < minimumRetransTimer {
		c.RetransTimer = defaultRetransTimer
	}
	if c.MaxRtrSolicitationDelay < 0 {
		c.MaxRtrSolicitationDelay = defaultMaxRtrSolicitationDelay
	}
	if c.MaxRtrSolicitations < 0 {
		c.MaxRtrSolicitations = defaultMaxRtrSolicitations
	}
	if c.RtrSolicitationInterval <= 0 {
		c.RtrSolicitationInterval = defaultRtrSolicitationInterval
	}
}
