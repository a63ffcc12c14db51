// Package wire frames and parses the Ethernet/IPv6/ICMPv6 neighbor
// discovery and MLDv2 messages exchanged by the node, on top of gopacket.
package wire

import (
	"errors"
	"net"
	"net/netip"
	"time"

	"fakenet/internal/addr"
)

// ICMPv6 message types handled here.
const (
	TypeRouterSolicitation    uint8 = 133
	TypeRouterAdvertisement   uint8 = 134
	TypeNeighborSolicitation  uint8 = 135
	TypeNeighborAdvertisement uint8 = 136
	TypeMLDv2Report           uint8 = 143
)

// HopLimit is the only hop limit accepted on, and used for, ND messages.
const HopLimit = 255

const (
	optSourceLinkAddr = 1
	optTargetLinkAddr = 2
	optPrefixInfo     = 3
	optMTU            = 5
	optNonce          = 14
)

// NonceLength is the size of the DAD nonces this node sends.
const NonceLength = 6

var (
	// ErrInvalid marks a frame that is ND but fails the validity checks;
	// such frames are dropped without reply.
	ErrInvalid = errors.New("invalid neighbor discovery message")
	// ErrNotND marks a well-formed frame that is not a neighbor discovery
	// message.
	ErrNotND = errors.New("not a neighbor discovery message")
)

// Message is one of the message bodies below.
type Message interface {
	ICMPType() uint8
}

// Packet is a full frame: link and network addressing plus the message.
type Packet struct {
	SrcMAC   net.HardwareAddr
	DstMAC   net.HardwareAddr
	Src      netip.Addr
	Dst      netip.Addr
	HopLimit uint8
	Message  Message
}

type NeighborSolicitation struct {
	Target         netip.Addr
	SourceLinkAddr net.HardwareAddr
	Nonce          []byte
}

type NeighborAdvertisement struct {
	Target         netip.Addr
	Router         bool
	Solicited      bool
	Override       bool
	TargetLinkAddr net.HardwareAddr
}

type RouterSolicitation struct {
	SourceLinkAddr net.HardwareAddr
}

type RouterAdvertisement struct {
	CurHopLimit    uint8
	Managed        bool
	Other          bool
	RouterLifetime time.Duration
	ReachableTime  time.Duration
	RetransTimer   time.Duration
	SourceLinkAddr net.HardwareAddr
	MTU            uint32
	Prefixes       []PrefixInfo
}

// PrefixInfo is one Prefix Information option of a router advertisement.
type PrefixInfo struct {
	Prefix            netip.Prefix
	OnLink            bool
	Autonomous        bool
	ValidLifetime     addr.Lifetime
	PreferredLifetime addr.Lifetime
}

// MLDReport is an MLDv2 listener report; only sent, never parsed.
type MLDReport struct {
	Records []MLDRecord
}

type MLDRecordType uint8

const (
	ModeIsInclude       MLDRecordType = 1
	ModeIsExclude       MLDRecordType = 2
	ChangeToIncludeMode MLDRecordType = 3
	ChangeToExcludeMode MLDRecordType = 4
)

type MLDRecord struct {
	Type  MLDRecordType
	Group netip.Addr
}

func (*NeighborSolicitation) ICMPType() uint8  { return TypeNeighborSolicitation }
func (*NeighborAdvertisement) ICMPType() uint8 { return TypeNeighborAdvertisement }
func (*RouterSolicitation) ICMPType() uint8    { return TypeRouterSolicitation }
func (*RouterAdvertisement) ICMPType() uint8   { return TypeRouterAdvertisement }
func (*MLDReport) ICMPType() uint8             { return TypeMLDv2Report }
