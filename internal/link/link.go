// Package link moves raw Ethernet frames between the node and the host:
// a TAP device created through netlink, an AF_PACKET socket on an existing
// interface, or an in-memory pipe.
package link

import (
	"errors"
	"net"
)

// Device is one Ethernet attachment of the node.
type Device interface {
	// Name is the host-side interface name.
	Name() string
	// HardwareAddr is the node's own MAC on this link.
	HardwareAddr() net.HardwareAddr
	// ReadPacket blocks for the next frame. It returns ErrClosed after Close.
	ReadPacket(buf []byte) (int, error)
	WritePacket(frame []byte) error
	// JoinGroup and LeaveGroup subscribe to an Ethernet multicast address.
	JoinGroup(group net.HardwareAddr) error
	LeaveGroup(group net.HardwareAddr) error
	Close() error
}

var (
	ErrClosed      = errors.New("link closed")
	ErrUnsupported = errors.New("link backend not supported on this platform")
)

// MaxFrameSize bounds read buffers; ND never needs jumbo frames.
const MaxFrameSize = 1518
