//go:build !linux

package link

import (
	"net"

	"fakenet/internal/addr"
)

// LinkInfo describes a host interface.
type LinkInfo struct {
	Name         string
	Index        int
	MTU          int
	HardwareAddr net.HardwareAddr
	Up           bool
}

type KernelAddr struct {
	IP                net.IP
	PrefixLen         int
	PreferredLifetime addr.Lifetime
	ValidLifetime     addr.Lifetime
	Tentative         bool
}

func LookupLink(string) (LinkInfo, error) { return LinkInfo{}, ErrUnsupported }

func KernelIPv6(string) ([]KernelAddr, error) { return nil, ErrUnsupported }

func OpenTap(string, net.HardwareAddr) (Device, error) { return nil, ErrUnsupported }

func OpenPacket(string, net.HardwareAddr) (Device, error) { return nil, ErrUnsupported }
