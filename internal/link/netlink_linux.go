//go:build linux

package link

import (
	"fmt"
	"net"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

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

// KernelAddr is an IPv6 address the host kernel already holds on a link.
type KernelAddr struct {
	IP                net.IP
	PrefixLen         int
	PreferredLifetime addr.Lifetime
	ValidLifetime     addr.Lifetime
	Tentative         bool
}

// LookupLink returns the attributes of interfaceName.
func LookupLink(interfaceName string) (LinkInfo, error) {
	l, err := netlink.LinkByName(interfaceName)
	if err != nil {
		return LinkInfo{}, fmt.Errorf("failed to find interface %s: %w", interfaceName, err)
	}
	attrs := l.Attrs()
	return LinkInfo{
		Name:         attrs.Name,
		Index:        attrs.Index,
		MTU:          attrs.MTU,
		HardwareAddr: attrs.HardwareAddr,
		Up:           attrs.Flags&net.FlagUp != 0,
	}, nil
}

// KernelIPv6 lists the IPv6 addresses the kernel has configured on
// interfaceName, with their remaining lifetimes.
func KernelIPv6(interfaceName string) ([]KernelAddr, error) {
	l, err := netlink.LinkByName(interfaceName)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %s: %w", interfaceName, err)
	}

	addrList, err := netlink.AddrList(l, netlink.FAMILY_V6)
	if err != nil {
		return nil, fmt.Errorf("failed to get address list for %s: %w", interfaceName, err)
	}

	var out []KernelAddr
	for _, a := range addrList {
		if a.IP.To4() != nil {
			continue
		}
		ones, _ := a.Mask.Size()
		out = append(out, KernelAddr{
			IP:                a.IP,
			PrefixLen:         ones,
			PreferredLifetime: kernelLifetime(a.PreferedLft),
			ValidLifetime:     kernelLifetime(a.ValidLft),
			Tentative:         a.Flags&unix.IFA_F_TENTATIVE != 0,
		})
	}
	return out, nil
}

// kernelLifetime maps netlink's seconds, where the all-ones value (reported
// as -1 or 0xffffffff depending on the field width) means forever.
func kernelLifetime(secs int) addr.Lifetime {
	if secs < 0 || uint32(secs) == 0xffffffff {
		return addr.Infinite
	}
	return addr.Lifetime(time.Duration(secs) * time.Second)
}

// setUp brings the interface up.
func setUp(l netlink.Link) error {
	if err := netlink.LinkSetUp(l); err != nil {
		return fmt.Errorf("failed to bring %s up: %w", l.Attrs().Name, err)
	}
	return nil
}
