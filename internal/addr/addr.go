package addr

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
)

// Well-known groups and prefixes used by neighbor discovery.
var (
	LinkLocalPrefix = netip.MustParsePrefix("fe80::/64")
	AllNodes        = netip.MustParseAddr("ff02::1")
	AllRouters      = netip.MustParseAddr("ff02::2")
	AllMLDv2Routers = netip.MustParseAddr("ff02::16")

	solicitedNodePrefix = netip.MustParsePrefix("ff02::1:ff00:0/104")
)

// ErrPrefixLength is returned when a prefix and an interface identifier do not
// add up to 128 bits.
var ErrPrefixLength = errors.New("prefix length plus interface identifier length is not 128")

// SolicitedNode returns the solicited-node multicast group of a: ff02::1:ff
// followed by the low-order 24 bits of a.
func SolicitedNode(a netip.Addr) netip.Addr {
	b := a.As16()
	return netip.AddrFrom16([16]byte{
		0xff, 0x02, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0x01, 0xff, b[13], b[14], b[15],
	})
}

// IsSolicitedNode reports whether a lies in ff02::1:ff00:0/104.
func IsSolicitedNode(a netip.Addr) bool {
	return solicitedNodePrefix.Contains(a)
}

// MulticastMAC maps an IPv6 multicast address to its Ethernet destination:
// 33:33 followed by the low-order 32 bits of the address.
func MulticastMAC(a netip.Addr) net.HardwareAddr {
	b := a.As16()
	return net.HardwareAddr{0x33, 0x33, b[12], b[13], b[14], b[15]}
}

// FromIP converts a 16-byte net.IP coming off the wire.
func FromIP(ip net.IP) (netip.Addr, bool) {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

// IIDLength is the length in bits of the interface identifiers used on
// Ethernet links.
const IIDLength = 64

// InterfaceID is the 64-bit suffix combined with an advertised prefix.
type InterfaceID [8]byte

// EUI64 derives a modified EUI-64 identifier from a 48-bit MAC.
func EUI64(mac net.HardwareAddr) (InterfaceID, error) {
	if len(mac) != 6 {
		return InterfaceID{}, fmt.Errorf("EUI-64 needs a 48-bit MAC, got %d bytes", len(mac))
	}
	return InterfaceID{mac[0] ^ 0x02, mac[1], mac[2], 0xff, 0xfe, mac[3], mac[4], mac[5]}, nil
}

// RandomInterfaceID reads 64 random bits from r.
func RandomInterfaceID(r io.Reader) (InterfaceID, error) {
	var id InterfaceID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return InterfaceID{}, fmt.Errorf("failed to read random interface identifier: %w", err)
	}
	return id, nil
}

// ParseInterfaceID accepts the low 64 bits of an IPv6 literal, e.g. "::1" or
// "::a:b:c:d".
func ParseInterfaceID(s string) (InterfaceID, error) {
	a, err := netip.ParseAddr(s)
	if err != nil || !a.Is6() {
		return InterfaceID{}, fmt.Errorf("invalid interface identifier %q", s)
	}
	b := a.As16()
	for _, x := range b[:8] {
		if x != 0 {
			return InterfaceID{}, fmt.Errorf("interface identifier %q sets prefix bits", s)
		}
	}
	var id InterfaceID
	copy(id[:], b[8:])
	return id, nil
}

func (id InterfaceID) String() string {
	var b [16]byte
	copy(b[8:], id[:])
	return netip.AddrFrom16(b).String()
}

// Combine forms prefix bits ∥ id.
func Combine(prefix netip.Prefix, id InterfaceID) (netip.Addr, error) {
	if !prefix.Addr().Is6() || prefix.Bits()+IIDLength != 128 {
		return netip.Addr{}, ErrPrefixLength
	}
	b := prefix.Masked().Addr().As16()
	copy(b[8:], id[:])
	return netip.AddrFrom16(b), nil
}

// ParseMAC accepts colon separated unicast Ethernet addresses only.
func ParseMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("%q is not a 48-bit MAC address", s)
	}
	if mac[0]&0x01 != 0 {
		return nil, fmt.Errorf("%q is a multicast MAC address", s)
	}
	return mac, nil
}
