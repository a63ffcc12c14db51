package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"fakenet/internal/addr"
)

// Parse decodes an Ethernet frame and applies the neighbor discovery validity
// checks. Frames that are not ND return an error wrapping ErrNotND; ND frames
// failing validation return an error wrapping ErrInvalid.
func Parse(frame []byte) (*Packet, error) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{NoCopy: true})

	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok || eth.EthernetType != layers.EthernetTypeIPv6 {
		return nil, ErrNotND
	}
	ip6, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	if !ok {
		return nil, fmt.Errorf("%w: truncated IPv6 header", ErrNotND)
	}
	icmp, ok := pkt.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
	if !ok {
		return nil, ErrNotND
	}
	typ := icmp.TypeCode.Type()
	switch typ {
	case TypeRouterSolicitation, TypeRouterAdvertisement, TypeNeighborSolicitation, TypeNeighborAdvertisement:
	default:
		return nil, fmt.Errorf("%w: ICMPv6 type %d", ErrNotND, typ)
	}
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, errLayer.Error())
	}

	src, ok1 := addr.FromIP(ip6.SrcIP)
	dst, ok2 := addr.FromIP(ip6.DstIP)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: bad addresses", ErrInvalid)
	}
	if ip6.HopLimit != HopLimit {
		return nil, fmt.Errorf("%w: hop limit %d", ErrInvalid, ip6.HopLimit)
	}
	if icmp.TypeCode.Code() != 0 {
		return nil, fmt.Errorf("%w: code %d", ErrInvalid, icmp.TypeCode.Code())
	}
	raw := make([]byte, 0, len(icmp.Contents)+len(icmp.Payload))
	raw = append(append(raw, icmp.Contents...), icmp.Payload...)
	if !icmpChecksumOK(src, dst, raw) {
		return nil, fmt.Errorf("%w: bad checksum", ErrInvalid)
	}

	p := &Packet{
		SrcMAC:   eth.SrcMAC,
		DstMAC:   eth.DstMAC,
		Src:      src,
		Dst:      dst,
		HopLimit: ip6.HopLimit,
	}

	var err error
	switch typ {
	case TypeNeighborSolicitation:
		l, ok := pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation).(*layers.ICMPv6NeighborSolicitation)
		if !ok {
			return nil, fmt.Errorf("%w: truncated solicitation", ErrInvalid)
		}
		p.Message, err = neighborSolicitation(src, dst, l)
	case TypeNeighborAdvertisement:
		l, ok := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement)
		if !ok {
			return nil, fmt.Errorf("%w: truncated advertisement", ErrInvalid)
		}
		p.Message, err = neighborAdvertisement(dst, l)
	case TypeRouterSolicitation:
		l, ok := pkt.Layer(layers.LayerTypeICMPv6RouterSolicitation).(*layers.ICMPv6RouterSolicitation)
		if !ok {
			return nil, fmt.Errorf("%w: truncated router solicitation", ErrInvalid)
		}
		p.Message, err = routerSolicitation(src, l)
	case TypeRouterAdvertisement:
		l, ok := pkt.Layer(layers.LayerTypeICMPv6RouterAdvertisement).(*layers.ICMPv6RouterAdvertisement)
		if !ok {
			return nil, fmt.Errorf("%w: truncated router advertisement", ErrInvalid)
		}
		p.Message, err = routerAdvertisement(src, l)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func linkAddr(o layers.ICMPv6Option) net.HardwareAddr {
	if len(o.Data) < 6 {
		return nil
	}
	return net.HardwareAddr(append([]byte(nil), o.Data[:6]...))
}

func neighborSolicitation(src, dst netip.Addr, l *layers.ICMPv6NeighborSolicitation) (*NeighborSolicitation, error) {
	target, ok := addr.FromIP(l.TargetAddress)
	if !ok || target.IsMulticast() {
		return nil, invalid("solicitation target %v", l.TargetAddress)
	}
	ns := &NeighborSolicitation{Target: target}
	for _, o := range l.Options {
		switch o.Type {
		case optSourceLinkAddr:
			ns.SourceLinkAddr = linkAddr(o)
		case optNonce:
			ns.Nonce = append([]byte(nil), o.Data...)
		}
	}
	if src.IsUnspecified() {
		if !addr.IsSolicitedNode(dst) {
			return nil, invalid("DAD probe sent to %s", dst)
		}
		if ns.SourceLinkAddr != nil {
			return nil, invalid("DAD probe carries a source link-layer address")
		}
	}
	return ns, nil
}

func neighborAdvertisement(dst netip.Addr, l *layers.ICMPv6NeighborAdvertisement) (*NeighborAdvertisement, error) {
	target, ok := addr.FromIP(l.TargetAddress)
	if !ok || target.IsMulticast() {
		return nil, invalid("advertisement target %v", l.TargetAddress)
	}
	na := &NeighborAdvertisement{
		Target:    target,
		Router:    l.Router(),
		Solicited: l.Solicited(),
		Override:  l.Override(),
	}
	if dst.IsMulticast() && na.Solicited {
		return nil, invalid("solicited advertisement sent to %s", dst)
	}
	for _, o := range l.Options {
		if o.Type == optTargetLinkAddr {
			na.TargetLinkAddr = linkAddr(o)
		}
	}
	return na, nil
}

func routerSolicitation(src netip.Addr, l *layers.ICMPv6RouterSolicitation) (*RouterSolicitation, error) {
	rs := &RouterSolicitation{}
	for _, o := range l.Options {
		if o.Type == optSourceLinkAddr {
			rs.SourceLinkAddr = linkAddr(o)
		}
	}
	if src.IsUnspecified() && rs.SourceLinkAddr != nil {
		return nil, invalid("unspecified router solicitation carries a source link-layer address")
	}
	return rs, nil
}

func routerAdvertisement(src netip.Addr, l *layers.ICMPv6RouterAdvertisement) (*RouterAdvertisement, error) {
	if !src.IsLinkLocalUnicast() {
		return nil, invalid("router advertisement from %s", src)
	}
	ra := &RouterAdvertisement{
		CurHopLimit:    l.HopLimit,
		Managed:        l.Flags&0x80 != 0,
		Other:          l.Flags&0x40 != 0,
		RouterLifetime: time.Duration(l.RouterLifetime) * time.Second,
		ReachableTime:  time.Duration(l.ReachableTime) * time.Millisecond,
		RetransTimer:   time.Duration(l.RetransTimer) * time.Millisecond,
	}
	for _, o := range l.Options {
		switch o.Type {
		case optSourceLinkAddr:
			ra.SourceLinkAddr = linkAddr(o)
		case optMTU:
			if len(o.Data) >= 6 {
				ra.MTU = binary.BigEndian.Uint32(o.Data[2:6])
			}
		case optPrefixInfo:
			pi, ok := parsePrefixInfo(o.Data)
			if ok {
				ra.Prefixes = append(ra.Prefixes, pi)
			}
		}
	}
	return ra, nil
}

// parsePrefixInfo decodes the 30-byte body of a Prefix Information option.
// Options of the wrong size are skipped, leaving their siblings intact.
func parsePrefixInfo(data []byte) (PrefixInfo, bool) {
	if len(data) != 30 {
		return PrefixInfo{}, false
	}
	bits := int(data[0])
	if bits > 128 {
		return PrefixInfo{}, false
	}
	var raw [16]byte
	copy(raw[:], data[14:30])
	prefix, err := netip.AddrFrom16(raw).Prefix(bits)
	if err != nil {
		return PrefixInfo{}, false
	}
	return PrefixInfo{
		Prefix:            prefix,
		OnLink:            data[1]&0x80 != 0,
		Autonomous:        data[1]&0x40 != 0,
		ValidLifetime:     addr.Seconds(binary.BigEndian.Uint32(data[2:6])),
		PreferredLifetime: addr.Seconds(binary.BigEndian.Uint32(data[6:10])),
	}, true
}
