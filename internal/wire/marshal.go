package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"fakenet/internal/addr"
)

// minFrameLen is the Ethernet minimum without FCS; shorter frames are padded.
const minFrameLen = 60

// mldHopLimit is the hop limit of MLD reports, which never leave the link.
const mldHopLimit = 1

// Marshal builds a complete Ethernet frame for p. HopLimit is filled in when
// zero: 255 for ND messages, 1 for MLD reports.
func Marshal(p *Packet) ([]byte, error) {
	if p.Message == nil {
		return nil, fmt.Errorf("packet has no message")
	}
	if len(p.SrcMAC) != 6 || len(p.DstMAC) != 6 {
		return nil, fmt.Errorf("packet needs 48-bit source and destination MACs")
	}

	hopLimit := p.HopLimit
	if hopLimit == 0 {
		hopLimit = HopLimit
		if _, ok := p.Message.(*MLDReport); ok {
			hopLimit = mldHopLimit
		}
	}

	eth := &layers.Ethernet{
		SrcMAC:       p.SrcMAC,
		DstMAC:       p.DstMAC,
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   hopLimit,
		SrcIP:      net.IP(p.Src.AsSlice()),
		DstIP:      net.IP(p.Dst.AsSlice()),
	}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(p.Message.ICMPType(), 0)}
	if err := icmp.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, err
	}

	var body gopacket.SerializableLayer
	switch m := p.Message.(type) {
	case *NeighborSolicitation:
		var opts []layers.ICMPv6Option
		if m.SourceLinkAddr != nil {
			opts = append(opts, layers.ICMPv6Option{Type: optSourceLinkAddr, Data: m.SourceLinkAddr})
		}
		if m.Nonce != nil {
			opts = append(opts, layers.ICMPv6Option{Type: optNonce, Data: m.Nonce})
		}
		body = &layers.ICMPv6NeighborSolicitation{
			TargetAddress: net.IP(m.Target.AsSlice()),
			Options:       wireOrder(opts),
		}
	case *NeighborAdvertisement:
		var flags uint8
		if m.Router {
			flags |= 0x80
		}
		if m.Solicited {
			flags |= 0x40
		}
		if m.Override {
			flags |= 0x20
		}
		var opts []layers.ICMPv6Option
		if m.TargetLinkAddr != nil {
			opts = append(opts, layers.ICMPv6Option{Type: optTargetLinkAddr, Data: m.TargetLinkAddr})
		}
		body = &layers.ICMPv6NeighborAdvertisement{
			Flags:         flags,
			TargetAddress: net.IP(m.Target.AsSlice()),
			Options:       wireOrder(opts),
		}
	case *RouterSolicitation:
		var opts []layers.ICMPv6Option
		if m.SourceLinkAddr != nil {
			opts = append(opts, layers.ICMPv6Option{Type: optSourceLinkAddr, Data: m.SourceLinkAddr})
		}
		body = &layers.ICMPv6RouterSolicitation{Options: wireOrder(opts)}
	case *RouterAdvertisement:
		body = routerAdvertisementLayer(m)
	case *MLDReport:
		ip6.HopByHop = routerAlert()
		report := &layers.MLDv2MulticastListenerReportMessage{}
		for _, r := range m.Records {
			report.MulticastAddressRecords = append(report.MulticastAddressRecords, layers.MLDv2MulticastAddressRecord{
				RecordType:       layers.MLDv2MulticastAddressRecordType(r.Type),
				MulticastAddress: net.IP(r.Group.AsSlice()),
			})
		}
		body = report
	default:
		return nil, fmt.Errorf("unsupported message %T", p.Message)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip6, icmp, body); err != nil {
		return nil, fmt.Errorf("failed to serialize %T: %w", p.Message, err)
	}
	frame := buf.Bytes()
	if len(frame) < minFrameLen {
		frame = append(frame, make([]byte, minFrameLen-len(frame))...)
	}
	return frame, nil
}

// wireOrder reverses opts: gopacket prepends options one by one, so the last
// element of the slice ends up first on the wire.
func wireOrder(opts []layers.ICMPv6Option) layers.ICMPv6Options {
	out := make(layers.ICMPv6Options, len(opts))
	for i, o := range opts {
		out[len(opts)-1-i] = o
	}
	return out
}

// routerAlert is a Hop-by-Hop header holding the MLD Router Alert option
// followed by a zero-length PadN, 8 bytes in total.
func routerAlert() *layers.IPv6HopByHop {
	hbh := &layers.IPv6HopByHop{
		Options: []*layers.IPv6HopByHopOption{
			{OptionType: 5, OptionData: []byte{0, 0}},
			{OptionType: 1, OptionData: []byte{}},
		},
	}
	hbh.NextHeader = layers.IPProtocolICMPv6
	return hbh
}

func routerAdvertisementLayer(m *RouterAdvertisement) *layers.ICMPv6RouterAdvertisement {
	var flags uint8
	if m.Managed {
		flags |= 0x80
	}
	if m.Other {
		flags |= 0x40
	}
	var opts []layers.ICMPv6Option
	if m.SourceLinkAddr != nil {
		opts = append(opts, layers.ICMPv6Option{Type: optSourceLinkAddr, Data: m.SourceLinkAddr})
	}
	if m.MTU != 0 {
		data := make([]byte, 6)
		binary.BigEndian.PutUint32(data[2:], m.MTU)
		opts = append(opts, layers.ICMPv6Option{Type: optMTU, Data: data})
	}
	for _, pi := range m.Prefixes {
		opts = append(opts, layers.ICMPv6Option{Type: optPrefixInfo, Data: prefixInfoData(pi)})
	}
	return &layers.ICMPv6RouterAdvertisement{
		HopLimit:       m.CurHopLimit,
		Flags:          flags,
		RouterLifetime: uint16(m.RouterLifetime.Seconds()),
		ReachableTime:  uint32(m.ReachableTime.Milliseconds()),
		RetransTimer:   uint32(m.RetransTimer.Milliseconds()),
		Options:        wireOrder(opts),
	}
}

func prefixInfoData(pi PrefixInfo) []byte {
	data := make([]byte, 30)
	data[0] = uint8(pi.Prefix.Bits())
	if pi.OnLink {
		data[1] |= 0x80
	}
	if pi.Autonomous {
		data[1] |= 0x40
	}
	binary.BigEndian.PutUint32(data[2:6], pi.ValidLifetime.WireSeconds())
	binary.BigEndian.PutUint32(data[6:10], pi.PreferredLifetime.WireSeconds())
	a := pi.Prefix.Addr().As16()
	copy(data[14:], a[:])
	return data
}

// EthernetDst picks the destination MAC for an IPv6 destination: the
// 33:33 mapping for multicast, otherwise the neighbor's address.
func EthernetDst(dst netip.Addr, neighbor net.HardwareAddr) net.HardwareAddr {
	if dst.IsMulticast() {
		return addr.MulticastMAC(dst)
	}
	return neighbor
}
