package wire

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotARP marks a frame that is not an Ethernet/IPv4 ARP message.
var ErrNotARP = errors.New("not an ARP message")

// ARP operation codes.
const (
	ARPRequest uint16 = layers.ARPRequest
	ARPReply   uint16 = layers.ARPReply
)

// ARP is an Ethernet/IPv4 ARP message together with its Ethernet addressing.
type ARP struct {
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	Operation uint16
	SenderMAC net.HardwareAddr
	SenderIP  netip.Addr
	TargetMAC net.HardwareAddr
	TargetIP  netip.Addr
}

// IsARP reports whether frame carries the ARP ethertype.
func IsARP(frame []byte) bool {
	return len(frame) >= 14 && layers.EthernetType(uint16(frame[12])<<8|uint16(frame[13])) == layers.EthernetTypeARP
}

// ParseARP decodes an Ethernet frame carrying ARP for IPv4 over Ethernet.
func ParseARP(frame []byte) (*ARP, error) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{NoCopy: true})
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok || eth.EthernetType != layers.EthernetTypeARP {
		return nil, ErrNotARP
	}
	a, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	if !ok {
		return nil, fmt.Errorf("%w: truncated", ErrNotARP)
	}
	if a.AddrType != layers.LinkTypeEthernet || a.Protocol != layers.EthernetTypeIPv4 ||
		a.HwAddressSize != 6 || a.ProtAddressSize != 4 {
		return nil, fmt.Errorf("%w: hardware %d protocol %#04x", ErrNotARP, a.AddrType, uint16(a.Protocol))
	}
	sender, _ := netip.AddrFromSlice(a.SourceProtAddress)
	target, _ := netip.AddrFromSlice(a.DstProtAddress)
	return &ARP{
		SrcMAC:    eth.SrcMAC,
		DstMAC:    eth.DstMAC,
		Operation: a.Operation,
		SenderMAC: net.HardwareAddr(a.SourceHwAddress),
		SenderIP:  sender,
		TargetMAC: net.HardwareAddr(a.DstHwAddress),
		TargetIP:  target,
	}, nil
}

// MarshalARP builds the Ethernet frame for m.
func MarshalARP(m *ARP) ([]byte, error) {
	if len(m.SrcMAC) != 6 || len(m.DstMAC) != 6 || len(m.SenderMAC) != 6 {
		return nil, fmt.Errorf("ARP message needs 48-bit MACs")
	}
	if !m.SenderIP.Is4() || !m.TargetIP.Is4() {
		return nil, fmt.Errorf("ARP message needs IPv4 addresses")
	}
	target := m.TargetMAC
	if target == nil {
		target = make(net.HardwareAddr, 6)
	}
	eth := &layers.Ethernet{
		SrcMAC:       m.SrcMAC,
		DstMAC:       m.DstMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	a := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         m.Operation,
		SourceHwAddress:   m.SenderMAC,
		SourceProtAddress: m.SenderIP.AsSlice(),
		DstHwAddress:      target,
		DstProtAddress:    m.TargetIP.AsSlice(),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, a); err != nil {
		return nil, err
	}
	frame := buf.Bytes()
	if len(frame) < minFrameLen {
		frame = append(frame, make([]byte, minFrameLen-len(frame))...)
	}
	return frame, nil
}
