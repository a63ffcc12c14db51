package wire

import (
	"encoding/binary"
	"net/netip"
)

const protoICMPv6 = 58

// checksum16 folds data into a running ones'-complement sum.
func checksum16(sum uint32, data []byte) uint32 {
	for len(data) >= 2 {
		sum += uint32(binary.BigEndian.Uint16(data))
		data = data[2:]
	}
	if len(data) == 1 {
		sum += uint32(data[0]) << 8
	}
	return sum
}

func fold(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}

// icmpChecksumOK verifies msg (ICMPv6 header included) against the IPv6
// pseudo-header for src and dst.
func icmpChecksumOK(src, dst netip.Addr, msg []byte) bool {
	s, d := src.As16(), dst.As16()
	var sum uint32
	sum = checksum16(sum, s[:])
	sum = checksum16(sum, d[:])
	n := uint32(len(msg))
	sum += n >> 16
	sum += n & 0xffff
	sum += protoICMPv6
	sum = checksum16(sum, msg)
	return fold(sum) == 0xffff
}
