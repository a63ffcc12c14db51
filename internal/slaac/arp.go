package slaac

import (
	"bytes"

	"fakenet/internal/log"
	"fakenet/internal/wire"
)

// handleARP answers ARP requests for the node's IPv4 address. IPv4 is not
// autoconfigured, so replies continue while IPv6 is disabled on the link.
func (ifc *Interface) handleARP(frame []byte) {
	if !ifc.ipv4.IsValid() || ifc.state == Disabled {
		return
	}
	req, err := wire.ParseARP(frame)
	if err != nil {
		ifc.log.WithError(err).Debug("dropping ARP frame")
		return
	}
	if req.Operation != wire.ARPRequest || req.TargetIP != ifc.ipv4 {
		return
	}
	if bytes.Equal(req.SenderMAC, ifc.mac) {
		return
	}
	reply, err := wire.MarshalARP(&wire.ARP{
		SrcMAC:    ifc.mac,
		DstMAC:    req.SenderMAC,
		Operation: wire.ARPReply,
		SenderMAC: ifc.mac,
		SenderIP:  ifc.ipv4,
		TargetMAC: req.SenderMAC,
		TargetIP:  req.SenderIP,
	})
	if err != nil {
		ifc.log.WithError(err).Error("failed to build ARP reply")
		return
	}
	if err := ifc.dev.WritePacket(reply); err != nil {
		ifc.log.WithError(err).Warn("failed to send ARP reply")
		return
	}
	ifc.log.WithFields(log.Fields{"ipv4": ifc.ipv4, "to": req.SenderIP}).Debug("answered ARP request")
}
