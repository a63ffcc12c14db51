package slaac

import (
	"bytes"
	"io"
	"net/netip"
	"time"

	"fakenet/internal/addr"
	"fakenet/internal/log"
	"fakenet/internal/sched"
	"fakenet/internal/status"
	"fakenet/internal/wire"
)

// dadSession is the duplicate address detection state of one tentative
// address.
type dadSession struct {
	target  netip.Addr
	planned int
	sent    int
	// received counts probes for target that did not carry one of our
	// nonces.
	received int
	nonces   [][]byte
	timer    sched.Handle
}

func (ifc *Interface) startDAD(now time.Time, e *addr.Entry, delay time.Duration) {
	s := &dadSession{
		target:  e.Address,
		planned: int(ifc.cfg.DupAddrDetectTransmits),
	}
	ifc.sessions[e.Address] = s
	s.timer = ifc.queue.Schedule(now.Add(delay), timer{kind: timerDAD, addr: e.Address})
}

func (ifc *Interface) cancelDAD(a netip.Addr) {
	s, ok := ifc.sessions[a]
	if !ok {
		return
	}
	ifc.queue.Cancel(s.timer)
	delete(ifc.sessions, a)
}

// dadTimer sends the next probe, or concludes Unique once RetransTimer has
// passed after the last one.
func (ifc *Interface) dadTimer(now time.Time, a netip.Addr) {
	s, ok := ifc.sessions[a]
	if !ok {
		return
	}
	s.timer = 0
	if s.sent < s.planned {
		if s.sent == 0 {
			ifc.reportMembership(a)
		}
		ifc.sendProbe(s)
		s.sent++
		s.timer = ifc.queue.Schedule(now.Add(ifc.cfg.RetransTimer), timer{kind: timerDAD, addr: a})
		return
	}
	ifc.resolveDAD(now, s, status.OutcomeUnique)
}

// reportMembership announces the all-nodes group and the solicited-node group
// of a tentative address to MLD snooping switches before the first probe.
func (ifc *Interface) reportMembership(target netip.Addr) {
	ifc.send(&wire.Packet{
		DstMAC: addr.MulticastMAC(addr.AllMLDv2Routers),
		Src:    netip.IPv6Unspecified(),
		Dst:    addr.AllMLDv2Routers,
		Message: &wire.MLDReport{Records: []wire.MLDRecord{
			{Type: wire.ChangeToExcludeMode, Group: addr.AllNodes},
			{Type: wire.ChangeToExcludeMode, Group: addr.SolicitedNode(target)},
		}},
	})
}

func (ifc *Interface) sendProbe(s *dadSession) {
	nonce := make([]byte, wire.NonceLength)
	if _, err := io.ReadFull(ifc.entropy, nonce); err != nil {
		ifc.log.WithError(err).Warn("failed to draw nonce, probing without one")
		nonce = nil
	} else {
		s.nonces = append(s.nonces, nonce)
	}
	group := addr.SolicitedNode(s.target)
	ifc.send(&wire.Packet{
		DstMAC:  addr.MulticastMAC(group),
		Src:     netip.IPv6Unspecified(),
		Dst:     group,
		Message: &wire.NeighborSolicitation{Target: s.target, Nonce: nonce},
	})
	ifc.log.WithFields(log.Fields{"address": s.target, "probe": s.sent + 1}).Debug("sent DAD probe")
}

func (s *dadSession) ownNonce(n []byte) bool {
	if len(n) == 0 {
		return false
	}
	for _, own := range s.nonces {
		if bytes.Equal(own, n) {
			return true
		}
	}
	return false
}

// probeSeen handles a solicitation for an address under detection. The
// solicitation is never answered.
func (ifc *Interface) probeSeen(now time.Time, s *dadSession, p *wire.Packet, ns *wire.NeighborSolicitation) {
	if !p.Src.IsUnspecified() {
		// Address resolution for a tentative address.
		return
	}
	if s.ownNonce(ns.Nonce) {
		ifc.log.WithField("address", s.target).Debug("own DAD probe looped back")
		return
	}
	if s.sent == 0 {
		ifc.resolveDAD(now, s, status.OutcomeDuplicate)
		return
	}
	s.received++
	expected := 0
	if ifc.cfg.LoopbackMulticast {
		expected = s.sent
	}
	if s.received > expected {
		ifc.resolveDAD(now, s, status.OutcomeDuplicate)
	}
}

func (ifc *Interface) resolveDAD(now time.Time, s *dadSession, outcome string) {
	ifc.cancelDAD(s.target)
	ifc.emit(&status.DAD{Interface: ifc.name, Address: s.target.String(), Outcome: outcome})
	e, ok := ifc.table.Get(s.target)
	if !ok {
		return
	}
	if outcome == status.OutcomeUnique {
		ifc.log.WithField("address", s.target).Debug("DAD completed, address is unique")
		ifc.promote(now, e)
		return
	}
	ifc.duplicate(now, e)
}

// duplicate handles a failed detection. A hardware-derived link-local address
// disables IP on the interface; a random one is replaced by a fresh
// identifier a bounded number of times.
func (ifc *Interface) duplicate(now time.Time, e *addr.Entry) {
	ifc.log.WithFields(log.Fields{"address": e.Address, "source": e.Source}).Error("duplicate address detected")
	disable := e.DuplicateDisablesInterface(ifc.hwDerived)
	ifc.removeEntry(e, "duplicate")
	if disable {
		ifc.shutdown(now, IPDisabled, "duplicate link-local address "+e.Address.String())
		return
	}
	if e.Source != addr.LinkLocal || ifc.cfg.IIDMode != IIDRandom {
		return
	}
	if ifc.idgenRetries >= MaxIDGenRetries {
		ifc.log.Errorf("giving up on link-local address after %d retries", ifc.idgenRetries)
		return
	}
	ifc.idgenRetries++
	if err := ifc.pickInterfaceID(); err != nil {
		ifc.log.WithError(err).Error("failed to regenerate interface identifier")
		return
	}
	if err := ifc.addLinkLocal(now); err != nil {
		ifc.log.WithError(err).Error("failed to add regenerated link-local address")
	}
}

func (ifc *Interface) handleSolicitation(now time.Time, p *wire.Packet, ns *wire.NeighborSolicitation) {
	if s, ok := ifc.sessions[ns.Target]; ok {
		ifc.probeSeen(now, s, p, ns)
		return
	}
	e, ok := ifc.table.Get(ns.Target)
	if !ok || (e.State != addr.Preferred && e.State != addr.Deprecated) {
		return
	}
	ifc.defend(p, ns, e)
}

// defend answers a solicitation for one of our usable addresses. A probe
// from the unspecified address is answered to all-nodes.
func (ifc *Interface) defend(p *wire.Packet, ns *wire.NeighborSolicitation, e *addr.Entry) {
	na := &wire.NeighborAdvertisement{
		Target:         e.Address,
		Override:       !e.Anycast,
		TargetLinkAddr: ifc.mac,
	}
	out := &wire.Packet{Src: e.Address, Message: na}
	if p.Src.IsUnspecified() {
		out.Dst = addr.AllNodes
		out.DstMAC = addr.MulticastMAC(addr.AllNodes)
	} else {
		na.Solicited = true
		out.Dst = p.Src
		neighbor := ns.SourceLinkAddr
		if neighbor == nil {
			neighbor = p.SrcMAC
		}
		out.DstMAC = wire.EthernetDst(p.Src, neighbor)
	}
	ifc.send(out)
	ifc.log.WithFields(log.Fields{"address": e.Address, "to": out.Dst}).Debug("answered neighbor solicitation")
}

func (ifc *Interface) handleAdvertisement(now time.Time, p *wire.Packet, na *wire.NeighborAdvertisement) {
	if s, ok := ifc.sessions[na.Target]; ok {
		ifc.resolveDAD(now, s, status.OutcomeDuplicate)
		return
	}
	if _, ok := ifc.table.Get(na.Target); ok && !bytes.Equal(na.TargetLinkAddr, ifc.mac) {
		ifc.log.WithFields(log.Fields{
			"address": na.Target,
			"mac":     na.TargetLinkAddr,
		}).Warning("address advertised by another node")
	}
}
