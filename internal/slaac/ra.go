package slaac

import (
	"net/netip"
	"time"

	"fakenet/internal/addr"
	"fakenet/internal/log"
	"fakenet/internal/status"
	"fakenet/internal/wire"
)

func (ifc *Interface) randomDelay(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(ifc.rnd.Int64N(int64(limit)))
}

// startRouterSolicitation schedules the first router solicitation once the
// link-local address is usable.
func (ifc *Interface) startRouterSolicitation(now time.Time) {
	if !ifc.cfg.SendRouterSolicitations || ifc.cfg.MaxRtrSolicitations == 0 {
		return
	}
	if ifc.routerHeard || ifc.rsTimer != 0 || ifc.rsSent > 0 {
		return
	}
	at := now.Add(ifc.randomDelay(ifc.cfg.MaxRtrSolicitationDelay))
	ifc.rsTimer = ifc.queue.Schedule(at, timer{kind: timerRS})
}

func (ifc *Interface) solicitRouters(now time.Time) {
	if ifc.state != Enabled || ifc.routerHeard {
		return
	}
	rs := &wire.RouterSolicitation{}
	src := netip.IPv6Unspecified()
	if ll, ok := ifc.LinkLocal(); ok && (ll.State == addr.Preferred || ll.State == addr.Deprecated) {
		src = ll.Address
		rs.SourceLinkAddr = ifc.mac
	}
	ifc.send(&wire.Packet{
		DstMAC:  addr.MulticastMAC(addr.AllRouters),
		Src:     src,
		Dst:     addr.AllRouters,
		Message: rs,
	})
	ifc.rsSent++
	ifc.log.WithField("count", ifc.rsSent).Debug("sent router solicitation")
	if ifc.rsSent < ifc.cfg.MaxRtrSolicitations {
		ifc.rsTimer = ifc.queue.Schedule(now.Add(ifc.cfg.RtrSolicitationInterval), timer{kind: timerRS})
		return
	}
	ifc.log.Debug("no router advertisement after the last solicitation")
}

func (ifc *Interface) handleRouterAdvertisement(now time.Time, p *wire.Packet, ra *wire.RouterAdvertisement) {
	if !ifc.routerHeard {
		ifc.log.WithField("router", p.Src).Info("router advertisement received")
	}
	ifc.routerHeard = true
	if ifc.rsTimer != 0 {
		ifc.queue.Cancel(ifc.rsTimer)
		ifc.rsTimer = 0
	}
	ifc.emit(&status.Router{
		Interface: ifc.name,
		Address:   p.Src.String(),
		Lifetime:  ra.RouterLifetime.String(),
	})
	for _, pi := range ra.Prefixes {
		ifc.processPrefix(now, pi, false, p.Dst.IsMulticast())
	}
}

// ProcessPrefix applies one Prefix Information option (RFC 4862 5.5.3).
// authenticated marks options from an advertisement whose origin was
// verified; it only matters for the valid lifetime rule of existing
// addresses.
func (ifc *Interface) ProcessPrefix(now time.Time, pi wire.PrefixInfo, authenticated bool) {
	ifc.processPrefix(now, pi, authenticated, false)
}

// processPrefix delays detection of a new address by a random amount when
// the advertisement was multicast.
func (ifc *Interface) processPrefix(now time.Time, pi wire.PrefixInfo, authenticated, multicast bool) {
	if ifc.state != Enabled {
		return
	}
	plog := ifc.log.WithField("prefix", pi.Prefix)
	if !pi.Autonomous {
		return
	}
	if pi.Prefix.Addr().IsLinkLocalUnicast() {
		plog.Debug("ignoring link-local prefix")
		return
	}
	if pi.PreferredLifetime > pi.ValidLifetime {
		plog.WithFields(log.Fields{
			"preferred": pi.PreferredLifetime,
			"valid":     pi.ValidLifetime,
		}).Debug("ignoring prefix with preferred lifetime above valid lifetime")
		return
	}

	if e, ok := ifc.table.FindSlaac(pi.Prefix); ok {
		ifc.refresh(now, e, pi, authenticated)
		return
	}
	if pi.ValidLifetime == 0 {
		return
	}
	a, err := addr.Combine(pi.Prefix, ifc.iid)
	if err != nil {
		plog.WithError(err).Warning("cannot form address from prefix")
		return
	}
	if _, ok := ifc.table.Get(a); ok {
		return
	}
	e, err := addr.NewEntry(a, pi.Prefix.Bits(), addr.Slaac, pi.PreferredLifetime, pi.ValidLifetime, now)
	if err != nil {
		plog.WithError(err).Warning("cannot create address")
		return
	}
	delay := ifc.initialDelay()
	if multicast {
		delay = ifc.randomDelay(ifc.cfg.MaxRtrSolicitationDelay)
	}
	if err := ifc.insert(now, e, delay); err != nil {
		plog.WithError(err).Warning("cannot add address")
	}
}

// refresh updates the lifetimes of an autoconfigured address. The valid
// lifetime only drops below two hours through an authenticated
// advertisement, so an unauthenticated one cannot expire the address early.
func (ifc *Interface) refresh(now time.Time, e *addr.Entry, pi wire.PrefixInfo, authenticated bool) {
	remaining := e.RemainingValid(now)
	var valid addr.Lifetime
	switch {
	case pi.ValidLifetime > minValidLifetimeFloor || pi.ValidLifetime > remaining:
		valid = pi.ValidLifetime
	case remaining <= minValidLifetimeFloor && !authenticated:
		valid = remaining
	case remaining <= minValidLifetimeFloor:
		valid = pi.ValidLifetime
	default:
		// More than two hours remain and the option asks for less: reset to
		// two hours, authenticated or not (RFC 4862 5.5.3 e.3). An address
		// with three hours left does not keep them.
		valid = minValidLifetimeFloor
	}
	preferred := pi.PreferredLifetime
	if err := e.SetLifetimes(preferred, valid, now); err != nil {
		ifc.log.WithError(err).Warning("cannot refresh address lifetimes")
		return
	}
	ifc.log.WithFields(log.Fields{
		"address":   e.Address,
		"preferred": preferred,
		"valid":     valid,
	}).Debug("address lifetimes refreshed")
	ifc.lifetimesChanged(now, e)
}
