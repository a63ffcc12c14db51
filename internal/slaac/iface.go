// Package slaac runs IPv6 stateless address autoconfiguration on one
// interface: link-local formation, duplicate address detection, router
// solicitation and prefix processing of router advertisements.
//
// An Interface is a single-threaded state machine. Its step methods (Enable,
// HandleFrame, Fire, ...) take the current time explicitly so that tests can
// drive it with a fake clock; Run wraps them in an event loop over a real
// device.
package slaac

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"fakenet/internal/addr"
	"fakenet/internal/link"
	"fakenet/internal/log"
	"fakenet/internal/sched"
	"fakenet/internal/status"
	"fakenet/internal/wire"
)

// State is the administrative state of an interface.
type State int

const (
	Disabled State = iota
	Enabled
	// IPDisabled is entered when the hardware-derived link-local address
	// turns out to be duplicate. Only an explicit Enable leaves it.
	IPDisabled
)

func (s State) String() string {
	switch s {
	case Disabled:
		return status.StateDisabled
	case Enabled:
		return status.StateEnabled
	case IPDisabled:
		return status.StateIPDisabled
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrNotEnabled = errors.New("interface is not enabled")

type timerKind uint8

const (
	timerDAD timerKind = iota
	timerPreferred
	timerValid
	timerRS
)

type timer struct {
	kind timerKind
	addr netip.Addr
}

type lifetimeTimers struct {
	preferred sched.Handle
	valid     sched.Handle
}

// ManualAddress is an address configured by the operator.
type ManualAddress struct {
	Address           netip.Addr
	PrefixLen         int
	Anycast           bool
	SkipDAD           bool
	PreferredLifetime addr.Lifetime
	ValidLifetime     addr.Lifetime
}

// Options configures New.
type Options struct {
	Config Config
	Device link.Device
	// Sink receives status events; nil discards them.
	Sink status.Sink
	// Clock drives Run; defaults to the wall clock.
	Clock sched.Clock
	// Entropy feeds interface identifiers, nonces and random delays;
	// defaults to crypto/rand.
	Entropy io.Reader
	// Manual addresses are added on every Enable.
	Manual []ManualAddress
	// IPv4, when valid, is answered for in ARP requests.
	IPv4 netip.Addr
}

// Interface is the autoconfiguration state of one link.
type Interface struct {
	name    string
	mac     net.HardwareAddr
	cfg     Config
	dev     link.Device
	sink    status.Sink
	clock   sched.Clock
	entropy io.Reader
	rnd     *rand.Rand
	log     *logrus.Entry
	manual  []ManualAddress
	ipv4    netip.Addr

	iid          addr.InterfaceID
	hwDerived    bool
	idgenRetries int

	state     State
	announced bool
	table     *addr.Table
	sessions  map[netip.Addr]*dadSession
	lifetimes map[netip.Addr]lifetimeTimers
	queue     *sched.Queue[timer]
	groups    map[netip.Addr]int

	// sentAny is set once the interface has transmitted since Enable; the
	// first message is delayed by up to MaxRtrSolicitationDelay.
	sentAny     bool
	rsSent      int
	rsTimer     sched.Handle
	routerHeard bool

	ops chan func(time.Time)
}

// New builds a disabled interface on dev.
func New(opts Options) (*Interface, error) {
	if opts.Device == nil {
		return nil, fmt.Errorf("interface needs a device")
	}
	mac := opts.Device.HardwareAddr()
	if len(mac) != 6 {
		return nil, fmt.Errorf("%s: hardware address %q is not a 48-bit MAC", opts.Device.Name(), mac)
	}
	cfg := opts.Config
	cfg.validate()

	ifc := &Interface{
		name:      opts.Device.Name(),
		mac:       mac,
		cfg:       cfg,
		dev:       opts.Device,
		sink:      opts.Sink,
		clock:     opts.Clock,
		entropy:   opts.Entropy,
		manual:    opts.Manual,
		ipv4:      opts.IPv4,
		table:     addr.NewTable(),
		sessions:  make(map[netip.Addr]*dadSession),
		lifetimes: make(map[netip.Addr]lifetimeTimers),
		queue:     sched.NewQueue[timer](),
		groups:    make(map[netip.Addr]int),
		ops:       make(chan func(time.Time)),
	}
	if ifc.clock == nil {
		ifc.clock = sched.RealClock
	}
	if ifc.entropy == nil {
		ifc.entropy = crand.Reader
	}
	var seed [16]byte
	if _, err := io.ReadFull(ifc.entropy, seed[:]); err != nil {
		return nil, fmt.Errorf("failed to seed random source: %w", err)
	}
	ifc.rnd = rand.New(rand.NewPCG(binary.BigEndian.Uint64(seed[:8]), binary.BigEndian.Uint64(seed[8:])))
	ifc.log = log.WithFields(log.Fields{"iface": ifc.name})

	if err := ifc.pickInterfaceID(); err != nil {
		return nil, err
	}
	return ifc, nil
}

func (ifc *Interface) pickInterfaceID() error {
	var err error
	switch ifc.cfg.IIDMode {
	case IIDEUI64:
		ifc.iid, err = addr.EUI64(ifc.mac)
		ifc.hwDerived = true
	case IIDFixed:
		ifc.iid = ifc.cfg.FixedIID
	default:
		ifc.iid, err = addr.RandomInterfaceID(ifc.entropy)
	}
	if err != nil {
		return fmt.Errorf("%s: failed to form interface identifier: %w", ifc.name, err)
	}
	return nil
}

func (ifc *Interface) Name() string                   { return ifc.name }
func (ifc *Interface) HardwareAddr() net.HardwareAddr { return ifc.mac }
func (ifc *Interface) State() State                   { return ifc.state }
func (ifc *Interface) InterfaceID() addr.InterfaceID  { return ifc.iid }

// Addresses returns copies of the table entries in insertion order.
func (ifc *Interface) Addresses() []addr.Entry { return ifc.table.Snapshot() }

// Lookup returns a copy of the entry for a.
func (ifc *Interface) Lookup(a netip.Addr) (addr.Entry, bool) {
	e, ok := ifc.table.Get(a)
	if !ok {
		return addr.Entry{}, false
	}
	return *e, true
}

// LinkLocal returns the current link-local address, if any.
func (ifc *Interface) LinkLocal() (addr.Entry, bool) {
	for _, e := range ifc.table.Snapshot() {
		if e.Source == addr.LinkLocal {
			return e, true
		}
	}
	return addr.Entry{}, false
}

// NextDeadline is the earliest pending timer.
func (ifc *Interface) NextDeadline() (time.Time, bool) { return ifc.queue.Next() }

// Announce emits the interface identity. Enable calls it on first use.
func (ifc *Interface) Announce() {
	if ifc.announced {
		return
	}
	ifc.announced = true
	ifc.emit(&status.Interface{Name: ifc.name, MAC: ifc.mac.String()})
}

// Enable starts autoconfiguration: it joins the all-nodes group, forms the
// link-local address and adds the manual addresses.
func (ifc *Interface) Enable(now time.Time) error {
	if ifc.state == Enabled {
		return nil
	}
	ifc.Announce()
	ifc.state = Enabled
	ifc.sentAny = false
	ifc.rsSent = 0
	ifc.routerHeard = false
	ifc.idgenRetries = 0
	ifc.emit(&status.InterfaceState{Interface: ifc.name, State: status.StateEnabled})
	ifc.log.Info("interface enabled")

	ifc.joinGroup(addr.AllNodes)
	if err := ifc.addLinkLocal(now); err != nil {
		return err
	}
	for _, m := range ifc.manual {
		if err := ifc.AddManual(now, m); err != nil {
			ifc.log.WithError(err).Errorf("failed to add manual address %s", m.Address)
		}
	}
	return nil
}

// Disable stops every timer and detection session and clears the table.
func (ifc *Interface) Disable(now time.Time) {
	if ifc.state == Disabled {
		return
	}
	ifc.shutdown(now, Disabled, "")
}

func (ifc *Interface) shutdown(now time.Time, to State, reason string) {
	for _, a := range ifc.table.Addresses() {
		if e, ok := ifc.table.Get(a); ok {
			ifc.removeEntry(e, "interface "+to.String())
		}
	}
	ifc.queue.Clear()
	ifc.lifetimes = make(map[netip.Addr]lifetimeTimers)
	ifc.rsTimer = 0
	for g := range ifc.groups {
		if err := ifc.dev.LeaveGroup(addr.MulticastMAC(g)); err != nil {
			ifc.log.WithError(err).Warnf("failed to leave %s", g)
		}
	}
	ifc.groups = make(map[netip.Addr]int)

	ifc.state = to
	ifc.emit(&status.InterfaceState{Interface: ifc.name, State: to.String(), Reason: reason})
	if to == IPDisabled {
		ifc.log.WithField("reason", reason).Error("IP disabled on interface")
	} else {
		ifc.log.Info("interface disabled")
	}
}

func (ifc *Interface) addLinkLocal(now time.Time) error {
	a, err := addr.Combine(addr.LinkLocalPrefix, ifc.iid)
	if err != nil {
		return err
	}
	e, err := addr.NewEntry(a, addr.IIDLength, addr.LinkLocal, addr.Infinite, addr.Infinite, now)
	if err != nil {
		return err
	}
	return ifc.insert(now, e, ifc.initialDelay())
}

// AddManual adds an operator address, or refreshes its lifetimes when it is
// already present.
func (ifc *Interface) AddManual(now time.Time, m ManualAddress) error {
	if ifc.state != Enabled {
		return ErrNotEnabled
	}
	if e, ok := ifc.table.Get(m.Address); ok {
		if err := e.SetLifetimes(m.PreferredLifetime, m.ValidLifetime, now); err != nil {
			return err
		}
		ifc.lifetimesChanged(now, e)
		return nil
	}
	e, err := addr.NewEntry(m.Address, m.PrefixLen, addr.Manual, m.PreferredLifetime, m.ValidLifetime, now)
	if err != nil {
		return err
	}
	e.Anycast = m.Anycast
	e.SkipDAD = m.SkipDAD
	return ifc.insert(now, e, ifc.initialDelay())
}

// RemoveAddress drops a from the table and abandons its detection.
func (ifc *Interface) RemoveAddress(now time.Time, a netip.Addr) bool {
	e, ok := ifc.table.Get(a)
	if !ok {
		return false
	}
	ifc.removeEntry(e, "removed")
	return true
}

// insert adds a Tentative entry, joins its solicited-node group for as long
// as it stays in the table and starts detection after delay, or
// promotes it straight away when detection does not apply.
func (ifc *Interface) insert(now time.Time, e *addr.Entry, delay time.Duration) error {
	if err := ifc.table.Add(e); err != nil {
		return fmt.Errorf("%s: %w", e.Address, err)
	}
	ifc.joinGroup(addr.SolicitedNode(e.Address))
	ifc.emitAddress(e, "")
	ifc.scheduleLifetimes(e)
	ifc.log.WithFields(log.Fields{
		"address": e.Address,
		"source":  e.Source,
	}).Debug("tentative address added")

	if !e.NeedsDAD() || ifc.cfg.DupAddrDetectTransmits == 0 {
		ifc.promote(now, e)
		return nil
	}
	ifc.startDAD(now, e, delay)
	return nil
}

// promote moves a Tentative entry to the state its lifetimes allow.
func (ifc *Interface) promote(now time.Time, e *addr.Entry) {
	switch st := e.UsableState(now); st {
	case addr.Invalid:
		ifc.removeEntry(e, "valid lifetime expired")
		return
	default:
		e.State = st
	}
	ifc.emitAddress(e, "")
	ifc.log.WithField("address", e.Address).Infof("address %s", e.State)
	if e.Source == addr.LinkLocal {
		ifc.startRouterSolicitation(now)
	}
}

func (ifc *Interface) removeEntry(e *addr.Entry, reason string) {
	ifc.cancelDAD(e.Address)
	if t, ok := ifc.lifetimes[e.Address]; ok {
		ifc.queue.Cancel(t.preferred)
		ifc.queue.Cancel(t.valid)
		delete(ifc.lifetimes, e.Address)
	}
	ifc.table.Remove(e.Address)
	ifc.leaveGroup(addr.SolicitedNode(e.Address))
	e.State = addr.Invalid
	ifc.emitAddress(e, reason)
	ifc.log.WithFields(log.Fields{"address": e.Address, "reason": reason}).Info("address removed")
}

func (ifc *Interface) scheduleLifetimes(e *addr.Entry) {
	if t, ok := ifc.lifetimes[e.Address]; ok {
		ifc.queue.Cancel(t.preferred)
		ifc.queue.Cancel(t.valid)
	}
	var t lifetimeTimers
	if at, ok := e.PreferredUntil(); ok {
		t.preferred = ifc.queue.Schedule(at, timer{kind: timerPreferred, addr: e.Address})
	}
	if at, ok := e.ValidUntil(); ok {
		t.valid = ifc.queue.Schedule(at, timer{kind: timerValid, addr: e.Address})
	}
	ifc.lifetimes[e.Address] = t
}

// lifetimesChanged reschedules timers after new lifetimes were set and moves
// a usable entry between Preferred and Deprecated accordingly.
func (ifc *Interface) lifetimesChanged(now time.Time, e *addr.Entry) {
	ifc.scheduleLifetimes(e)
	if e.State == addr.Tentative {
		return
	}
	st := e.UsableState(now)
	if st == addr.Invalid {
		ifc.removeEntry(e, "valid lifetime expired")
		return
	}
	if st != e.State {
		e.State = st
		ifc.emitAddress(e, "")
		ifc.log.WithField("address", e.Address).Infof("address %s", e.State)
	}
}

func (ifc *Interface) preferredExpired(now time.Time, a netip.Addr) {
	e, ok := ifc.table.Get(a)
	if !ok || e.State != addr.Preferred {
		return
	}
	e.State = addr.Deprecated
	ifc.emitAddress(e, "preferred lifetime expired")
	ifc.log.WithField("address", a).Info("address deprecated")
}

func (ifc *Interface) validExpired(now time.Time, a netip.Addr) {
	e, ok := ifc.table.Get(a)
	if !ok {
		return
	}
	delete(ifc.lifetimes, a)
	ifc.removeEntry(e, "valid lifetime expired")
}

// Fire runs every timer due at now.
func (ifc *Interface) Fire(now time.Time) {
	for {
		t, ok := ifc.queue.PopDue(now)
		if !ok {
			return
		}
		switch t.kind {
		case timerDAD:
			ifc.dadTimer(now, t.addr)
		case timerPreferred:
			ifc.preferredExpired(now, t.addr)
		case timerValid:
			ifc.validExpired(now, t.addr)
		case timerRS:
			ifc.rsTimer = 0
			ifc.solicitRouters(now)
		}
	}
}

// HandleFrame processes one received Ethernet frame.
func (ifc *Interface) HandleFrame(now time.Time, frame []byte) {
	if wire.IsARP(frame) {
		ifc.handleARP(frame)
		return
	}
	if ifc.state != Enabled {
		return
	}
	p, err := wire.Parse(frame)
	if err != nil {
		if errors.Is(err, wire.ErrInvalid) {
			ifc.log.WithError(err).Debug("dropping frame")
		}
		return
	}
	if !ifc.forUs(p.DstMAC) {
		return
	}
	switch m := p.Message.(type) {
	case *wire.NeighborSolicitation:
		ifc.handleSolicitation(now, p, m)
	case *wire.NeighborAdvertisement:
		ifc.handleAdvertisement(now, p, m)
	case *wire.RouterAdvertisement:
		ifc.handleRouterAdvertisement(now, p, m)
	}
}

func (ifc *Interface) forUs(dst net.HardwareAddr) bool {
	if len(dst) != 6 {
		return false
	}
	if dst[0]&1 == 1 {
		return true
	}
	return string(dst) == string(ifc.mac)
}

// send frames and writes p. Transmit errors are logged and otherwise ignored;
// the protocol recovers through its own retransmissions.
func (ifc *Interface) send(p *wire.Packet) {
	if ifc.state != Enabled {
		return
	}
	p.SrcMAC = ifc.mac
	frame, err := wire.Marshal(p)
	if err != nil {
		ifc.log.WithError(err).Errorf("failed to build %T", p.Message)
		return
	}
	if err := ifc.dev.WritePacket(frame); err != nil {
		ifc.log.WithError(err).Warnf("failed to send %T", p.Message)
		return
	}
	ifc.sentAny = true
}

// initialDelay is the random delay before the first transmission since
// Enable; later transmissions go out at once.
func (ifc *Interface) initialDelay() time.Duration {
	if ifc.sentAny {
		return 0
	}
	return ifc.randomDelay(ifc.cfg.MaxRtrSolicitationDelay)
}

func (ifc *Interface) joinGroup(g netip.Addr) {
	ifc.groups[g]++
	if ifc.groups[g] > 1 {
		return
	}
	if err := ifc.dev.JoinGroup(addr.MulticastMAC(g)); err != nil {
		ifc.log.WithError(err).Warnf("failed to join %s", g)
	}
}

func (ifc *Interface) leaveGroup(g netip.Addr) {
	n, ok := ifc.groups[g]
	if !ok {
		return
	}
	if n > 1 {
		ifc.groups[g] = n - 1
		return
	}
	delete(ifc.groups, g)
	if err := ifc.dev.LeaveGroup(addr.MulticastMAC(g)); err != nil {
		ifc.log.WithError(err).Warnf("failed to leave %s", g)
	}
}

func (ifc *Interface) emit(e status.Event) {
	if ifc.sink == nil {
		return
	}
	if err := ifc.sink.Emit(e); err != nil {
		ifc.log.WithError(err).Warnf("failed to write %s event", e.Kind())
	}
}

func (ifc *Interface) emitAddress(e *addr.Entry, reason string) {
	ev := &status.Address{
		Interface:    ifc.name,
		Address:      e.Address.String(),
		PrefixLength: e.PrefixLen,
		State:        e.State.String(),
		Source:       e.Source.String(),
		Reason:       reason,
	}
	if e.State != addr.Invalid {
		ev.PreferredLifetime = e.PreferredLifetime.String()
		ev.ValidLifetime = e.ValidLifetime.String()
	}
	ifc.emit(ev)
}
