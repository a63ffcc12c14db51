//go:build linux

package link

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Packet is an AF_PACKET socket bound to an existing interface.
type Packet struct {
	file  *os.File
	info  LinkInfo
	mac   net.HardwareAddr
	mu    sync.Mutex
	joins map[string]int

	closeOnce sync.Once
}

// frameFilter accepts inbound ARP frames and IPv6 frames carrying ICMPv6
// directly after the fixed header, and drops the socket's own transmissions.
var frameFilter = []bpf.Instruction{
	bpf.LoadExtension{Num: bpf.ExtType},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.PACKET_OUTGOING, SkipTrue: 6},
	bpf.LoadAbsolute{Off: 12, Size: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.ETH_P_ARP, SkipTrue: 3},
	bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: unix.ETH_P_IPV6, SkipTrue: 3},
	bpf.LoadAbsolute{Off: 14 + 6, Size: 1},
	bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: unix.IPPROTO_ICMPV6, SkipTrue: 1},
	bpf.RetConstant{Val: MaxFrameSize},
	bpf.RetConstant{Val: 0},
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }

// OpenPacket attaches to interfaceName. mac defaults to the interface's own
// hardware address when nil.
func OpenPacket(interfaceName string, mac net.HardwareAddr) (*Packet, error) {
	info, err := LookupLink(interfaceName)
	if err != nil {
		return nil, err
	}
	if mac == nil {
		mac = info.HardwareAddr
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("failed to open packet socket: %w", err)
	}
	if err := attachFilter(fd, frameFilter); err != nil {
		unix.Close(fd)
		return nil, err
	}
	sll := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: info.Index}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind packet socket to %s: %w", interfaceName, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set packet socket non-blocking: %w", err)
	}

	return &Packet{
		file:  os.NewFile(uintptr(fd), "packet:"+interfaceName),
		info:  info,
		mac:   mac,
		joins: make(map[string]int),
	}, nil
}

func attachFilter(fd int, prog []bpf.Instruction) error {
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return fmt.Errorf("failed to assemble socket filter: %w", err)
	}
	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}
	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
		return fmt.Errorf("failed to attach socket filter: %w", err)
	}
	return nil
}

func (p *Packet) Name() string                   { return p.info.Name }
func (p *Packet) HardwareAddr() net.HardwareAddr { return p.mac }

func (p *Packet) ReadPacket(buf []byte) (int, error) {
	n, err := p.file.Read(buf)
	if errors.Is(err, os.ErrClosed) {
		return 0, ErrClosed
	}
	return n, err
}

func (p *Packet) WritePacket(frame []byte) error {
	_, err := p.file.Write(frame)
	if errors.Is(err, os.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (p *Packet) membership(group net.HardwareAddr, opt int) error {
	mreq := unix.PacketMreq{
		Ifindex: int32(p.info.Index),
		Type:    unix.PACKET_MR_MULTICAST,
		Alen:    uint16(len(group)),
	}
	copy(mreq.Address[:], group)
	conn, err := p.file.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := conn.Control(func(fd uintptr) {
		serr = unix.SetsockoptPacketMreq(int(fd), unix.SOL_PACKET, opt, &mreq)
	}); err != nil {
		return err
	}
	return serr
}

// JoinGroup adds a reference-counted packet membership for group.
func (p *Packet) JoinGroup(group net.HardwareAddr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := group.String()
	if p.joins[k] == 0 {
		if err := p.membership(group, unix.PACKET_ADD_MEMBERSHIP); err != nil {
			return fmt.Errorf("failed to join %s on %s: %w", group, p.info.Name, err)
		}
	}
	p.joins[k]++
	return nil
}

func (p *Packet) LeaveGroup(group net.HardwareAddr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := group.String()
	switch p.joins[k] {
	case 0:
		return nil
	case 1:
		delete(p.joins, k)
		return p.membership(group, unix.PACKET_DROP_MEMBERSHIP)
	default:
		p.joins[k]--
		return nil
	}
}

func (p *Packet) Close() error {
	var err error
	p.closeOnce.Do(func() { err = p.file.Close() })
	return err
}
