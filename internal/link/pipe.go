package link

import (
	"net"
	"sync"
)

// Pipe is one end of an in-memory Ethernet link. Frames written on one end
// are read on the other; the pipe does not filter by destination.
type Pipe struct {
	name string
	mac  net.HardwareAddr
	in   chan []byte
	peer *Pipe

	mu     sync.Mutex
	groups map[string]int
	once   sync.Once
	done   chan struct{}
}

// NewPipe returns two connected ends.
func NewPipe(nameA string, macA net.HardwareAddr, nameB string, macB net.HardwareAddr) (*Pipe, *Pipe) {
	a := newPipeEnd(nameA, macA)
	b := newPipeEnd(nameB, macB)
	a.peer, b.peer = b, a
	return a, b
}

func newPipeEnd(name string, mac net.HardwareAddr) *Pipe {
	return &Pipe{
		name:   name,
		mac:    mac,
		in:     make(chan []byte, 256),
		groups: make(map[string]int),
		done:   make(chan struct{}),
	}
}

func (p *Pipe) Name() string                   { return p.name }
func (p *Pipe) HardwareAddr() net.HardwareAddr { return p.mac }

func (p *Pipe) ReadPacket(buf []byte) (int, error) {
	select {
	case frame := <-p.in:
		return copy(buf, frame), nil
	case <-p.done:
		return 0, ErrClosed
	}
}

// WritePacket queues a copy of frame on the peer. It drops the frame when the
// peer's queue is full, like a congested link would.
func (p *Pipe) WritePacket(frame []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	cp := append([]byte(nil), frame...)
	select {
	case p.peer.in <- cp:
	default:
	}
	return nil
}

// TryRead returns a queued frame without blocking.
func (p *Pipe) TryRead() ([]byte, bool) {
	select {
	case frame := <-p.in:
		return frame, true
	default:
		return nil, false
	}
}

func (p *Pipe) JoinGroup(group net.HardwareAddr) error {
	p.mu.Lock()
	p.groups[group.String()]++
	p.mu.Unlock()
	return nil
}

func (p *Pipe) LeaveGroup(group net.HardwareAddr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := group.String()
	if p.groups[k] <= 1 {
		delete(p.groups, k)
	} else {
		p.groups[k]--
	}
	return nil
}

// Joined reports whether group is currently subscribed.
func (p *Pipe) Joined(group net.HardwareAddr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.groups[group.String()] > 0
}

func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
