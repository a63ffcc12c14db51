//go:build linux

package link

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/vishvananda/netlink"
)

// Tap is a TAP interface owned by this process. The kernel side of the link
// is the host; frames the host sends on the interface are read here.
type Tap struct {
	file *os.File
	link *netlink.Tuntap
	mac  net.HardwareAddr

	closeOnce sync.Once
}

// OpenTap creates a non-persistent TAP named after pattern (for example
// "tap%d"; empty lets the kernel choose), brings it up and uses mac as the
// node's own address on it.
func OpenTap(pattern string, mac net.HardwareAddr) (*Tap, error) {
	attrs := netlink.NewLinkAttrs()
	attrs.Name = pattern
	tap := &netlink.Tuntap{
		LinkAttrs:  attrs,
		Mode:       netlink.TUNTAP_MODE_TAP,
		Flags:      netlink.TUNTAP_NO_PI | netlink.TUNTAP_ONE_QUEUE,
		Queues:     1,
		NonPersist: true,
	}
	if err := netlink.LinkAdd(tap); err != nil {
		return nil, fmt.Errorf("failed to create tap device: %w", err)
	}
	if len(tap.Fds) == 0 {
		return nil, errors.New("tap device created without a queue")
	}
	t := &Tap{file: tap.Fds[0], link: tap, mac: mac}
	if err := setUp(tap); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tap) Name() string                   { return t.link.Attrs().Name }
func (t *Tap) HardwareAddr() net.HardwareAddr { return t.mac }

func (t *Tap) ReadPacket(buf []byte) (int, error) {
	n, err := t.file.Read(buf)
	if errors.Is(err, os.ErrClosed) {
		return 0, ErrClosed
	}
	return n, err
}

func (t *Tap) WritePacket(frame []byte) error {
	_, err := t.file.Write(frame)
	if errors.Is(err, os.ErrClosed) {
		return ErrClosed
	}
	return err
}

// JoinGroup is a no-op: the host delivers every frame to the TAP.
func (t *Tap) JoinGroup(net.HardwareAddr) error { return nil }

func (t *Tap) LeaveGroup(net.HardwareAddr) error { return nil }

// Close releases the queue; the non-persistent interface disappears with it.
func (t *Tap) Close() error {
	var err error
	t.closeOnce.Do(func() { err = t.file.Close() })
	return err
}
