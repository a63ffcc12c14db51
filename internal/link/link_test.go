package link

import (
	"errors"
	"net"
	"testing"
)

func TestPipe(t *testing.T) {
	macA := net.HardwareAddr{2, 0, 0, 0, 0, 1}
	macB := net.HardwareAddr{2, 0, 0, 0, 0, 2}
	a, b := NewPipe("a0", macA, "b0", macB)

	var _ Device = a

	frame := []byte{1, 2, 3}
	if err := a.WritePacket(frame); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	frame[0] = 9

	buf := make([]byte, MaxFrameSize)
	n, err := b.ReadPacket(buf)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if got := buf[:n]; len(got) != 3 || got[0] != 1 {
		t.Fatalf("read %v, want a copy of the written frame", got)
	}
	if _, ok := a.TryRead(); ok {
		t.Fatalf("writer received its own frame")
	}

	group := net.HardwareAddr{0x33, 0x33, 0xff, 0, 0, 1}
	a.JoinGroup(group)
	a.JoinGroup(group)
	a.LeaveGroup(group)
	if !a.Joined(group) {
		t.Fatalf("group left after one of two leaves")
	}
	a.LeaveGroup(group)
	if a.Joined(group) {
		t.Fatalf("group still joined")
	}

	b.Close()
	if _, err := b.ReadPacket(buf); !errors.Is(err, ErrClosed) {
		t.Fatalf("ReadPacket after Close = %v, want ErrClosed", err)
	}
	if err := b.WritePacket(frame); !errors.Is(err, ErrClosed) {
		t.Fatalf("WritePacket after Close = %v, want ErrClosed", err)
	}
}
