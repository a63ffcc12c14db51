package capture

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"fakenet/internal/link"
)

func TestWrapRecordsBothDirections(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.now = func() time.Time { return time.Unix(1, 0) }

	a, b := link.NewPipe("a0", net.HardwareAddr{2, 0, 0, 0, 0, 1}, "b0", net.HardwareAddr{2, 0, 0, 0, 0, 2})
	dev := Wrap(a, w)

	if err := dev.WritePacket([]byte{0xaa, 0xbb}); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	b.WritePacket([]byte{0xcc})
	rb := make([]byte, 16)
	if n, err := dev.ReadPacket(rb); err != nil || n != 1 {
		t.Fatalf("ReadPacket = %d, %v", n, err)
	}

	r, err := pcapgo.NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.LinkType() != layers.LinkTypeEthernet {
		t.Fatalf("link type = %v", r.LinkType())
	}
	var got [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		got = append(got, data)
	}
	if len(got) != 2 || !bytes.Equal(got[0], []byte{0xaa, 0xbb}) || !bytes.Equal(got[1], []byte{0xcc}) {
		t.Fatalf("captured %x", got)
	}
}
