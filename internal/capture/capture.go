// Package capture records every frame crossing a link device to a pcap file.
package capture

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"fakenet/internal/link"
)

const snapLen = 65536

// Writer serialises frames from several goroutines into one pcap stream.
type Writer struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	now    func() time.Time
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	c, _ := w.(io.Closer)
	return &Writer{w: pw, closer: c, now: time.Now}, nil
}

// Create opens path for writing, truncating it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// WriteFrame appends one frame stamped with the current time.
func (w *Writer) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     w.now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	return w.w.WritePacket(ci, frame)
}

func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// Device mirrors reads and writes of the wrapped device into a Writer.
// Capture failures never fail the underlying I/O.
type Device struct {
	link.Device
	w *Writer
}

func Wrap(dev link.Device, w *Writer) *Device {
	return &Device{Device: dev, w: w}
}

func (d *Device) ReadPacket(buf []byte) (int, error) {
	n, err := d.Device.ReadPacket(buf)
	if err == nil && n > 0 {
		d.w.WriteFrame(buf[:n])
	}
	return n, err
}

func (d *Device) WritePacket(frame []byte) error {
	err := d.Device.WritePacket(frame)
	if err == nil {
		d.w.WriteFrame(frame)
	}
	return err
}
