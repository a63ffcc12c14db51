package slaac

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"fakenet/internal/link"
)

// Run enables the interface and serves it until ctx is done or the device
// fails. Frames are read on a separate goroutine and handed to the loop, so
// packet handling and timers never run concurrently. On return the interface
// is disabled and the device closed.
func (ifc *Interface) Run(ctx context.Context) error {
	frames := make(chan []byte, 64)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ifc.readLoop(ctx, frames)
	})
	g.Go(func() error {
		defer ifc.dev.Close()
		return ifc.eventLoop(ctx, frames)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (ifc *Interface) readLoop(ctx context.Context, frames chan<- []byte) error {
	buf := make([]byte, link.MaxFrameSize)
	for {
		n, err := ifc.dev.ReadPacket(buf)
		if err != nil {
			if errors.Is(err, link.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: read failed: %w", ifc.name, err)
		}
		frame := append([]byte(nil), buf[:n]...)
		select {
		case frames <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}

func (ifc *Interface) eventLoop(ctx context.Context, frames <-chan []byte) error {
	if err := ifc.Enable(ifc.clock.Now()); err != nil {
		return err
	}
	t := time.NewTimer(time.Duration(math.MaxInt64))
	defer t.Stop()
	for {
		if at, ok := ifc.queue.Next(); ok {
			t.Reset(at.Sub(ifc.clock.Now()))
		} else {
			t.Stop()
		}

		select {
		case <-ctx.Done():
			ifc.Disable(ifc.clock.Now())
			return ctx.Err()
		case frame := <-frames:
			ifc.HandleFrame(ifc.clock.Now(), frame)
		case <-t.C:
		case op := <-ifc.ops:
			op(ifc.clock.Now())
		}
		ifc.Fire(ifc.clock.Now())
	}
}

// Do runs fn on the event loop of a running interface and waits for it.
func (ifc *Interface) Do(ctx context.Context, fn func(now time.Time)) error {
	done := make(chan struct{})
	op := func(now time.Time) {
		fn(now)
		close(done)
	}
	select {
	case ifc.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
