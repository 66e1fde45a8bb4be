package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrAlreadyReleased is returned when a lease is released twice. It is a
	// benign race between a stopping loop and its deferred cleanup.
	ErrAlreadyReleased = errors.New("audio: lease already released")

	// ErrDeviceClosed is returned when reading through a lease whose device
	// has been closed underneath it.
	ErrDeviceClosed = errors.New("audio: device closed")
)

// Device hands out exclusive access to one physical microphone. At most one
// [Lease] is live at any time; waiters are served in arrival order.
//
// The underlying [FrameSource] is opened lazily by the first Acquire and kept
// open across leases so that successive consumers (wake-word monitor,
// utterance capture, barge-in monitor) hand the stream over without
// reopening the hardware. [Device.Close] frees the hardware, e.g. when gaming
// mode turns the microphone off.
type Device struct {
	open Opener

	// token holds one value while the device is free.
	token   chan struct{}
	waiting atomic.Int32

	mu  sync.Mutex
	src FrameSource
}

// NewDevice creates a Device that opens its source with open.
func NewDevice(open Opener) *Device {
	d := &Device{
		open:  open,
		token: make(chan struct{}, 1),
	}
	d.token <- struct{}{}
	return d
}

// Acquire blocks until the device is free or ctx is done. A failure to open
// the hardware releases the token again and is returned to the caller.
func (d *Device) Acquire(ctx context.Context) (*Lease, error) {
	d.waiting.Add(1)
	select {
	case <-d.token:
		d.waiting.Add(-1)
	case <-ctx.Done():
		d.waiting.Add(-1)
		return nil, ctx.Err()
	}

	src, err := d.source()
	if err != nil {
		d.token <- struct{}{}
		return nil, err
	}
	return &Lease{dev: d, src: src}, nil
}

// TryAcquire returns a lease only when the device is free right now.
func (d *Device) TryAcquire() (*Lease, bool, error) {
	select {
	case <-d.token:
	default:
		return nil, false, nil
	}
	src, err := d.source()
	if err != nil {
		d.token <- struct{}{}
		return nil, false, err
	}
	return &Lease{dev: d, src: src}, true, nil
}

// Contended reports whether another consumer is blocked in Acquire.
func (d *Device) Contended() bool {
	return d.waiting.Load() > 0
}

// Opened reports whether the hardware stream is currently open.
func (d *Device) Opened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.src != nil
}

// Format returns the frame format of the open source, or the zero Format
// when the device has not been opened yet.
func (d *Device) Format() Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.src == nil {
		return Format{}
	}
	return d.src.Format()
}

// Close closes the hardware stream. Outstanding leases fail their next Read
// with [ErrDeviceClosed]. The next Acquire reopens the device.
func (d *Device) Close() error {
	d.mu.Lock()
	src := d.src
	d.src = nil
	d.mu.Unlock()
	if src == nil {
		return nil
	}
	if err := src.Close(); err != nil {
		return fmt.Errorf("audio: close device: %w", err)
	}
	return nil
}

func (d *Device) source() (FrameSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.src != nil {
		return d.src, nil
	}
	src, err := d.open()
	if err != nil {
		return nil, fmt.Errorf("audio: open device: %w", err)
	}
	d.src = src
	return src, nil
}

func (d *Device) current() FrameSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.src
}

// Lease is exclusive, temporary ownership of a [Device].
type Lease struct {
	dev      *Device
	src      FrameSource
	released atomic.Bool
}

// Read reads the next frame from the device.
func (l *Lease) Read() (AudioFrame, error) {
	if l.released.Load() {
		return AudioFrame{}, ErrAlreadyReleased
	}
	if l.dev.current() != l.src {
		return AudioFrame{}, ErrDeviceClosed
	}
	return l.src.Read()
}

// Format returns the frame format of the leased source.
func (l *Lease) Format() Format { return l.src.Format() }

// Release hands the device to the next waiter. A second call returns
// [ErrAlreadyReleased] and has no other effect.
func (l *Lease) Release() error {
	if !l.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	l.dev.token <- struct{}{}
	return nil
}

// ReleaseQuietly releases the lease and logs a double release at debug level.
func ReleaseQuietly(l *Lease, owner string) {
	if l == nil {
		return
	}
	if err := l.Release(); err != nil {
		slog.Debug("audio: device release", "owner", owner, "err", err)
	}
}
