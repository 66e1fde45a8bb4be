package audio_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/audio/mock"
)

var testFormat = audio.Format{SampleRate: 16000, FrameLength: 320}

func TestDevice_OpensLazilyAndReusesStream(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(testFormat)
	src.SetFill(mock.Constant(100, 320))
	dev := audio.NewDevice(src.Opener())

	if dev.Opened() {
		t.Fatal("device opened before first Acquire")
	}
	for range 3 {
		l, err := dev.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if _, err := l.Read(); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if err := l.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}
	if src.CallCountOpen != 1 {
		t.Errorf("opened %d times, want 1", src.CallCountOpen)
	}
	if got := dev.Format(); got != testFormat {
		t.Errorf("Format = %+v, want %+v", got, testFormat)
	}
}

func TestDevice_ExclusiveAccess(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(testFormat)
	src.SetFill(mock.Constant(100, 320))
	src.FrameDelay = time.Millisecond
	dev := audio.NewDevice(src.Opener())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				l, err := dev.Acquire(context.Background())
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				for range 3 {
					_, _ = l.Read()
				}
				audio.ReleaseQuietly(l, "test")
			}
		}()
	}
	wg.Wait()

	if src.MaxConcurrentReads != 1 {
		t.Errorf("MaxConcurrentReads = %d, want 1", src.MaxConcurrentReads)
	}
}

func TestDevice_ContendedAndHandoff(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(testFormat)
	dev := audio.NewDevice(src.Opener())

	first, err := dev.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if dev.Contended() {
		t.Fatal("Contended with no waiter")
	}

	got := make(chan *audio.Lease, 1)
	go func() {
		l, err := dev.Acquire(context.Background())
		if err != nil {
			t.Errorf("second Acquire: %v", err)
		}
		got <- l
	}()

	deadline := time.After(time.Second)
	for !dev.Contended() {
		select {
		case <-deadline:
			t.Fatal("waiter never registered")
		case <-time.After(time.Millisecond):
		}
	}

	if _, ok, _ := dev.TryAcquire(); ok {
		t.Fatal("TryAcquire succeeded while the device is leased")
	}

	_ = first.Release()
	select {
	case l := <-got:
		_ = l.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter not served after release")
	}
}

func TestDevice_AcquireHonoursContext(t *testing.T) {
	t.Parallel()

	dev := audio.NewDevice(mock.NewSource(testFormat).Opener())
	l, err := dev.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := dev.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire err = %v, want DeadlineExceeded", err)
	}
	if dev.Contended() {
		t.Error("abandoned waiter still counted")
	}
}

func TestDevice_OpenFailureFreesToken(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(testFormat)
	src.OpenErr = errors.New("no microphone")
	dev := audio.NewDevice(src.Opener())

	if _, err := dev.Acquire(context.Background()); err == nil {
		t.Fatal("Acquire succeeded despite open failure")
	}
	src.OpenErr = nil
	l, ok, err := dev.TryAcquire()
	if err != nil || !ok {
		t.Fatalf("TryAcquire after failed open: ok=%v err=%v", ok, err)
	}
	_ = l.Release()
}

func TestLease_DoubleRelease(t *testing.T) {
	t.Parallel()

	dev := audio.NewDevice(mock.NewSource(testFormat).Opener())
	l, err := dev.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := l.Release(); !errors.Is(err, audio.ErrAlreadyReleased) {
		t.Errorf("second Release err = %v, want ErrAlreadyReleased", err)
	}
	if _, err := l.Read(); !errors.Is(err, audio.ErrAlreadyReleased) {
		t.Errorf("Read after release err = %v, want ErrAlreadyReleased", err)
	}

	// The token must not have been returned twice.
	a, ok, _ := dev.TryAcquire()
	if !ok {
		t.Fatal("device not free after release")
	}
	if _, ok, _ := dev.TryAcquire(); ok {
		t.Error("double release leaked a second token")
	}
	_ = a.Release()
}

func TestDevice_CloseInvalidatesLease(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(testFormat)
	src.SetFill(mock.Constant(1, 320))
	dev := audio.NewDevice(src.Opener())

	l, err := dev.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !src.Closed() || dev.Opened() {
		t.Fatal("Close did not free the hardware")
	}
	if _, err := l.Read(); !errors.Is(err, audio.ErrDeviceClosed) {
		t.Errorf("Read err = %v, want ErrDeviceClosed", err)
	}
	_ = l.Release()

	l, err = dev.Acquire(context.Background())
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	defer l.Release()
	if _, err := l.Read(); err != nil {
		t.Errorf("Read after reopen: %v", err)
	}
	if src.CallCountOpen != 2 {
		t.Errorf("opened %d times, want 2", src.CallCountOpen)
	}
}
