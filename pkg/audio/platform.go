// Package audio defines the device-facing abstractions of the voice core and
// the PCM helpers shared by every loop.
//
// The primary abstractions are:
//
//   - [FrameSource] — a microphone stream yielding fixed-length PCM frames.
//   - [Device] — an exclusive broker around a FrameSource. Consumers obtain a
//     [Lease] and hand the microphone over strictly sequentially.
//   - [Player] — starts playback of a [Clip] and returns a cancellable
//     [Playback].
//
// Implementations live in adapter packages (audio/portaudio, audio/speaker)
// and in audio/mock for tests. The interfaces are intentionally narrow so the
// voice loops never depend on a concrete audio backend.
package audio

import "context"

// FrameSource is an opened microphone stream.
//
// Read blocks until the hardware delivers the next frame. Every frame has
// exactly Format().FrameLength samples. Implementations need not be safe for
// concurrent Read calls; [Device] guarantees a single reader.
type FrameSource interface {
	// Read blocks for the next frame.
	Read() (AudioFrame, error)

	// Format returns the fixed frame shape of this source.
	Format() Format

	// Close stops the stream and releases the hardware. Close is idempotent.
	Close() error
}

// Opener opens a fresh [FrameSource]. A [Device] calls it lazily on the first
// acquisition and again after [Device.Close].
type Opener func() (FrameSource, error)

// Player starts playback of finished clips.
type Player interface {
	// Play starts playing clip and returns immediately. The returned Playback
	// reports completion; ctx cancellation stops the playback.
	Play(ctx context.Context, clip Clip) (Playback, error)
}

// Playback is a single in-flight playback started by a [Player].
type Playback interface {
	// Done is closed once playback has finished, failed or been stopped.
	Done() <-chan struct{}

	// Err returns the playback error, if any. Valid after Done is closed.
	Err() error

	// Stop force-stops the playback. Stop is idempotent and returns once the
	// device no longer plays the clip.
	Stop()
}
