// Package capture defines the capture source contract consumed by the
// frame provider, plus the built-in synthetic source used for tests and
// test-pattern mode. Hardware-backed sources live behind the same
// interfaces (see v4l2_linux.go).
package capture

import (
	"errors"
	"time"
)

// ErrStreamStopped is returned by Dequeue once the stream has been
// stopped and no filled buffers remain.
var ErrStreamStopped = errors.New("capture: stream stopped")

// Resolution is a supported stream size reported by a source.
type Resolution struct {
	Width  uint32
	Height uint32
}

// StreamConfig carries the negotiated stream parameters. Format is an
// opaque fourcc-style tag passed through to the source; sources that
// only produce one format may ignore it. BufferCount is the number of
// buffers the caller intends to allocate, so sources that size their
// pool at open time (mmap streaming) can reserve exactly that many.
type StreamConfig struct {
	Width       uint32
	Height      uint32
	PixelFormat uint32
	BufferCount int
}

// Source is a device or synthetic generator that can report its native
// resolutions and open a buffer-pooled stream.
type Source interface {
	// Resolutions lists the natively supported stream sizes.
	Resolutions() ([]Resolution, error)

	// OpenStream opens a stream at the given configuration. The stream
	// is not producing frames until Start is called.
	OpenStream(cfg StreamConfig) (Stream, error)
}

// Stream is an open capture stream with an explicit buffer strategy:
// the caller allocates a fixed set of buffers, enqueues them for
// filling, and dequeues them back once the source has written a frame.
type Stream interface {
	// AllocateBuffer obtains one reusable buffer from the stream.
	AllocateBuffer() (Buffer, error)

	// Enqueue submits a buffer to the source for future filling.
	Enqueue(Buffer) error

	// Dequeue blocks until the source has filled a buffer and returns
	// it. It returns ErrStreamStopped after Stop once drained.
	Dequeue() (Buffer, error)

	// Start begins filling enqueued buffers.
	Start() error

	// Stop halts capture. Buffers already filled may still be dequeued;
	// a blocked Dequeue returns within a bounded time.
	Stop() error

	// Release drops the stream's reference to a buffer at teardown.
	Release(Buffer)

	// Close releases the underlying device or generator resources.
	// The stream must be stopped first.
	Close() error
}

// Buffer is a single reusable frame buffer owned by a stream. Data
// returns the pixel payload of the most recent fill; accessing it once
// up front forces any lazy mapping to happen before the hot path.
type Buffer interface {
	Data() []byte
	Sequence() uint64
	Timestamp() time.Time
}
