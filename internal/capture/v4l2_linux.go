//go:build linux

package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/edgevision/framenode/pkg/linuxav/v4l2"
)

// How long a single Dequeue waits for the driver before reporting a
// transient failure. Long enough for low frame rates, short enough
// that a dead sensor surfaces quickly.
const dequeueTimeoutMs = 2000

// V4L2Source adapts a V4L2 capture device node to the Source
// interface using mmap streaming I/O.
type V4L2Source struct {
	devicePath  string
	pixelFormat uint32
}

// NewV4L2Source returns a source for the given device node. The pixel
// format is used both for resolution enumeration and as the default
// stream format; zero means YUYV.
func NewV4L2Source(devicePath string, pixelFormat uint32) *V4L2Source {
	if pixelFormat == 0 {
		pixelFormat = v4l2.PixFmtYUYV
	}
	return &V4L2Source{devicePath: devicePath, pixelFormat: pixelFormat}
}

// Resolutions lists the frame sizes the device supports for the
// source's pixel format.
func (s *V4L2Source) Resolutions() ([]Resolution, error) {
	sizes, err := v4l2.GetResolutions(s.devicePath, s.pixelFormat)
	if err != nil {
		return nil, fmt.Errorf("enumerate resolutions on %s: %w", s.devicePath, err)
	}
	resolutions := make([]Resolution, len(sizes))
	for i, size := range sizes {
		resolutions[i] = Resolution{Width: size.Width, Height: size.Height}
	}
	return resolutions, nil
}

// OpenStream opens the device, sets the format and reserves the mmap
// buffer pool. The stream does not capture until Start.
func (s *V4L2Source) OpenStream(cfg StreamConfig) (Stream, error) {
	pixelFormat := cfg.PixelFormat
	if pixelFormat == 0 {
		pixelFormat = s.pixelFormat
	}
	bufferCount := cfg.BufferCount
	if bufferCount < 1 {
		bufferCount = 1
	}

	dev, err := v4l2.OpenDevice(s.devicePath)
	if err != nil {
		return nil, err
	}

	width, height, _, err := dev.SetFormat(cfg.Width, cfg.Height, pixelFormat)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	if width != cfg.Width || height != cfg.Height {
		_ = dev.Close()
		return nil, fmt.Errorf("driver adjusted %dx%d to %dx%d", cfg.Width, cfg.Height, width, height)
	}

	granted, err := dev.RequestBuffers(bufferCount)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	if granted < bufferCount {
		_ = dev.Close()
		return nil, fmt.Errorf("driver granted %d of %d requested buffers", granted, bufferCount)
	}

	return &v4l2Stream{
		dev:     dev,
		buffers: make([]*v4l2Buffer, bufferCount),
	}, nil
}

// v4l2Stream owns the open device. Buffer handles are created at most
// once per driver index by AllocateBuffer and refreshed in place on
// every Dequeue.
type v4l2Stream struct {
	dev       *v4l2.Device
	buffers   []*v4l2Buffer
	allocated int
}

func (s *v4l2Stream) AllocateBuffer() (Buffer, error) {
	if s.allocated >= len(s.buffers) {
		return nil, fmt.Errorf("all %d buffers already allocated", len(s.buffers))
	}
	index := s.allocated
	if err := s.dev.MapBuffer(index); err != nil {
		return nil, err
	}
	buf := &v4l2Buffer{index: index, data: s.dev.BufferData(index)}
	s.buffers[index] = buf
	s.allocated++
	return buf, nil
}

func (s *v4l2Stream) Enqueue(buf Buffer) error {
	hw, ok := buf.(*v4l2Buffer)
	if !ok {
		return errors.New("buffer does not belong to this stream")
	}
	return s.dev.EnqueueBuffer(hw.index)
}

func (s *v4l2Stream) Dequeue() (Buffer, error) {
	dq, err := s.dev.DequeueBuffer(dequeueTimeoutMs)
	if err != nil {
		if errors.Is(err, v4l2.ErrStreamOff) {
			return nil, ErrStreamStopped
		}
		return nil, err
	}
	if dq.Index < 0 || dq.Index >= len(s.buffers) || s.buffers[dq.Index] == nil {
		return nil, fmt.Errorf("driver returned unknown buffer index %d", dq.Index)
	}

	hw := s.buffers[dq.Index]
	hw.bytesUsed = dq.BytesUsed
	hw.sequence = uint64(dq.Sequence)
	hw.timestamp = dq.Timestamp
	return hw, nil
}

func (s *v4l2Stream) Start() error {
	return s.dev.StreamOn()
}

func (s *v4l2Stream) Stop() error {
	return s.dev.StreamOff()
}

// Release is a no-op for mmap buffers; the mappings live until Close.
func (s *v4l2Stream) Release(Buffer) {}

func (s *v4l2Stream) Close() error {
	return s.dev.Close()
}

// v4l2Buffer wraps one mmap buffer. The fill metadata is only valid
// between a Dequeue and the next Enqueue of the same index.
type v4l2Buffer struct {
	index     int
	data      []byte
	bytesUsed uint32
	sequence  uint64
	timestamp time.Time
}

func (b *v4l2Buffer) Data() []byte {
	if b.bytesUsed > 0 && int(b.bytesUsed) <= len(b.data) {
		return b.data[:b.bytesUsed]
	}
	return b.data
}

func (b *v4l2Buffer) Sequence() uint64 { return b.sequence }

func (b *v4l2Buffer) Timestamp() time.Time { return b.timestamp }
