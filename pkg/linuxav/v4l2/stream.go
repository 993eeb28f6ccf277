//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"
)

// ErrDequeueTimeout is returned by DequeueBuffer when no frame became
// ready within the given timeout.
var ErrDequeueTimeout = errors.New("v4l2: dequeue timed out")

// ErrStreamOff is returned by DequeueBuffer after StreamOff or Close.
var ErrStreamOff = errors.New("v4l2: stream is off")

// Device is an open V4L2 capture device using mmap streaming I/O.
//
// The usual sequence is OpenDevice, SetFormat, RequestBuffers,
// MapBuffer for each index, EnqueueBuffer for each index, StreamOn,
// then DequeueBuffer/EnqueueBuffer in a loop, and finally StreamOff
// and Close.
type Device struct {
	fd      int
	path    string
	buffers [][]byte
	stopped atomic.Bool
}

// DequeuedBuffer describes a filled buffer returned by DequeueBuffer.
type DequeuedBuffer struct {
	Index     int
	BytesUsed uint32
	Sequence  uint32
	Timestamp time.Time // driver clock, typically monotonic
}

// OpenDevice opens a V4L2 device node in non-blocking mode.
func OpenDevice(path string) (*Device, error) {
	fd, err := openDevice(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &Device{fd: fd, path: path}, nil
}

// Path returns the device node path this device was opened from.
func (d *Device) Path() string {
	return d.path
}

// SetFormat negotiates the capture format. The driver may adjust the
// requested dimensions; the values it settled on are returned along
// with the per-frame image size in bytes.
func (d *Device) SetFormat(width, height, pixelFormat uint32) (uint32, uint32, uint32, error) {
	format := v4l2Format{typ: bufTypeVideoCapture}
	format.pix.width = width
	format.pix.height = height
	format.pix.pixelformat = pixelFormat
	format.pix.field = fieldAny

	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to set format %s %dx%d: %w",
			FormatFourCC(pixelFormat), width, height, err)
	}
	if format.pix.pixelformat != pixelFormat {
		return 0, 0, 0, fmt.Errorf("driver substituted format %s for %s",
			FormatFourCC(format.pix.pixelformat), FormatFourCC(pixelFormat))
	}

	return format.pix.width, format.pix.height, format.pix.sizeimage, nil
}

// RequestBuffers asks the driver to allocate count mmap buffers and
// returns how many it actually granted.
func (d *Device) RequestBuffers(count int) (int, error) {
	req := v4l2RequestBuffers{
		count:  uint32(count),
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("failed to request %d buffers: %w", count, err)
	}
	if req.count == 0 {
		return 0, errors.New("driver granted zero buffers")
	}

	d.buffers = make([][]byte, req.count)
	return int(req.count), nil
}

// MapBuffer queries the driver for buffer index and maps it into the
// process address space.
func (d *Device) MapBuffer(index int) error {
	if index < 0 || index >= len(d.buffers) {
		return fmt.Errorf("buffer index %d out of range", index)
	}

	buf := v4l2Buffer{
		index:  uint32(index),
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("failed to query buffer %d: %w", index, err)
	}

	data, err := syscall.Mmap(d.fd, int64(buf.offset), int(buf.length),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to mmap buffer %d: %w", index, err)
	}

	d.buffers[index] = data
	return nil
}

// BufferData returns the mapped memory of buffer index, or nil if the
// buffer has not been mapped.
func (d *Device) BufferData(index int) []byte {
	if index < 0 || index >= len(d.buffers) {
		return nil
	}
	return d.buffers[index]
}

// EnqueueBuffer hands buffer index back to the driver for capture.
func (d *Device) EnqueueBuffer(index int) error {
	buf := v4l2Buffer{
		index:  uint32(index),
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	if err := ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("failed to enqueue buffer %d: %w", index, err)
	}
	return nil
}

// DequeueBuffer waits up to timeoutMs for a filled buffer and dequeues
// it. Returns ErrDequeueTimeout if no frame arrived in time and
// ErrStreamOff once the stream has been stopped.
func (d *Device) DequeueBuffer(timeoutMs int) (DequeuedBuffer, error) {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	for {
		if d.stopped.Load() {
			return DequeuedBuffer{}, ErrStreamOff
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return DequeuedBuffer{}, ErrDequeueTimeout
		}
		// Bounded select pass so a Stop during the wait is noticed
		waitMs := int(remaining / time.Millisecond)
		if waitMs > 200 {
			waitMs = 200
		}
		if waitMs < 1 {
			waitMs = 1
		}

		ready, err := d.waitReadable(waitMs)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return DequeuedBuffer{}, fmt.Errorf("failed to wait for frame: %w", err)
		}
		if !ready {
			continue
		}

		buf := v4l2Buffer{
			typ:    bufTypeVideoCapture,
			memory: memoryMmap,
		}
		if ioctlErr := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&buf)); ioctlErr != nil {
			if errors.Is(ioctlErr, syscall.EAGAIN) {
				continue
			}
			return DequeuedBuffer{}, fmt.Errorf("failed to dequeue buffer: %w", ioctlErr)
		}

		return DequeuedBuffer{
			Index:     int(buf.index),
			BytesUsed: buf.bytesused,
			Sequence:  buf.sequence,
			Timestamp: time.Unix(0, buf.timestampNanos()),
		}, nil
	}
}

func (d *Device) waitReadable(timeoutMs int) (bool, error) {
	var fds syscall.FdSet
	nfdbits := uint(unsafe.Sizeof(fds.Bits[0])) * 8
	fds.Bits[uint(d.fd)/nfdbits] |= 1 << (uint(d.fd) % nfdbits)

	n, err := syscall.Select(d.fd+1, &fds, nil, nil, selectTimeout(timeoutMs))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// StreamOn starts capture.
func (d *Device) StreamOn() error {
	typ := uint32(bufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	d.stopped.Store(false)
	return nil
}

// StreamOff stops capture. Buffers still queued in the driver are
// removed from its queue; any blocked DequeueBuffer returns
// ErrStreamOff.
func (d *Device) StreamOff() error {
	d.stopped.Store(true)
	typ := uint32(bufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("failed to stop streaming: %w", err)
	}
	return nil
}

// Close unmaps all buffers and closes the device.
func (d *Device) Close() error {
	d.stopped.Store(true)
	var firstErr error
	for i, data := range d.buffers {
		if data == nil {
			continue
		}
		if err := syscall.Munmap(data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to unmap buffer %d: %w", i, err)
		}
		d.buffers[i] = nil
	}
	if err := syscall.Close(d.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close device: %w", err)
	}
	return firstErr
}
