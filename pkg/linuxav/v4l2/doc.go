//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2)
// API for device enumeration, format queries, and mmap streaming I/O
// with an explicit buffer pool.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Format Queries
//
// Query supported formats and resolutions:
//
//	formats, _ := v4l2.GetFormats("/dev/video0")
//	for _, f := range formats {
//	    resolutions, _ := v4l2.GetResolutions("/dev/video0", f.PixelFormat)
//	}
//
// # Streaming
//
// Streaming follows the kernel's queue/dequeue buffer model: request a
// fixed set of mmap buffers, enqueue them for filling, start the
// stream, and dequeue filled buffers as frames arrive:
//
//	dev, _ := v4l2.OpenDevice("/dev/video0")
//	width, height, size, _ := dev.SetFormat(640, 480, v4l2.PixFmtYUYV)
//	count, _ := dev.RequestBuffers(8)
//	for i := 0; i < count; i++ {
//	    dev.MapBuffer(i)
//	    dev.EnqueueBuffer(i)
//	}
//	dev.StreamOn()
//	frame, _ := dev.DequeueBuffer(2000)
//	// ... use dev.BufferData(frame.Index)[:frame.BytesUsed] ...
//	dev.EnqueueBuffer(frame.Index)
package v4l2
