//go:build !linux

package capture

import "errors"

var errLinuxOnly = errors.New("capture: v4l2 devices require linux")

// V4L2Source is only functional on linux. This stub keeps commands
// that reference hardware capture compiling on other platforms.
type V4L2Source struct{}

func NewV4L2Source(devicePath string, pixelFormat uint32) *V4L2Source {
	return &V4L2Source{}
}

func (s *V4L2Source) Resolutions() ([]Resolution, error) {
	return nil, errLinuxOnly
}

func (s *V4L2Source) OpenStream(cfg StreamConfig) (Stream, error) {
	return nil, errLinuxOnly
}
