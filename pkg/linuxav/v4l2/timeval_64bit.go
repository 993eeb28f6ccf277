//go:build linux && (amd64 || arm64)

package v4l2

import "syscall"

// selectTimeout converts a millisecond wait into the Timeval shape
// syscall.Select expects. Field widths differ on 32-bit ARM, hence
// the build-tag split.
func selectTimeout(timeoutMs int) *syscall.Timeval {
	sec := timeoutMs / 1000
	return &syscall.Timeval{
		Sec:  int64(sec),
		Usec: int64(timeoutMs-sec*1000) * 1000,
	}
}
