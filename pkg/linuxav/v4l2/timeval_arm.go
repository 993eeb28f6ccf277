//go:build linux && arm

package v4l2

import "syscall"

// selectTimeout converts a millisecond wait into the Timeval shape
// syscall.Select expects. 32-bit counterpart of the 64-bit variant.
func selectTimeout(timeoutMs int) *syscall.Timeval {
	sec := timeoutMs / 1000
	return &syscall.Timeval{
		Sec:  int32(sec),
		Usec: int32(timeoutMs-sec*1000) * 1000,
	}
}
