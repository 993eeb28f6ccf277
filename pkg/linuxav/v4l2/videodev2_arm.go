//go:build linux && arm && !arm64

package v4l2

import "unsafe"

// Compile-time struct size assertions for 32-bit ARM.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2FrmsizeDiscrete{})]byte{}
	_ [24]byte  = [unsafe.Sizeof(v4l2FrmsizeStepwise{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Frmsizeenum{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2RequestBuffers{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
)

// IOCTL constants for 32-bit ARM. Enumeration values match 64-bit
// since those struct sizes are identical; v4l2Format and v4l2Buffer
// shrink with the 32-bit long and timeval.
const (
	vidiocQuerycap       = 0x80685600
	vidiocEnumFmt        = 0xc0405602
	vidiocEnumFramesizes = 0xc02c564a
	vidiocGFmt           = 0xc0cc5604
	vidiocSFmt           = 0xc0cc5605
	vidiocReqbufs        = 0xc0145608
	vidiocQuerybuf       = 0xc0445609
	vidiocQbuf           = 0xc044560f
	vidiocDqbuf          = 0xc0445611
	vidiocStreamon       = 0x40045612
	vidiocStreamoff      = 0x40045613
)

// v4l2Capability has size 104 bytes (same as 64-bit).
type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

// v4l2Fmtdesc has size 64 bytes (same as 64-bit).
type v4l2Fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

// v4l2FrmsizeDiscrete has size 8 bytes.
type v4l2FrmsizeDiscrete struct {
	width  uint32
	height uint32
}

// v4l2FrmsizeStepwise has size 24 bytes.
type v4l2FrmsizeStepwise struct {
	minWidth   uint32
	maxWidth   uint32
	stepWidth  uint32
	minHeight  uint32
	maxHeight  uint32
	stepHeight uint32
}

// v4l2Frmsizeenum has size 44 bytes.
type v4l2Frmsizeenum struct {
	index       uint32
	pixelFormat uint32
	typ         uint32
	discrete    v4l2FrmsizeDiscrete
	_           [16]byte
	reserved    [2]uint32
}

// v4l2PixFormat has size 48 bytes.
type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format has size 204 bytes on 32-bit (4-byte union alignment).
type v4l2Format struct {
	typ uint32         // offset 0
	pix v4l2PixFormat  // offset 4 (union start)
	_   [200 - 48]byte // rest of union
}

// v4l2RequestBuffers has size 20 bytes.
type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

// v4l2Buffer has size 68 bytes with 32-bit timeval and union.
type v4l2Buffer struct {
	index     uint32   // offset 0
	typ       uint32   // offset 4
	bytesused uint32   // offset 8
	flags     uint32   // offset 12
	field     uint32   // offset 16
	tvSec     int32    // offset 20
	tvUsec    int32    // offset 24
	timecode  [16]byte // offset 28
	sequence  uint32   // offset 44
	memory    uint32   // offset 48
	offset    uint32   // offset 52 (m union, mmap offset)
	length    uint32   // offset 56
	reserved2 uint32   // offset 60
	requestFd uint32   // offset 64
}

// timestampNanos returns the buffer capture time in Unix nanoseconds.
func (b *v4l2Buffer) timestampNanos() int64 {
	return int64(b.tvSec)*1e9 + int64(b.tvUsec)*1e3
}
