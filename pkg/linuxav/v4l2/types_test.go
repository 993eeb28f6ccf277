package v4l2

import "testing"

func TestFourCCRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		code uint32
	}{
		{"YUYV", PixFmtYUYV},
		{"MJPG", PixFmtMJPEG},
		{"H264", PixFmtH264},
		{"NV12", PixFmtNV12},
		{"GREY", PixFmtGREY},
	}

	for _, tt := range tests {
		if got := FormatFourCC(tt.code); got != tt.name {
			t.Errorf("FormatFourCC(%#x) = %q, want %q", tt.code, got, tt.name)
		}
		if got := ParseFourCC(tt.name); got != tt.code {
			t.Errorf("ParseFourCC(%q) = %#x, want %#x", tt.name, got, tt.code)
		}
	}
}

func TestParseFourCCRejectsBadLength(t *testing.T) {
	for _, name := range []string{"", "YU", "YUYVX"} {
		if got := ParseFourCC(name); got != 0 {
			t.Errorf("ParseFourCC(%q) = %#x, want 0", name, got)
		}
	}
}
