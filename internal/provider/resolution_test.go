package provider

import (
	"errors"
	"testing"

	"github.com/edgevision/framenode/internal/capture"
)

type resolutionSource struct {
	resolutions []capture.Resolution
	err         error
}

func (s *resolutionSource) Resolutions() ([]capture.Resolution, error) {
	return s.resolutions, s.err
}

func (s *resolutionSource) OpenStream(capture.StreamConfig) (capture.Stream, error) {
	return nil, errors.New("not implemented")
}

func TestChooseResolution(t *testing.T) {
	native := []capture.Resolution{
		{Width: 320, Height: 240},
		{Width: 640, Height: 480},
		{Width: 1280, Height: 720},
	}

	tests := []struct {
		name       string
		native     []capture.Resolution
		reqW, reqH uint32
		wantW      uint32
		wantH      uint32
	}{
		{"exact match", native, 640, 480, 640, 480},
		{"smallest covering size wins", native, 300, 200, 320, 240},
		{"tall request skips wide-but-short sizes", native, 700, 500, 1280, 720},
		{"nothing covers, request passed through", native, 2000, 2000, 2000, 2000},
		{"empty list, request passed through", nil, 640, 480, 640, 480},
		{"unordered list still picks smallest area", []capture.Resolution{
			{Width: 1920, Height: 1080},
			{Width: 640, Height: 480},
			{Width: 1280, Height: 720},
		}, 600, 400, 640, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &resolutionSource{resolutions: tt.native}
			w, h, err := ChooseResolution(src, tt.reqW, tt.reqH)
			if err != nil {
				t.Fatalf("ChooseResolution failed: %v", err)
			}
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("ChooseResolution(%d, %d) = %dx%d, want %dx%d",
					tt.reqW, tt.reqH, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestChooseResolutionPropagatesQueryError(t *testing.T) {
	src := &resolutionSource{err: errors.New("device gone")}
	if _, _, err := ChooseResolution(src, 640, 480); err == nil {
		t.Fatal("expected error from failing source, got nil")
	}
}
