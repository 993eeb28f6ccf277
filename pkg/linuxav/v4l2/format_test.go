//go:build linux

package v4l2

import (
	"testing"
	"unsafe"
)

func stepwiseFrmsize(minW, maxW, minH, maxH uint32) *v4l2Frmsizeenum {
	frmsize := &v4l2Frmsizeenum{typ: frmsizeTypeStepwise}
	stepwise := (*v4l2FrmsizeStepwise)(unsafe.Pointer(&frmsize.discrete))
	stepwise.minWidth = minW
	stepwise.maxWidth = maxW
	stepwise.stepWidth = 2
	stepwise.minHeight = minH
	stepwise.maxHeight = maxH
	stepwise.stepHeight = 2
	return frmsize
}

func TestStepwiseResolutionsWithinBounds(t *testing.T) {
	resolutions := stepwiseResolutions(stepwiseFrmsize(320, 1280, 240, 720))

	if len(resolutions) == 0 {
		t.Fatal("no resolutions for a range covering VGA through HD")
	}
	for _, res := range resolutions {
		if res.Width < 320 || res.Width > 1280 || res.Height < 240 || res.Height > 720 {
			t.Errorf("resolution %dx%d outside stepwise bounds", res.Width, res.Height)
		}
	}

	// VGA and HD both fall inside this range
	var sawVGA, sawHD bool
	for _, res := range resolutions {
		if res.Width == 640 && res.Height == 480 {
			sawVGA = true
		}
		if res.Width == 1280 && res.Height == 720 {
			sawHD = true
		}
	}
	if !sawVGA || !sawHD {
		t.Errorf("expected VGA and HD in %v", resolutions)
	}
}

func TestStepwiseResolutionsEmptyRange(t *testing.T) {
	// A range too small for any common resolution
	resolutions := stepwiseResolutions(stepwiseFrmsize(10, 20, 10, 20))
	if len(resolutions) != 0 {
		t.Errorf("got %v for a 10-20 pixel range, want none", resolutions)
	}
}
