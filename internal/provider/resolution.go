package provider

import (
	"fmt"
	"math"

	"github.com/edgevision/framenode/internal/capture"
)

// ChooseResolution queries the source's native resolutions and picks
// the one with the smallest area whose width and height both cover the
// request. If no native resolution dominates the request in both
// dimensions (or the source reports none), the requested size is
// returned unchanged and the source may reject or clamp it itself.
func ChooseResolution(src capture.Source, reqWidth, reqHeight uint32) (uint32, uint32, error) {
	resolutions, err := src.Resolutions()
	if err != nil {
		return 0, 0, fmt.Errorf("query resolutions: %w", err)
	}

	bestIdx := -1
	bestArea := uint64(math.MaxUint64)
	for i, res := range resolutions {
		if res.Width < reqWidth || res.Height < reqHeight {
			continue
		}
		area := uint64(res.Width) * uint64(res.Height)
		if area < bestArea {
			bestIdx = i
			bestArea = area
		}
	}

	if bestIdx < 0 {
		return reqWidth, reqHeight, nil
	}
	return resolutions[bestIdx].Width, resolutions[bestIdx].Height, nil
}
