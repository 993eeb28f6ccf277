//go:build linux

package capture

import (
	"github.com/edgevision/framenode/pkg/linuxav/v4l2"
)

// DeviceInfo describes one capture device found on the system.
type DeviceInfo struct {
	Path string
	Name string
	ID   string
}

// DeviceFormat is one pixel format a device offers, with the frame
// sizes available in it.
type DeviceFormat struct {
	FourCC      uint32
	Name        string
	Emulated    bool
	Resolutions []Resolution
}

// ListDevices enumerates capture-capable video devices.
func ListDevices() ([]DeviceInfo, error) {
	found, err := v4l2.FindDevices()
	if err != nil {
		return nil, err
	}
	devices := make([]DeviceInfo, len(found))
	for i, dev := range found {
		devices[i] = DeviceInfo{
			Path: dev.DevicePath,
			Name: dev.DeviceName,
			ID:   dev.DeviceID,
		}
	}
	return devices, nil
}

// DeviceFormats lists the formats and resolutions a device supports.
func DeviceFormats(devicePath string) ([]DeviceFormat, error) {
	formats, err := v4l2.GetFormats(devicePath)
	if err != nil {
		return nil, err
	}

	result := make([]DeviceFormat, 0, len(formats))
	for _, f := range formats {
		sizes, sizeErr := v4l2.GetResolutions(devicePath, f.PixelFormat)
		if sizeErr != nil {
			return nil, sizeErr
		}
		resolutions := make([]Resolution, len(sizes))
		for i, size := range sizes {
			resolutions[i] = Resolution{Width: size.Width, Height: size.Height}
		}
		result = append(result, DeviceFormat{
			FourCC:      f.PixelFormat,
			Name:        f.FormatName,
			Emulated:    f.Emulated,
			Resolutions: resolutions,
		})
	}
	return result, nil
}
