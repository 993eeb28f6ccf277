//go:build !linux

package capture

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

func ListDevices() ([]DeviceInfo, error) {
	return nil, errLinuxOnly
}

func DeviceFormats(devicePath string) ([]DeviceFormat, error) {
	return nil, errLinuxOnly
}
