package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgevision/framenode/internal/capture"
	"github.com/edgevision/framenode/pkg/linuxav/v4l2"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var showFormats bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		Long:  `Lists capture-capable video devices with their stable IDs, and optionally the formats and resolutions each supports.`,
		Run: func(_ *cobra.Command, _ []string) {
			devices, err := capture.ListDevices()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(devices) == 0 {
				fmt.Println("No capture devices found")
				return
			}

			for _, dev := range devices {
				fmt.Printf("%s\t%s\t%s\n", dev.Path, dev.ID, dev.Name)
				if !showFormats {
					continue
				}

				formats, fmtErr := capture.DeviceFormats(dev.Path)
				if fmtErr != nil {
					fmt.Fprintf(os.Stderr, "  error reading formats: %v\n", fmtErr)
					continue
				}
				for _, f := range formats {
					emulated := ""
					if f.Emulated {
						emulated = " (emulated)"
					}
					fmt.Printf("  %s%s\n", v4l2.FormatFourCC(f.FourCC), emulated)
					for _, res := range f.Resolutions {
						fmt.Printf("    %dx%d\n", res.Width, res.Height)
					}
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&showFormats, "formats", "f", false, "Show formats and resolutions per device")

	return cmd
}
