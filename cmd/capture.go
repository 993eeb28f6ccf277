package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgevision/framenode/internal/capture"
	"github.com/edgevision/framenode/internal/events"
	"github.com/edgevision/framenode/internal/logging"
	"github.com/edgevision/framenode/internal/pipeline"
	"github.com/edgevision/framenode/internal/provider"
	"github.com/edgevision/framenode/pkg/linuxav/v4l2"
)

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	var device string
	var outputDir string
	var frames int
	var width, height int
	var format string
	var keepCount int
	var poolSize int
	var testPattern bool
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture frames to disk",
		Long: `Captures raw frames from a device (or the synthetic test pattern) ` +
			`into an output directory and exits once the requested number of frames is written.`,
		Run: func(_ *cobra.Command, _ []string) {
			loggingConfig := logging.Config{
				Level:  "info",
				Format: "text",
			}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("capture")

			var source capture.Source
			if testPattern {
				source = capture.NewSimSource()
			} else {
				source = capture.NewV4L2Source(device, v4l2.ParseFourCC(format))
			}

			eventBus := events.New()
			prov, err := provider.New(source, provider.Config{
				Width:       uint32(width),
				Height:      uint32(height),
				PixelFormat: v4l2.ParseFourCC(format),
				KeepCount:   keepCount,
				PoolSize:    poolSize,
				Bus:         eventBus,
			}, logging.GetLogger("provider"))
			if err != nil {
				logger.Error("Failed to create frame provider", "error", err, "device", device)
				os.Exit(1)
			}
			defer func() {
				if closeErr := prov.Close(); closeErr != nil {
					logger.Error("Error closing frame provider", "error", closeErr)
				}
			}()

			sink, err := pipeline.NewFileSink(outputDir, frames)
			if err != nil {
				logger.Error("Failed to create output directory", "error", err, "dir", outputDir)
				os.Exit(1)
			}

			if startErr := prov.Start(); startErr != nil {
				logger.Error("Failed to start frame fetching", "error", startErr)
				os.Exit(1)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Interrupt stops the run early but still tears down cleanly
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logger.Info("Interrupted, stopping capture")
				cancel()
			}()

			// End the run once the sink has its frame quota
			counting := pipeline.FuncSink(func(ctx context.Context, frame capture.Buffer) error {
				err := sink.Process(ctx, frame)
				if sink.Written() >= frames {
					cancel()
				}
				return err
			})

			runner := pipeline.NewRunner(prov, counting, eventBus, logger)
			logger.Info("Capturing frames", "count", frames, "dir", outputDir)
			if runErr := runner.Run(ctx); runErr != nil {
				logger.Error("Capture failed", "error", runErr)
				os.Exit(1)
			}

			logger.Info("Capture complete", "written", sink.Written(), "dir", outputDir)
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "/dev/video0", "Capture device node")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "frames", "Output directory for raw frames")
	cmd.Flags().IntVarP(&frames, "frames", "n", 10, "Number of frames to capture")
	cmd.Flags().IntVar(&width, "width", 640, "Requested frame width")
	cmd.Flags().IntVar(&height, "height", 480, "Requested frame height")
	cmd.Flags().StringVar(&format, "format", "YUYV", "Pixel format fourcc")
	cmd.Flags().IntVar(&keepCount, "keep-count", 3, "Recent frames kept available")
	cmd.Flags().IntVar(&poolSize, "pool-size", provider.DefaultPoolSize, "Capture buffer pool size")
	cmd.Flags().BoolVar(&testPattern, "test-pattern", false, "Use the synthetic test pattern source")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")

	return cmd
}
