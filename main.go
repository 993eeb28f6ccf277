package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgevision/framenode/cmd"
	"github.com/edgevision/framenode/internal/api"
	"github.com/edgevision/framenode/internal/capture"
	"github.com/edgevision/framenode/internal/config"
	"github.com/edgevision/framenode/internal/events"
	"github.com/edgevision/framenode/internal/logging"
	"github.com/edgevision/framenode/internal/pipeline"
	"github.com/edgevision/framenode/internal/provider"
	"github.com/edgevision/framenode/pkg/linuxav/v4l2"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Capture settings
	CaptureDevice      string `help:"Capture device node" default:"/dev/video0" toml:"capture.device" env:"CAPTURE_DEVICE"`
	CaptureTestPattern bool   `help:"Use the synthetic test pattern source instead of hardware" default:"false" toml:"capture.test_pattern" env:"CAPTURE_TEST_PATTERN"`
	CaptureWidth       int    `help:"Requested frame width" default:"640" toml:"capture.width" env:"CAPTURE_WIDTH"`
	CaptureHeight      int    `help:"Requested frame height" default:"480" toml:"capture.height" env:"CAPTURE_HEIGHT"`
	CaptureFormat      string `help:"Pixel format fourcc (YUYV, MJPG, NV12)" default:"YUYV" toml:"capture.format" env:"CAPTURE_FORMAT"`

	// Provider settings
	ProviderKeepCount int `help:"Recent frames kept available to the consumer" default:"3" toml:"provider.keep_count" env:"PROVIDER_KEEP_COUNT"`
	ProviderPoolSize  int `help:"Fixed capture buffer pool size" default:"8" toml:"provider.pool_size" env:"PROVIDER_POOL_SIZE"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture  string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingProvider string `help:"Provider logging level" default:"info" toml:"logging.provider" env:"LOGGING_PROVIDER"`
	LoggingPipeline string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP     string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

func loggingConfig(opts *Options) logging.Config {
	return logging.Config{
		Level:  opts.LoggingLevel,
		Format: opts.LoggingFormat,
		Modules: map[string]string{
			"capture":  opts.LoggingCapture,
			"provider": opts.LoggingProvider,
			"pipeline": opts.LoggingPipeline,
			"api":      opts.LoggingAPI,
			"http":     opts.LoggingHTTP,
		},
	}
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(loggingConfig(opts))
		logger := logging.GetLogger("main")

		eventBus := events.New()

		var source capture.Source
		if opts.CaptureTestPattern {
			logger.Info("Using synthetic test pattern source")
			source = capture.NewSimSource()
		} else {
			source = capture.NewV4L2Source(opts.CaptureDevice, v4l2.ParseFourCC(opts.CaptureFormat))
		}

		provCfg := provider.Config{
			Width:       uint32(opts.CaptureWidth),
			Height:      uint32(opts.CaptureHeight),
			PixelFormat: v4l2.ParseFourCC(opts.CaptureFormat),
			KeepCount:   opts.ProviderKeepCount,
			PoolSize:    opts.ProviderPoolSize,
			Bus:         eventBus,
		}
		prov, err := provider.New(source, provCfg, logging.GetLogger("provider"))
		if err != nil && !opts.CaptureTestPattern {
			logger.Warn("Capture device unavailable, falling back to test pattern",
				"error", err, "device", opts.CaptureDevice)
			source = capture.NewSimSource()
			prov, err = provider.New(source, provCfg, logging.GetLogger("provider"))
		}
		if err != nil {
			logger.Error("Failed to create frame provider", "error", err)
			os.Exit(1)
		}

		runner := pipeline.NewRunner(prov, pipeline.DiscardSink{}, eventBus,
			logging.GetLogger("pipeline"), pipeline.WithSnapshot())
		runCtx, cancelRun := context.WithCancel(context.Background())

		server := api.NewServer(&api.Options{
			Provider:          prov,
			Runner:            runner,
			EventBus:          eventBus,
			PrometheusHandler: promhttp.Handler(),
		})

		// Reapply logging levels and announce the change when the config
		// file is edited. Capture settings need a restart; say so once.
		watcher := config.NewWatcher(opts.Config, loadSettings, logger,
			config.WithDebounce[settingsFile](1500*time.Millisecond))
		watcher.OnReload(func(settings settingsFile) {
			logging.Initialize(settings.loggingConfig())
			logger.Info("Configuration reloaded", "path", opts.Config)
			logger.Info("Capture and provider settings take effect on restart")
			eventBus.Publish(events.ConfigReloadedEvent{
				Path:      opts.Config,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		})

		hooks.OnStart(func() {
			if startErr := prov.Start(); startErr != nil {
				logger.Error("Failed to start frame fetching", "error", startErr)
				os.Exit(1)
			}

			go func() {
				if runErr := runner.Run(runCtx); runErr != nil {
					logger.Error("Pipeline terminated", "error", runErr)
				}
			}()

			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Config file watching unavailable", "error", watchErr, "path", opts.Config)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}

			cancelRun()
			// Close wakes the pipeline out of its blocking wait and
			// releases the buffer pool back to the source.
			if closeErr := prov.Close(); closeErr != nil {
				logger.Error("Error closing frame provider", "error", closeErr)
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateCaptureCmd())
	cli.Root().AddCommand(cmd.CreateDevicesCmd())

	cli.Run()
}

// settingsFile mirrors the config file sections the daemon can apply
// without a restart.
type settingsFile struct {
	Logging struct {
		Level    string `toml:"level"`
		Format   string `toml:"format"`
		Capture  string `toml:"capture"`
		Provider string `toml:"provider"`
		Pipeline string `toml:"pipeline"`
		API      string `toml:"api"`
		HTTP     string `toml:"http"`
	} `toml:"logging"`
}

func (s settingsFile) loggingConfig() logging.Config {
	return logging.Config{
		Level:  s.Logging.Level,
		Format: s.Logging.Format,
		Modules: map[string]string{
			"capture":  s.Logging.Capture,
			"provider": s.Logging.Provider,
			"pipeline": s.Logging.Pipeline,
			"api":      s.Logging.API,
			"http":     s.Logging.HTTP,
		},
	}
}

func loadSettings(path string) (settingsFile, error) {
	var settings settingsFile
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, err
	}
	if err := toml.Unmarshal(data, &settings); err != nil {
		return settings, err
	}
	return settings, nil
}
