// Package pipeline runs the consumer side of the frame provider: a
// loop that pulls the newest frame, hands it to a sink, and returns
// the buffer for recycling. Cancellation is per-instance through a
// context rather than any process-wide flag, so several pipelines can
// coexist in one process.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/edgevision/framenode/internal/capture"
	"github.com/edgevision/framenode/internal/events"
	"github.com/edgevision/framenode/internal/provider"
)

// Sink consumes frames. Process must not retain frame or its payload
// past its return; the buffer goes back to the capture source right
// after.
type Sink interface {
	Process(ctx context.Context, frame capture.Buffer) error
}

// FrameCopy is a detached copy of a frame, safe to hold after the
// underlying buffer has been recycled.
type FrameCopy struct {
	Data      []byte
	Sequence  uint64
	Width     uint32
	Height    uint32
	Timestamp time.Time
}

// Runner drives a provider's consumer loop.
type Runner struct {
	provider *provider.Provider
	sink     Sink
	bus      *events.Bus
	logger   *slog.Logger

	keepSnapshot bool
	snapMu       sync.RWMutex
	snapshot     *FrameCopy
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSnapshot makes the runner retain a copy of the most recent
// frame, served by the snapshot API. Costs one payload copy per frame.
func WithSnapshot() RunnerOption {
	return func(r *Runner) {
		r.keepSnapshot = true
	}
}

// NewRunner creates a consumer loop over the given provider and sink.
func NewRunner(p *provider.Provider, sink Sink, bus *events.Bus, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		provider: p,
		sink:     sink,
		bus:      bus,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks consuming frames until ctx is cancelled or the provider
// is closed. Sink failures are logged and the frame is still returned;
// they never stop the loop. Returns nil on clean shutdown.
//
// The loop blocks inside LatestFrame between frames, so cancelling ctx
// alone takes effect on the next delivered frame; closing the provider
// unblocks it immediately.
func (r *Runner) Run(ctx context.Context) error {
	r.publishState("running")
	defer r.publishState("stopped")

	for {
		frame, err := r.provider.LatestFrame()
		if err != nil {
			if errors.Is(err, provider.ErrClosed) {
				r.logger.Debug("Provider closed, consumer loop exiting")
				return nil
			}
			return err
		}

		if r.keepSnapshot {
			r.storeSnapshot(frame)
		}

		if procErr := r.sink.Process(ctx, frame); procErr != nil {
			r.logger.Warn("Sink failed to process frame",
				"sequence", frame.Sequence(), "error", procErr)
		}

		r.provider.ReturnFrame(frame)

		select {
		case <-ctx.Done():
			r.logger.Debug("Consumer loop cancelled")
			return nil
		default:
		}
	}
}

// Snapshot returns a copy of the most recent frame, if snapshot
// retention is enabled and at least one frame has been consumed.
func (r *Runner) Snapshot() (*FrameCopy, bool) {
	r.snapMu.RLock()
	defer r.snapMu.RUnlock()
	if r.snapshot == nil {
		return nil, false
	}
	return r.snapshot, true
}

func (r *Runner) storeSnapshot(frame capture.Buffer) {
	width, height := r.provider.Resolution()
	data := make([]byte, len(frame.Data()))
	copy(data, frame.Data())

	r.snapMu.Lock()
	r.snapshot = &FrameCopy{
		Data:      data,
		Sequence:  frame.Sequence(),
		Width:     width,
		Height:    height,
		Timestamp: frame.Timestamp(),
	}
	r.snapMu.Unlock()
}

func (r *Runner) publishState(state string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.PipelineStateEvent{
		State:     state,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
