// Package provider implements the frame provider: a fixed pool of
// reusable capture buffers circulated between a capture source, a
// delivered queue, and a consumer, with one background fetch goroutine
// keeping the newest frames available.
//
// Buffer circulation: every buffer is, at any instant, in exactly one
// of four places — enqueued at the source awaiting new data, in the
// delivered queue, in the processed queue, or held by the consumer.
// The fetch goroutine is the only mover of buffers between the queues
// and the source; the consumer only pops the delivered tail and pushes
// onto the processed tail.
package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgevision/framenode/internal/capture"
	"github.com/edgevision/framenode/internal/events"
)

// DefaultPoolSize is the number of buffers allocated from the source
// when Config.PoolSize is zero.
const DefaultPoolSize = 8

// Delay before retrying after a failed dequeue, so a wedged source
// does not spin the fetch goroutine.
const fetchRetryDelay = 10 * time.Millisecond

// ErrClosed is returned by LatestFrame once the provider is closed.
// Callers must treat it as fatal for the consuming loop.
var ErrClosed = errors.New("provider: closed")

// Config configures a Provider.
type Config struct {
	// Width and Height are the requested stream size. The negotiated
	// size may be larger, see ChooseResolution.
	Width  uint32
	Height uint32

	// PixelFormat is an opaque format tag passed through to the source.
	PixelFormat uint32

	// KeepCount is how many recent frames are kept available to the
	// consumer at once. Must be >= 1.
	KeepCount int

	// PoolSize is the fixed number of buffers allocated from the
	// source. Defaults to DefaultPoolSize; must be >= KeepCount.
	PoolSize int

	// Bus, when set, receives capture error, frame drop, and source
	// recovery events.
	Bus *events.Bus
}

// Stats is a point-in-time snapshot of provider state.
type Stats struct {
	Width     uint32 `json:"width" doc:"Negotiated stream width"`
	Height    uint32 `json:"height" doc:"Negotiated stream height"`
	PoolSize  int    `json:"pool_size" doc:"Fixed buffer pool size"`
	KeepCount int    `json:"keep_count" doc:"Frames kept available to the consumer"`
	Delivered int    `json:"delivered" doc:"Buffers waiting in the delivered queue"`
	Processed int    `json:"processed" doc:"Buffers waiting to be recycled to the source"`

	FramesDelivered uint64 `json:"frames_delivered" doc:"Total frames fetched from the source"`
	FramesDropped   uint64 `json:"frames_dropped" doc:"Frames recycled unseen because the consumer fell behind"`
	FetchErrors     uint64 `json:"fetch_errors" doc:"Transient source dequeue failures"`
	RequeueErrors   uint64 `json:"requeue_errors" doc:"Transient source enqueue failures"`
}

// Provider owns the buffer pool and the fetch goroutine.
type Provider struct {
	stream    capture.Stream
	pool      []capture.Buffer
	width     uint32
	height    uint32
	keepCount int
	bus       *events.Bus
	logger    *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	delivered []capture.Buffer
	processed []capture.Buffer
	closed    bool
	running   bool

	shutdown  atomic.Bool
	fetchDone chan struct{}

	framesDelivered atomic.Uint64
	framesDropped   atomic.Uint64
	fetchErrors     atomic.Uint64
	requeueErrors   atomic.Uint64
}

// New negotiates a stream resolution, opens the stream, allocates and
// enqueues the buffer pool, and starts source-side capture. On any
// failure everything already acquired is rolled back and a single
// error is returned; no partial provider escapes.
func New(src capture.Source, cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.KeepCount < 1 {
		return nil, fmt.Errorf("provider: keep count must be >= 1, got %d", cfg.KeepCount)
	}
	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = DefaultPoolSize
	}
	if poolSize < cfg.KeepCount {
		return nil, fmt.Errorf("provider: pool size %d smaller than keep count %d", poolSize, cfg.KeepCount)
	}
	if logger == nil {
		logger = slog.Default()
	}

	width, height, err := ChooseResolution(src, cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("provider: resolution negotiation: %w", err)
	}
	if width != cfg.Width || height != cfg.Height {
		logger.Info("Negotiated stream resolution",
			"requested_width", cfg.Width, "requested_height", cfg.Height,
			"width", width, "height", height)
	}

	stream, err := src.OpenStream(capture.StreamConfig{
		Width:       width,
		Height:      height,
		PixelFormat: cfg.PixelFormat,
		BufferCount: poolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: open stream: %w", err)
	}

	pool := make([]capture.Buffer, 0, poolSize)
	rollback := func() {
		for _, buf := range pool {
			stream.Release(buf)
		}
		_ = stream.Close()
	}

	for i := 0; i < poolSize; i++ {
		buf, allocErr := stream.AllocateBuffer()
		if allocErr != nil {
			rollback()
			return nil, fmt.Errorf("provider: allocate buffer %d: %w", i, allocErr)
		}
		pool = append(pool, buf)

		// Touch the payload once so any lazy mapping faults now
		// instead of on the hot path.
		if buf.Data() == nil {
			rollback()
			return nil, fmt.Errorf("provider: buffer %d has no backing data", i)
		}

		if enqErr := stream.Enqueue(buf); enqErr != nil {
			rollback()
			return nil, fmt.Errorf("provider: enqueue buffer %d: %w", i, enqErr)
		}
	}

	if startErr := stream.Start(); startErr != nil {
		rollback()
		return nil, fmt.Errorf("provider: start stream: %w", startErr)
	}

	p := &Provider{
		stream:    stream,
		pool:      pool,
		width:     width,
		height:    height,
		keepCount: cfg.KeepCount,
		bus:       cfg.Bus,
		logger:    logger,
	}
	p.cond = sync.NewCond(&p.mu)

	metricPoolSize.Set(float64(poolSize))
	metricKeepCount.Set(float64(cfg.KeepCount))

	return p, nil
}

// Resolution returns the negotiated stream size.
func (p *Provider) Resolution() (uint32, uint32) {
	return p.width, p.height
}

// Start spawns the fetch goroutine. It returns an error if the
// provider is closed or fetching is already running; after a failed
// Start the provider remains usable for a retry.
func (p *Provider) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.running {
		return fmt.Errorf("provider: fetch already running")
	}
	p.shutdown.Store(false)
	p.fetchDone = make(chan struct{})
	p.running = true
	go p.fetchLoop(p.fetchDone)
	return nil
}

// Stop signals the fetch goroutine to terminate and blocks until it
// has exited. The goroutine observes the flag on its next loop pass,
// so Stop returns once the source delivers (or fails) one more
// dequeue. Not safe to call concurrently with itself.
func (p *Provider) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	done := p.fetchDone
	p.mu.Unlock()

	p.shutdown.Store(true)
	<-done

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// LatestFrame blocks until a frame is available and returns the most
// recently delivered one. The returned buffer is owned by the caller
// until handed back via ReturnFrame. Fails only with ErrClosed.
func (p *Provider) LatestFrame() (capture.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.delivered) == 0 {
		if p.closed {
			return nil, ErrClosed
		}
		p.cond.Wait()
	}

	buf := p.delivered[len(p.delivered)-1]
	p.delivered = p.delivered[:len(p.delivered)-1]
	metricDeliveredDepth.Set(float64(len(p.delivered)))
	return buf, nil
}

// ReturnFrame hands a consumed buffer back for recycling to the
// source. Never blocks. The buffer must have been obtained from
// LatestFrame on this provider and be returned exactly once; the
// provider does not check this.
func (p *Provider) ReturnFrame(buf capture.Buffer) {
	p.mu.Lock()
	p.processed = append(p.processed, buf)
	metricProcessedDepth.Set(float64(len(p.processed)))
	p.mu.Unlock()
}

// Stats returns a snapshot of queue depths and counters.
func (p *Provider) Stats() Stats {
	p.mu.Lock()
	delivered := len(p.delivered)
	processed := len(p.processed)
	p.mu.Unlock()

	return Stats{
		Width:           p.width,
		Height:          p.height,
		PoolSize:        len(p.pool),
		KeepCount:       p.keepCount,
		Delivered:       delivered,
		Processed:       processed,
		FramesDelivered: p.framesDelivered.Load(),
		FramesDropped:   p.framesDropped.Load(),
		FetchErrors:     p.fetchErrors.Load(),
		RequeueErrors:   p.requeueErrors.Load(),
	}
}

// Close tears the provider down: stops fetching if still running,
// stops the stream, releases every pool buffer back to the source and
// wakes any consumer blocked in LatestFrame with ErrClosed. Buffers
// the consumer still holds become invalid; handing a frame out and
// never returning it before Close is a documented leak, not an error.
// Idempotent.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	// Stream first: a fetch goroutine blocked in Dequeue only comes
	// back once the stream stops delivering.
	if err := p.stream.Stop(); err != nil {
		p.logger.Warn("Failed to stop capture stream", "error", err)
	}

	if err := p.Stop(); err != nil {
		p.logger.Warn("Failed to stop fetch goroutine", "error", err)
	}

	// The pool slice tracks all N handles regardless of which queue
	// they sit in, so exactly N references are released.
	for _, buf := range p.pool {
		p.stream.Release(buf)
	}

	p.mu.Lock()
	p.delivered = nil
	p.processed = nil
	p.mu.Unlock()

	return p.stream.Close()
}

// fetchLoop runs until the shutdown flag is observed. Each pass:
// block on the source for a filled buffer, append it to the delivered
// tail, pick one buffer to recycle (processed head first, else the
// delivered head if the queue outgrew keepCount), re-enqueue it, and
// wake the consumer. Transient source failures are logged and
// tolerated; the loop only terminates on the shutdown flag or when
// the stream itself reports it has stopped.
func (p *Provider) fetchLoop(done chan<- struct{}) {
	defer close(done)

	var errorStreak uint64

	for !p.shutdown.Load() {
		buf, err := p.stream.Dequeue()
		if err != nil {
			if errors.Is(err, capture.ErrStreamStopped) {
				return
			}
			errorStreak++
			p.fetchErrors.Add(1)
			metricFetchErrors.Inc()
			p.logger.Warn("Failed fetching frame from source", "error", err)
			if p.bus != nil {
				p.bus.Publish(events.CaptureErrorEvent{
					Error:     err.Error(),
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				})
			}
			time.Sleep(fetchRetryDelay)
			continue
		}

		if errorStreak > 0 {
			p.logger.Info("Source recovered", "failures", errorStreak)
			if p.bus != nil {
				p.bus.Publish(events.SourceRecoveredEvent{
					Failures:  errorStreak,
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				})
			}
			errorStreak = 0
		}

		p.framesDelivered.Add(1)
		metricFramesDelivered.Inc()

		p.mu.Lock()

		p.delivered = append(p.delivered, buf)

		// Prefer recycling buffers the consumer explicitly finished
		// with; otherwise trim the oldest undelivered frame once the
		// queue holds more than keepCount.
		var recycle capture.Buffer
		var dropped capture.Buffer
		if len(p.processed) > 0 {
			recycle = p.processed[0]
			p.processed = p.processed[1:]
		} else if len(p.delivered) > p.keepCount {
			recycle = p.delivered[0]
			dropped = recycle
			p.delivered = p.delivered[1:]
		}

		if recycle != nil {
			if enqErr := p.stream.Enqueue(recycle); enqErr != nil {
				// Tolerated: the buffer is lost to circulation for
				// this cycle but the queues stay consistent.
				p.requeueErrors.Add(1)
				metricRequeueErrors.Inc()
				p.logger.Warn("Failed re-enqueueing buffer to source", "error", enqErr)
			}
		}

		metricDeliveredDepth.Set(float64(len(p.delivered)))
		metricProcessedDepth.Set(float64(len(p.processed)))

		p.cond.Signal()
		p.mu.Unlock()

		if dropped != nil {
			p.framesDropped.Add(1)
			metricFramesDropped.Inc()
			if p.bus != nil {
				p.bus.Publish(events.FrameDroppedEvent{
					Sequence:  dropped.Sequence(),
					Reason:    "consumer behind",
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				})
			}
		}
	}
}
