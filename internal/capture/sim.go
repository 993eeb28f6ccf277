package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default timing for the synthetic source, roughly 30 fps.
const defaultFrameInterval = 33 * time.Millisecond

// simResolutions mirrors the discrete sizes a typical UVC sensor reports.
var simResolutions = []Resolution{
	{320, 240},
	{640, 480},
	{1280, 720},
	{1920, 1080},
}

// SimSource is a synthetic capture source producing deterministic test
// pattern frames. It implements the same explicit buffer protocol as
// the hardware sources, so the provider and pipeline run unmodified
// against it. Used by tests and by --test-pattern mode.
type SimSource struct {
	resolutions []Resolution
	interval    time.Duration
}

// SimOption configures a SimSource.
type SimOption func(*SimSource)

// WithFrameInterval sets the synthetic frame period.
func WithFrameInterval(d time.Duration) SimOption {
	return func(s *SimSource) {
		s.interval = d
	}
}

// WithResolutions overrides the advertised resolution list. An empty
// list is allowed and exercises the negotiation fallback path.
func WithResolutions(res []Resolution) SimOption {
	return func(s *SimSource) {
		s.resolutions = res
	}
}

// NewSimSource creates a synthetic source.
func NewSimSource(opts ...SimOption) *SimSource {
	s := &SimSource{
		resolutions: simResolutions,
		interval:    defaultFrameInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolutions implements Source.
func (s *SimSource) Resolutions() ([]Resolution, error) {
	return s.resolutions, nil
}

// OpenStream implements Source.
func (s *SimSource) OpenStream(cfg StreamConfig) (Stream, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("capture: invalid stream size %dx%d", cfg.Width, cfg.Height)
	}
	return &simStream{
		cfg:      cfg,
		interval: s.interval,
		// Sized generously so Enqueue never blocks for any sane pool.
		pending: make(chan *simBuffer, 64),
		filled:  make(chan *simBuffer, 64),
		done:    make(chan struct{}),
	}, nil
}

// simStream generates a frame every interval into the oldest pending
// buffer. Ticks with no pending buffer are skipped, the same way a
// starved hardware queue drops frames.
type simStream struct {
	cfg      StreamConfig
	interval time.Duration

	pending chan *simBuffer
	filled  chan *simBuffer
	done    chan struct{}

	seq      uint64
	started  bool
	stopOnce sync.Once
	mu       sync.Mutex
	wg       sync.WaitGroup
}

type simBuffer struct {
	data []byte
	seq  atomic.Uint64
	ts   atomic.Int64
}

func (b *simBuffer) Data() []byte     { return b.data }
func (b *simBuffer) Sequence() uint64 { return b.seq.Load() }
func (b *simBuffer) Timestamp() time.Time {
	return time.Unix(0, b.ts.Load())
}

// frameSize assumes a packed 16bpp format (YUYV-like), which is what
// the pattern generator emits regardless of the requested format tag.
func (s *simStream) frameSize() int {
	return int(s.cfg.Width) * int(s.cfg.Height) * 2
}

func (s *simStream) AllocateBuffer() (Buffer, error) {
	return &simBuffer{data: make([]byte, s.frameSize())}, nil
}

func (s *simStream) Enqueue(buf Buffer) error {
	sb, ok := buf.(*simBuffer)
	if !ok {
		return fmt.Errorf("capture: foreign buffer enqueued on sim stream")
	}
	select {
	case <-s.done:
		return ErrStreamStopped
	default:
	}
	select {
	case s.pending <- sb:
		return nil
	default:
		return fmt.Errorf("capture: sim pending queue full")
	}
}

func (s *simStream) Dequeue() (Buffer, error) {
	select {
	case buf := <-s.filled:
		return buf, nil
	case <-s.done:
		// Drain frames filled before the stop won the race.
		select {
		case buf := <-s.filled:
			return buf, nil
		default:
			return nil, ErrStreamStopped
		}
	}
}

func (s *simStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("capture: sim stream already started")
	}
	s.started = true
	s.wg.Add(1)
	go s.generate()
	return nil
}

func (s *simStream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

func (s *simStream) Release(Buffer) {}

func (s *simStream) Close() error {
	return s.Stop()
}

func (s *simStream) generate() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		var buf *simBuffer
		select {
		case buf = <-s.pending:
		default:
			continue // no buffer available, frame dropped at the source
		}

		s.seq++
		fillPattern(buf.data, s.seq)
		buf.seq.Store(s.seq)
		buf.ts.Store(time.Now().UnixNano())

		select {
		case s.filled <- buf:
		case <-s.done:
			return
		}
	}
}

// fillPattern writes a deterministic rolling gradient so tests can
// verify which generation a buffer holds from its payload alone.
func fillPattern(data []byte, seq uint64) {
	base := byte(seq)
	for i := range data {
		data[i] = base + byte(i)
	}
}
