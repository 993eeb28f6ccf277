package provider

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/edgevision/framenode/internal/capture"
	"github.com/edgevision/framenode/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockBuffer struct {
	data []byte
	seq  uint64
	ts   time.Time
}

func (b *mockBuffer) Data() []byte         { return b.data }
func (b *mockBuffer) Sequence() uint64     { return b.seq }
func (b *mockBuffer) Timestamp() time.Time { return b.ts }

// mockStream hands frames to the fetch loop only when the test calls
// fill, so delivery order and timing are fully deterministic.
type mockStream struct {
	mu          sync.Mutex
	allocFailAt int // fail AllocateBuffer at this call index, -1 disables
	enqueueErr  error
	allocated   int
	enqueued    []*mockBuffer
	released    int
	started     bool
	closed      bool

	filled      chan capture.Buffer
	dequeueErrs chan error
	stopped     chan struct{}
	stopOnce    sync.Once
}

func newMockStream() *mockStream {
	return &mockStream{
		allocFailAt: -1,
		filled:      make(chan capture.Buffer, 64),
		dequeueErrs: make(chan error, 8),
		stopped:     make(chan struct{}),
	}
}

func (m *mockStream) AllocateBuffer() (capture.Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocated == m.allocFailAt {
		return nil, errors.New("allocation refused")
	}
	m.allocated++
	return &mockBuffer{data: make([]byte, 16)}, nil
}

func (m *mockStream) Enqueue(buf capture.Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, buf.(*mockBuffer))
	return nil
}

func (m *mockStream) Dequeue() (capture.Buffer, error) {
	select {
	case err := <-m.dequeueErrs:
		return nil, err
	case buf := <-m.filled:
		return buf, nil
	case <-m.stopped:
		return nil, capture.ErrStreamStopped
	}
}

func (m *mockStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *mockStream) Stop() error {
	m.stopOnce.Do(func() { close(m.stopped) })
	return nil
}

func (m *mockStream) Release(capture.Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// fill stamps the oldest enqueued buffer with seq and delivers it to
// the fetch loop as a completed frame.
func (m *mockStream) fill(seq uint64) error {
	m.mu.Lock()
	if len(m.enqueued) == 0 {
		m.mu.Unlock()
		return fmt.Errorf("no buffer enqueued for frame %d", seq)
	}
	buf := m.enqueued[0]
	m.enqueued = m.enqueued[1:]
	m.mu.Unlock()

	buf.seq = seq
	buf.ts = time.Now()
	m.filled <- buf
	return nil
}

func (m *mockStream) enqueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enqueued)
}

func (m *mockStream) releasedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

type mockSource struct {
	stream      *mockStream
	resolutions []capture.Resolution
}

func (s *mockSource) Resolutions() ([]capture.Resolution, error) {
	return s.resolutions, nil
}

func (s *mockSource) OpenStream(capture.StreamConfig) (capture.Stream, error) {
	return s.stream, nil
}

func newMockSource() *mockSource {
	return &mockSource{
		stream:      newMockStream(),
		resolutions: []capture.Resolution{{Width: 640, Height: 480}},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero keep count", Config{Width: 640, Height: 480, KeepCount: 0}},
		{"pool smaller than keep count", Config{Width: 640, Height: 480, KeepCount: 4, PoolSize: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(newMockSource(), tt.cfg, testLogger()); err == nil {
				t.Fatal("expected config error, got nil")
			}
		})
	}
}

func TestNewAllocatesAndEnqueuesPool(t *testing.T) {
	src := newMockSource()
	p, err := New(src, Config{Width: 640, Height: 480, KeepCount: 2, PoolSize: 4}, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	if src.stream.enqueuedCount() != 4 {
		t.Errorf("enqueued = %d, want 4", src.stream.enqueuedCount())
	}
	if !src.stream.started {
		t.Error("stream was not started")
	}
	if w, h := p.Resolution(); w != 640 || h != 480 {
		t.Errorf("resolution = %dx%d, want 640x480", w, h)
	}
}

func TestNewRollsBackOnAllocationFailure(t *testing.T) {
	src := newMockSource()
	src.stream.allocFailAt = 3

	if _, err := New(src, Config{Width: 640, Height: 480, KeepCount: 2, PoolSize: 8}, testLogger()); err == nil {
		t.Fatal("expected allocation error, got nil")
	}
	if got := src.stream.releasedCount(); got != 3 {
		t.Errorf("released = %d, want the 3 buffers allocated before the failure", got)
	}
	if !src.stream.closed {
		t.Error("stream was not closed on rollback")
	}
}

func TestNewRollsBackOnEnqueueFailure(t *testing.T) {
	src := newMockSource()
	src.stream.enqueueErr = errors.New("queue rejected")

	if _, err := New(src, Config{Width: 640, Height: 480, KeepCount: 1, PoolSize: 4}, testLogger()); err == nil {
		t.Fatal("expected enqueue error, got nil")
	}
	if got := src.stream.releasedCount(); got != 1 {
		t.Errorf("released = %d, want 1", got)
	}
	if !src.stream.closed {
		t.Error("stream was not closed on rollback")
	}
}

func startProvider(t *testing.T, src *mockSource, keepCount, poolSize int) *Provider {
	t.Helper()
	p, err := New(src, Config{Width: 640, Height: 480, KeepCount: keepCount, PoolSize: poolSize}, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestLatestFrameReturnsMostRecent(t *testing.T) {
	src := newMockSource()
	p := startProvider(t, src, 3, 4)

	if err := src.stream.fill(1); err != nil {
		t.Fatal(err)
	}
	if err := src.stream.fill(2); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "two delivered frames", func() bool { return p.Stats().Delivered == 2 })

	frame, err := p.LatestFrame()
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	if frame.Sequence() != 2 {
		t.Errorf("first frame sequence = %d, want 2 (newest)", frame.Sequence())
	}

	older, err := p.LatestFrame()
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	if older.Sequence() != 1 {
		t.Errorf("second frame sequence = %d, want 1", older.Sequence())
	}
}

func TestConsumerBehindDropsOldest(t *testing.T) {
	src := newMockSource()
	p := startProvider(t, src, 2, 4)

	for seq := uint64(1); seq <= 3; seq++ {
		if err := src.stream.fill(seq); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "frame fetched", func() bool { return p.Stats().FramesDelivered == seq })
	}

	stats := p.Stats()
	if stats.Delivered != 2 {
		t.Errorf("delivered depth = %d, want keep count 2", stats.Delivered)
	}
	if stats.FramesDropped != 1 {
		t.Errorf("frames dropped = %d, want 1", stats.FramesDropped)
	}

	// The dropped frame went straight back to the source
	if src.stream.enqueuedCount() == 0 {
		t.Error("dropped frame was not re-enqueued")
	}

	frame, err := p.LatestFrame()
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	if frame.Sequence() != 3 {
		t.Errorf("frame sequence = %d, want newest (3)", frame.Sequence())
	}
}

func TestReturnedFramesRecycledBeforeDropping(t *testing.T) {
	src := newMockSource()
	p := startProvider(t, src, 3, 4)

	if err := src.stream.fill(1); err != nil {
		t.Fatal(err)
	}
	if err := src.stream.fill(2); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "two delivered frames", func() bool { return p.Stats().Delivered == 2 })

	frame, err := p.LatestFrame()
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	p.ReturnFrame(frame)
	waitFor(t, "processed frame", func() bool { return p.Stats().Processed == 1 })

	if err := src.stream.fill(3); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "third fetch", func() bool { return p.Stats().FramesDelivered == 3 })

	stats := p.Stats()
	if stats.Processed != 0 {
		t.Errorf("processed depth = %d, want 0 after recycling", stats.Processed)
	}
	if stats.FramesDropped != 0 {
		t.Errorf("frames dropped = %d, want 0 while processed buffers exist", stats.FramesDropped)
	}
}

func TestLatestFrameBlocksUntilDelivery(t *testing.T) {
	src := newMockSource()
	p := startProvider(t, src, 2, 4)

	type result struct {
		frame capture.Buffer
		err   error
	}
	got := make(chan result, 1)
	go func() {
		frame, err := p.LatestFrame()
		got <- result{frame, err}
	}()

	select {
	case r := <-got:
		t.Fatalf("LatestFrame returned early: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	if err := src.stream.fill(7); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("LatestFrame failed: %v", r.err)
		}
		if r.frame.Sequence() != 7 {
			t.Errorf("frame sequence = %d, want 7", r.frame.Sequence())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("LatestFrame did not wake after delivery")
	}
}

func TestCloseUnblocksLatestFrame(t *testing.T) {
	src := newMockSource()
	p := startProvider(t, src, 2, 4)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.LatestFrame()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("LatestFrame error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("LatestFrame still blocked after Close")
	}
}

func TestCloseReleasesEveryPoolBuffer(t *testing.T) {
	src := newMockSource()
	p := startProvider(t, src, 2, 4)

	// Spread buffers across all queues: one held by the consumer,
	// one returned, rest at the source or delivered
	if err := src.stream.fill(1); err != nil {
		t.Fatal(err)
	}
	if err := src.stream.fill(2); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "two delivered frames", func() bool { return p.Stats().Delivered == 2 })

	held, err := p.LatestFrame()
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	returned, err := p.LatestFrame()
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	p.ReturnFrame(returned)
	_ = held // never returned before Close

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := src.stream.releasedCount(); got != 4 {
		t.Errorf("released = %d, want the full pool of 4", got)
	}
	if !src.stream.closed {
		t.Error("stream was not closed")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	src := newMockSource()
	p := startProvider(t, src, 2, 4)

	if err := p.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if got := src.stream.releasedCount(); got != 4 {
		t.Errorf("released = %d after double Close, want 4", got)
	}
}

func TestStartErrorsWhenRunningOrClosed(t *testing.T) {
	src := newMockSource()
	p := startProvider(t, src, 2, 4)

	if err := p.Start(); err == nil {
		t.Error("second Start succeeded, want error while running")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestStopWaitsForFetchExit(t *testing.T) {
	src := newMockSource()
	p := startProvider(t, src, 2, 4)

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop() }()

	// The fetch goroutine is blocked in Dequeue; one more frame lets
	// it observe the shutdown flag
	time.Sleep(10 * time.Millisecond)
	if err := src.stream.fill(1); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after fetch loop unblocked")
	}

	// A stopped provider can resume fetching
	if err := p.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
}

func TestFetchToleratesTransientErrors(t *testing.T) {
	src := newMockSource()
	p := startProvider(t, src, 2, 4)

	src.stream.dequeueErrs <- errors.New("transient timeout")
	src.stream.dequeueErrs <- errors.New("transient timeout")
	waitFor(t, "fetch errors counted", func() bool { return p.Stats().FetchErrors == 2 })

	// The loop keeps going and still delivers the next good frame
	if err := src.stream.fill(9); err != nil {
		t.Fatal(err)
	}

	frame, err := p.LatestFrame()
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	if frame.Sequence() != 9 {
		t.Errorf("frame sequence = %d, want 9", frame.Sequence())
	}
}

func TestFetchPublishesErrorAndRecoveryEvents(t *testing.T) {
	bus := events.New()
	errCh := make(chan events.CaptureErrorEvent, 4)
	recCh := make(chan events.SourceRecoveredEvent, 1)
	defer bus.Subscribe(func(e events.CaptureErrorEvent) { errCh <- e })()
	defer bus.Subscribe(func(e events.SourceRecoveredEvent) { recCh <- e })()

	src := newMockSource()
	p, err := New(src, Config{Width: 640, Height: 480, KeepCount: 2, PoolSize: 4, Bus: bus}, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	src.stream.dequeueErrs <- errors.New("transient timeout")
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no capture error event published")
	}

	if err := src.stream.fill(1); err != nil {
		t.Fatal(err)
	}
	select {
	case rec := <-recCh:
		if rec.Failures != 1 {
			t.Errorf("recovery failures = %d, want 1", rec.Failures)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no source recovered event published")
	}
}
