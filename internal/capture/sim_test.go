package capture

import (
	"errors"
	"testing"
	"time"
)

func openSimStream(t *testing.T, bufferCount int) Stream {
	t.Helper()
	src := NewSimSource(WithFrameInterval(2 * time.Millisecond))
	stream, err := src.OpenStream(StreamConfig{Width: 320, Height: 240, BufferCount: bufferCount})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	t.Cleanup(func() { stream.Close() })
	return stream
}

func TestSimStreamDeliversIncreasingSequences(t *testing.T) {
	stream := openSimStream(t, 4)

	for i := 0; i < 4; i++ {
		buf, err := stream.AllocateBuffer()
		if err != nil {
			t.Fatalf("AllocateBuffer failed: %v", err)
		}
		if len(buf.Data()) != 320*240*2 {
			t.Fatalf("buffer size = %d, want %d", len(buf.Data()), 320*240*2)
		}
		if err := stream.Enqueue(buf); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var last uint64
	for i := 0; i < 3; i++ {
		buf, err := stream.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if buf.Sequence() <= last {
			t.Errorf("sequence %d not greater than previous %d", buf.Sequence(), last)
		}
		last = buf.Sequence()
		if err := stream.Enqueue(buf); err != nil {
			t.Fatalf("re-enqueue failed: %v", err)
		}
	}
}

func TestSimStreamStopUnblocksDequeue(t *testing.T) {
	stream := openSimStream(t, 2)
	// No buffers enqueued, so nothing will ever be filled
	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Dequeue()
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStreamStopped) {
			t.Errorf("Dequeue error = %v, want ErrStreamStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dequeue still blocked after Stop")
	}
}

func TestSimStreamRejectsForeignBuffers(t *testing.T) {
	stream := openSimStream(t, 2)

	if err := stream.Enqueue(foreignBuffer{}); err == nil {
		t.Fatal("expected error enqueueing a foreign buffer")
	}
}

type foreignBuffer struct{}

func (foreignBuffer) Data() []byte         { return nil }
func (foreignBuffer) Sequence() uint64     { return 0 }
func (foreignBuffer) Timestamp() time.Time { return time.Time{} }

func TestSimSourceRejectsZeroSize(t *testing.T) {
	src := NewSimSource()
	if _, err := src.OpenStream(StreamConfig{Width: 0, Height: 480}); err == nil {
		t.Fatal("expected error for zero width")
	}
}

func TestSimSourceResolutionOverride(t *testing.T) {
	src := NewSimSource(WithResolutions([]Resolution{{Width: 100, Height: 100}}))
	res, err := src.Resolutions()
	if err != nil {
		t.Fatalf("Resolutions failed: %v", err)
	}
	if len(res) != 1 || res[0].Width != 100 {
		t.Errorf("resolutions = %v, want the single override", res)
	}
}
