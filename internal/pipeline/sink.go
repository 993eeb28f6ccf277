package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edgevision/framenode/internal/capture"
)

// DiscardSink drops frames. Used by the daemon when no processing is
// configured, keeping the pool circulating for snapshot and metrics.
type DiscardSink struct{}

// Process implements Sink.
func (DiscardSink) Process(context.Context, capture.Buffer) error { return nil }

// FuncSink adapts a function to the Sink interface.
type FuncSink func(ctx context.Context, frame capture.Buffer) error

// Process implements Sink.
func (f FuncSink) Process(ctx context.Context, frame capture.Buffer) error {
	return f(ctx, frame)
}

// FileSink writes raw frame payloads to numbered files in a directory.
type FileSink struct {
	// Dir receives the frame files. Created if missing.
	Dir string

	// MaxFrames, when > 0, stops writing after that many frames;
	// later frames are silently dropped.
	MaxFrames int

	written int
}

// NewFileSink creates the output directory and returns the sink.
func NewFileSink(dir string, maxFrames int) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create output dir: %w", err)
	}
	return &FileSink{Dir: dir, MaxFrames: maxFrames}, nil
}

// Written returns how many frames have been written so far.
func (s *FileSink) Written() int { return s.written }

// Process implements Sink.
func (s *FileSink) Process(_ context.Context, frame capture.Buffer) error {
	if s.MaxFrames > 0 && s.written >= s.MaxFrames {
		return nil
	}
	name := filepath.Join(s.Dir, fmt.Sprintf("frame_%06d.raw", frame.Sequence()))
	if err := os.WriteFile(name, frame.Data(), 0o644); err != nil {
		return fmt.Errorf("pipeline: write frame: %w", err)
	}
	s.written++
	return nil
}
