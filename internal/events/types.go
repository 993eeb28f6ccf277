package events

// Event type constants for kelindar/event.
const (
	TypeCaptureError uint32 = iota + 1
	TypeFrameDropped
	TypePipelineState
	TypeConfigReloaded
	TypeSourceRecovered
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CaptureErrorEvent is published when a source dequeue fails. The
// fetch loop tolerates these; subscribers can use them for alerting.
type CaptureErrorEvent struct {
	Error     string `json:"error" example:"device disconnected" doc:"Detailed error description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Error timestamp"`
}

// Type returns the event type identifier for CaptureErrorEvent.
func (e CaptureErrorEvent) Type() uint32 { return TypeCaptureError }

// FrameDroppedEvent is published when the provider recycles a frame
// the consumer never saw.
type FrameDroppedEvent struct {
	Sequence  uint64 `json:"sequence" example:"1042" doc:"Source sequence number of the dropped frame"`
	Reason    string `json:"reason" example:"consumer behind" doc:"Why the frame was recycled unseen"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Drop timestamp"`
}

// Type returns the event type identifier for FrameDroppedEvent.
func (e FrameDroppedEvent) Type() uint32 { return TypeFrameDropped }

// PipelineStateEvent signals pipeline lifecycle transitions.
type PipelineStateEvent struct {
	State     string `json:"state" example:"running" doc:"New pipeline state: running, stopped, restarting"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Transition timestamp"`
}

// Type returns the event type identifier for PipelineStateEvent.
func (e PipelineStateEvent) Type() uint32 { return TypePipelineState }

// ConfigReloadedEvent is published after a config file change has been
// picked up by the watcher.
type ConfigReloadedEvent struct {
	Path      string `json:"path" example:"framenode.toml" doc:"Config file path"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Reload timestamp"`
}

// Type returns the event type identifier for ConfigReloadedEvent.
func (e ConfigReloadedEvent) Type() uint32 { return TypeConfigReloaded }

// SourceRecoveredEvent is published when the source delivers a frame
// again after one or more dequeue failures.
type SourceRecoveredEvent struct {
	Failures  uint64 `json:"failures" example:"3" doc:"Consecutive dequeue failures before recovery"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Recovery timestamp"`
}

// Type returns the event type identifier for SourceRecoveredEvent.
func (e SourceRecoveredEvent) Type() uint32 { return TypeSourceRecovered }
