package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/edgevision/framenode/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time event stream for capture errors, dropped frames, and pipeline state",
		Tags:        []string{"events"},
	}, map[string]any{
		"capture-error":    events.CaptureErrorEvent{},
		"frame-dropped":    events.FrameDroppedEvent{},
		"pipeline-state":   events.PipelineStateEvent{},
		"config-reloaded":  events.ConfigReloadedEvent{},
		"source-recovered": events.SourceRecoveredEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.CaptureErrorEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.FrameDroppedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.PipelineStateEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.ConfigReloadedEvent](s.options.EventBus, eventCh),
			events.SubscribeToChannel[events.SourceRecoveredEvent](s.options.EventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Initial message confirms the connection is live
		if err := send.Data(events.PipelineStateEvent{
			State:     "connected",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
