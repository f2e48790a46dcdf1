package handlers

import (
	"context"
	"time"

	"github.com/RMahshie/plcsweep/internal/events"
	"github.com/RMahshie/plcsweep/pkg/models"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/rs/zerolog/log"
)

// EventSource is the broadcaster the event stream reads from
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
	LastProgress() float64
	Messages() []events.Event
}

// EventTypes maps SSE event names to their payloads
var EventTypes = map[string]any{
	"progress": models.ProgressEvent{},
	"message":  models.MessageEvent{},
}

// EventHandler streams sweep progress and messages
type EventHandler struct {
	source EventSource
}

// NewEventHandler creates a new event handler
func NewEventHandler(source EventSource) *EventHandler {
	return &EventHandler{source: source}
}

// StreamEvents replays the remembered messages and the current progress,
// then forwards live events until the client disconnects
func (h *EventHandler) StreamEvents(ctx context.Context, input *struct{}, send sse.Sender) {
	ch, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	for _, ev := range h.source.Messages() {
		if err := send.Data(toPayload(ev)); err != nil {
			return
		}
	}
	if err := send.Data(models.ProgressEvent{Progress: h.source.LastProgress(), Time: time.Now()}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := send.Data(toPayload(ev)); err != nil {
				log.Debug().Err(err).Msg("Event stream closed")
				return
			}
		}
	}
}

func toPayload(ev events.Event) any {
	if ev.Kind == events.KindProgress {
		return models.ProgressEvent{Progress: ev.Progress, Time: ev.Time}
	}
	return models.MessageEvent{Message: ev.Message, Time: ev.Time}
}
