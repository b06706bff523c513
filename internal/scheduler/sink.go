package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/skillscript/internal/engine"
	"github.com/rendis/skillscript/internal/store"
	"github.com/rendis/skillscript/internal/streaming"
)

// eventSink fans task events out to the journal and the live hub. Either
// may be nil. Only journal errors are reported to the caller.
type eventSink struct {
	journal engine.EventAppender
	hub     streaming.EventHub
	logger  *slog.Logger
}

var _ engine.EventAppender = (*eventSink)(nil)

func (s *eventSink) AppendEvent(ctx context.Context, event *store.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var err error
	if s.journal != nil {
		err = s.journal.AppendEvent(ctx, event)
	}
	if s.hub != nil {
		if perr := s.hub.Publish(ctx, streaming.FromStoreEvent(event)); perr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "publish task event",
				slog.String("event_type", event.Type),
				slog.String("error", perr.Error()),
			)
		}
	}
	return err
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
