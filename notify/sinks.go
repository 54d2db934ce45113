package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/warp/costledger/core"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, e Event) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("event",
		"event", e.Type,
		"event_id", e.ID,
		"entity_type", e.EntityType,
		"entity_id", e.EntityID,
		"recipients", len(e.Recipients),
		"message", e.Message,
	)
	return nil
}

// StoreSink persists one notification per recipient.
type StoreSink struct {
	Store core.NotificationStore
}

func (s StoreSink) Name() string { return "store" }

// Deliver is safe to retry: notification ids derive from the event id,
// so a row written by an earlier attempt is skipped as a duplicate.
func (s StoreSink) Deliver(ctx context.Context, e Event) error {
	for _, r := range e.Recipients {
		n := core.Notification{
			ID:          fmt.Sprintf("%s:%s", e.ID, r),
			RecipientID: r,
			Event:       string(e.Type),
			Message:     e.Message,
			EntityType:  e.EntityType,
			EntityID:    e.EntityID,
			CreatedAt:   e.OccurredAt,
		}
		if err := s.Store.InsertNotification(ctx, n); err != nil && !errors.Is(err, core.ErrDuplicate) {
			return err
		}
	}
	return nil
}
