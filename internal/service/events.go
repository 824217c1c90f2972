package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/trailrelay/internal/domain"
)

// Notifier sends operator alerts for named events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Events fans side effects out to the signal bus, the audit log and the
// notifier. Every collaborator is optional and every failure is logged, never
// returned.
type Events struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	logger   *slog.Logger
}

// NewEvents creates an Events. Any of bus, audit and notifier may be nil.
func NewEvents(bus domain.SignalBus, audit domain.AuditStore, notifier Notifier, logger *slog.Logger) *Events {
	return &Events{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// Publish marshals v and publishes it on channel.
func (e *Events) Publish(ctx context.Context, channel string, v any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		e.logger.WarnContext(ctx, "marshal event failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.logger.WarnContext(ctx, "publish failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

// Append marshals v and appends it to a durable stream.
func (e *Events) Append(ctx context.Context, stream string, v any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		e.logger.WarnContext(ctx, "marshal event failed", slog.String("stream", stream), slog.String("error", err.Error()))
		return
	}
	if err := e.bus.StreamAppend(ctx, stream, payload); err != nil {
		e.logger.WarnContext(ctx, "stream append failed", slog.String("stream", stream), slog.String("error", err.Error()))
	}
}

// Audit writes an audit row.
func (e *Events) Audit(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// Notify alerts the operator.
func (e *Events) Notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notify failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
