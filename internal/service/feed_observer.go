package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/alanyoungcy/trailrelay/internal/feed"
	"github.com/alanyoungcy/trailrelay/internal/notify"
)

// FeedObserver broadcasts feed state changes and alerts the operator when
// the feed gives up reconnecting.
type FeedObserver struct {
	events  *Events
	timeout time.Duration
	logger  *slog.Logger
}

var (
	_ feed.Observer    = (*FeedObserver)(nil)
	_ feed.TickHandler = (*TrailService)(nil)
	_ SymbolRegistry   = (*feed.Adapter)(nil)
)

// NewFeedObserver creates a FeedObserver.
func NewFeedObserver(events *Events, logger *slog.Logger) *FeedObserver {
	return &FeedObserver{
		events:  events,
		timeout: 5 * time.Second,
		logger:  logger.With(slog.String("component", "feed_observer")),
	}
}

// FeedStateChanged implements feed.Observer.
func (o *FeedObserver) FeedStateChanged(st feed.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	o.events.Publish(ctx, domain.ChannelFeed, st)
	if st.State != feed.StateExhausted {
		return
	}
	o.logger.ErrorContext(ctx, "price feed unavailable",
		slog.Int("attempts", st.Attempts),
		slog.String("last_error", st.LastError),
	)
	o.events.Notify(ctx, notify.EventFeedExhausted, "Price feed unavailable",
		fmt.Sprintf("gave up after %d attempts: %s; %d symbols without live prices", st.Attempts, st.LastError, len(st.Monitored)))
}
