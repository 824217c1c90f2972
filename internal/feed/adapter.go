// Package feed streams trade prints from the market data websocket and hands
// the ones for monitored tickers to the auto-trail path.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	defaultWriteWait        = 10 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultHandshakeTimeout = 15 * time.Second

	// authFrameLimit bounds how many status frames are read while waiting
	// for the auth verdict.
	authFrameLimit = 5

	tradeChannel = "T."
)

// TickHandler receives every tick for a monitored ticker, in arrival order.
type TickHandler interface {
	HandleTick(ctx context.Context, tick domain.PriceTick) (domain.TickResult, error)
}

// Translator maps tickers onto feed symbols and back.
type Translator interface {
	ToFeedSymbol(ticker string) string
	ToTicker(feedSymbol string) string
}

// Observer is told about every state transition.
type Observer interface {
	FeedStateChanged(st Status)
}

// Config configures an Adapter.
type Config struct {
	URL              string
	APIKey           string
	Backoff          Backoff
	HistorySize      int
	HandshakeTimeout time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = DefaultBackoff()
	}
}

// command is an outbound control message.
type command struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

// Adapter owns the websocket session and the monitored-symbol set.
type Adapter struct {
	cfg        Config
	translator Translator
	history    *History
	logger     *slog.Logger

	mu          sync.RWMutex
	monitored   map[string]struct{}
	conn        *websocket.Conn
	state       State
	attempts    int
	lastErr     error
	lastTickAt  time.Time
	connectedAt time.Time
	handler     TickHandler
	observer    Observer

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// NewAdapter creates an Adapter. A handler must be attached with SetHandler
// before ticks are forwarded.
func NewAdapter(cfg Config, translator Translator, logger *slog.Logger) *Adapter {
	cfg.applyDefaults()
	return &Adapter{
		cfg:        cfg,
		translator: translator,
		history:    NewHistory(cfg.HistorySize),
		logger:     logger.With(slog.String("component", "feed")),
		monitored:  make(map[string]struct{}),
		done:       make(chan struct{}),
	}
}

// SetHandler attaches the tick consumer.
func (a *Adapter) SetHandler(h TickHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

// SetObserver attaches a state-change listener.
func (a *Adapter) SetObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = o
}

// History exposes the per-symbol tick history.
func (a *Adapter) History() *History {
	return a.history
}

// Run keeps a session open until ctx is cancelled, Close is called or the
// reconnect budget is spent. In the last case it returns ErrFeedExhausted.
func (a *Adapter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
			return nil
		default:
		}

		err := a.session(ctx)
		if ctx.Err() != nil {
			a.transition(StateDisconnected, nil)
			return ctx.Err()
		}
		if a.isClosed() {
			a.transition(StateDisconnected, nil)
			return nil
		}

		a.mu.Lock()
		a.attempts++
		failures := a.attempts
		a.mu.Unlock()

		if a.cfg.Backoff.Exhausted(failures) {
			exhausted := fmt.Errorf("feed: %w after %d attempts: %w", domain.ErrFeedExhausted, failures, err)
			a.logger.ErrorContext(ctx, "giving up on price feed",
				slog.Int("attempts", failures),
				slog.String("error", exhausted.Error()),
			)
			a.transition(StateExhausted, exhausted)
			return exhausted
		}

		delay := a.cfg.Backoff.Delay(failures)
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrFeedAuthFailed) {
			level = slog.LevelError
		}
		a.logger.Log(ctx, level, "price feed disconnected, reconnecting",
			slog.Int("attempt", failures),
			slog.Duration("delay", delay),
			slog.String("error", errString(err)),
		)
		a.transition(StateDisconnected, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-a.done:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection from dial to disconnect.
func (a *Adapter) session(ctx context.Context) error {
	a.transition(StateConnecting, nil)

	dialer := websocket.Dialer{HandshakeTimeout: a.cfg.HandshakeTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.HandshakeTimeout)
	conn, _, err := dialer.DialContext(dialCtx, a.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial: %w: %w", domain.ErrFeedTransport, err)
	}
	defer conn.Close()

	a.transition(StateAuthenticating, nil)
	if err := a.authenticate(conn); err != nil {
		return err
	}

	if err := a.subscribeAll(conn); err != nil {
		return err
	}
	defer a.detach(conn)

	conn.SetReadDeadline(time.Now().Add(a.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(a.cfg.PongWait))
	})

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go a.pingLoop(ctx, conn, sessionDone)

	return a.readLoop(ctx, conn)
}

// authenticate sends the key and waits for auth_success.
func (a *Adapter) authenticate(conn *websocket.Conn) error {
	if err := a.write(conn, command{Action: "auth", Params: a.cfg.APIKey}); err != nil {
		return fmt.Errorf("feed: send auth: %w: %w", domain.ErrFeedTransport, err)
	}

	conn.SetReadDeadline(time.Now().Add(a.cfg.HandshakeTimeout))
	for i := 0; i < authFrameLimit; i++ {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: await auth: %w: %w", domain.ErrFeedTransport, err)
		}

		var events []struct {
			Ev      string `json:"ev"`
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &events); err != nil {
			return fmt.Errorf("feed: %w: unexpected auth reply %q", domain.ErrFeedAuthFailed, truncate(raw))
		}
		for _, ev := range events {
			switch ev.Status {
			case "auth_success":
				return nil
			case "auth_failed":
				return fmt.Errorf("feed: %w: %s", domain.ErrFeedAuthFailed, ev.Message)
			case "connected", "auth_timeout":
				// keep waiting; auth_timeout is followed by a close
			default:
				return fmt.Errorf("feed: %w: unexpected status %q", domain.ErrFeedAuthFailed, ev.Status)
			}
		}
	}
	return fmt.Errorf("feed: %w: no auth verdict after %d frames", domain.ErrFeedAuthFailed, authFrameLimit)
}

// subscribeAll subscribes the whole monitored set and publishes the
// connection. The set is snapshotted under the same lock AddSymbol takes, so
// no symbol added concurrently is missed.
func (a *Adapter) subscribeAll(conn *websocket.Conn) error {
	a.mu.Lock()
	symbols := a.feedSymbolsLocked()
	if len(symbols) > 0 {
		if err := a.write(conn, command{Action: "subscribe", Params: channelList(symbols)}); err != nil {
			a.mu.Unlock()
			return fmt.Errorf("feed: subscribe: %w: %w", domain.ErrFeedTransport, err)
		}
	}
	a.conn = conn
	a.state = StateSubscribed
	a.attempts = 0
	a.lastErr = nil
	a.connectedAt = time.Now()
	st := a.statusLocked()
	obs := a.observer
	a.mu.Unlock()

	a.logger.Info("price feed subscribed", slog.Int("symbols", len(symbols)))
	if obs != nil {
		obs.FeedStateChanged(st)
	}
	return nil
}

func (a *Adapter) detach(conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == conn {
		a.conn = nil
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w: %w", domain.ErrFeedTransport, err)
		}
		a.dispatch(ctx, raw)
	}
}

// pingLoop keeps the connection alive and tears it down when ctx ends so
// that the blocked read returns.
func (a *Adapter) pingLoop(ctx context.Context, conn *websocket.Conn, sessionDone <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-sessionDone:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-a.done:
			conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(a.cfg.WriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// dispatch decodes one frame (a JSON array of events) and forwards trades.
func (a *Adapter) dispatch(ctx context.Context, raw []byte) {
	var events []json.RawMessage
	if err := json.Unmarshal(raw, &events); err != nil {
		a.logger.WarnContext(ctx, "dropping frame",
			slog.String("error", fmt.Errorf("%w: %w", domain.ErrMalformedTick, err).Error()),
			slog.String("frame", truncate(raw)),
		)
		return
	}

	for _, ev := range events {
		tick, ok, err := a.decodeEvent(ev)
		if err != nil {
			a.logger.WarnContext(ctx, "dropping event", slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		if _, _, err := a.process(ctx, tick); err != nil {
			a.logger.ErrorContext(ctx, "tick handler failed",
				slog.String("ticker", tick.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// decodeEvent turns a trade event into a tick. ok is false for events that
// are observed but not forwarded.
func (a *Adapter) decodeEvent(raw json.RawMessage) (domain.PriceTick, bool, error) {
	var envelope struct {
		Ev string `json:"ev"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.PriceTick{}, false, fmt.Errorf("%w: %w", domain.ErrMalformedTick, err)
	}

	switch envelope.Ev {
	case "T":
	case "status":
		var st struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &st)
		a.logger.Debug("feed status", slog.String("status", st.Status), slog.String("message", st.Message))
		return domain.PriceTick{}, false, nil
	default:
		a.logger.Debug("ignoring feed event", slog.String("ev", envelope.Ev))
		return domain.PriceTick{}, false, nil
	}

	var trade struct {
		Sym   string           `json:"sym"`
		Price *decimal.Decimal `json:"p"`
		Time  int64            `json:"t"`
	}
	if err := json.Unmarshal(raw, &trade); err != nil {
		return domain.PriceTick{}, false, fmt.Errorf("%w: %w", domain.ErrMalformedTick, err)
	}
	if trade.Sym == "" || trade.Price == nil || !trade.Price.IsPositive() {
		return domain.PriceTick{}, false, fmt.Errorf("%w: %s", domain.ErrMalformedTick, truncate(raw))
	}

	ts := time.Now()
	if trade.Time > 0 {
		ts = time.UnixMilli(trade.Time)
	}
	return domain.PriceTick{
		Symbol:    a.translator.ToTicker(trade.Sym),
		Price:     *trade.Price,
		Timestamp: ts,
		Source:    "feed",
	}, true, nil
}

// Inject runs an externally sourced tick through the same path as streamed
// ones. monitored is false when the ticker has no live record.
func (a *Adapter) Inject(ctx context.Context, tick domain.PriceTick) (domain.TickResult, bool, error) {
	if tick.Timestamp.IsZero() {
		tick.Timestamp = time.Now()
	}
	return a.process(ctx, tick)
}

func (a *Adapter) process(ctx context.Context, tick domain.PriceTick) (domain.TickResult, bool, error) {
	a.mu.Lock()
	_, monitored := a.monitored[tick.Symbol]
	handler := a.handler
	if monitored {
		a.lastTickAt = tick.Timestamp
		if a.state == StateSubscribed {
			a.state = StateStreaming
		}
	}
	a.mu.Unlock()

	a.history.Record(tick)
	if !monitored {
		a.logger.Debug("tick for unmonitored symbol", slog.String("ticker", tick.Symbol))
		return domain.TickResult{Ticker: tick.Symbol}, false, nil
	}

	if handler == nil {
		return domain.TickResult{Ticker: tick.Symbol}, true, nil
	}
	res, err := handler.HandleTick(ctx, tick)
	return res, true, err
}

// AddSymbol starts monitoring ticker. When a session is live an incremental
// subscribe is sent; otherwise the next session picks it up.
func (a *Adapter) AddSymbol(ticker string) {
	a.mu.Lock()
	if _, ok := a.monitored[ticker]; ok {
		a.mu.Unlock()
		return
	}
	a.monitored[ticker] = struct{}{}
	conn, live := a.conn, a.state.Live()
	a.mu.Unlock()

	a.logger.Info("monitoring symbol", slog.String("ticker", ticker))
	if conn != nil && live {
		sym := a.translator.ToFeedSymbol(ticker)
		if err := a.write(conn, command{Action: "subscribe", Params: tradeChannel + sym}); err != nil {
			a.logger.Warn("incremental subscribe failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
		}
	}
}

// RemoveSymbol stops monitoring ticker and forgets its tick history. Removing
// the last symbol drops a streaming session back to subscribed.
func (a *Adapter) RemoveSymbol(ticker string) {
	a.mu.Lock()
	if _, ok := a.monitored[ticker]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.monitored, ticker)
	if len(a.monitored) == 0 && a.state == StateStreaming {
		a.state = StateSubscribed
	}
	conn, live := a.conn, a.state.Live()
	a.mu.Unlock()

	a.history.Drop(ticker)
	a.logger.Info("stopped monitoring symbol", slog.String("ticker", ticker))
	if conn != nil && live {
		sym := a.translator.ToFeedSymbol(ticker)
		if err := a.write(conn, command{Action: "unsubscribe", Params: tradeChannel + sym}); err != nil {
			a.logger.Warn("incremental unsubscribe failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
		}
	}
}

// IsMonitored reports whether ticker is in the monitored set.
func (a *Adapter) IsMonitored(ticker string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.monitored[ticker]
	return ok
}

// Monitored returns the monitored tickers, sorted.
func (a *Adapter) Monitored() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.monitoredLocked()
}

// Status returns a snapshot of the adapter state.
func (a *Adapter) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.statusLocked()
}

// Close stops Run and closes the transport.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.done) })

	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()
	if conn == nil {
		return nil
	}

	a.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(a.cfg.WriteWait))
	a.writeMu.Unlock()
	return conn.Close()
}

func (a *Adapter) isClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// write sends a JSON text frame; all data writes go through writeMu.
func (a *Adapter) write(conn *websocket.Conn, cmd command) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteWait))
	return conn.WriteJSON(cmd)
}

func (a *Adapter) transition(s State, err error) {
	a.mu.Lock()
	a.state = s
	if err != nil {
		a.lastErr = err
	}
	if s != StateSubscribed && s != StateStreaming {
		a.conn = nil
	}
	st := a.statusLocked()
	obs := a.observer
	a.mu.Unlock()

	if obs != nil {
		obs.FeedStateChanged(st)
	}
}

func (a *Adapter) statusLocked() Status {
	st := Status{
		State:     a.state,
		Monitored: a.monitoredLocked(),
		Attempts:  a.attempts,
	}
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	if !a.lastTickAt.IsZero() {
		t := a.lastTickAt
		st.LastTickAt = &t
	}
	if !a.connectedAt.IsZero() && a.state.Live() {
		t := a.connectedAt
		st.ConnectedAt = &t
	}
	return st
}

func (a *Adapter) monitoredLocked() []string {
	out := make([]string, 0, len(a.monitored))
	for t := range a.monitored {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (a *Adapter) feedSymbolsLocked() []string {
	tickers := a.monitoredLocked()
	out := make([]string, len(tickers))
	for i, t := range tickers {
		out[i] = a.translator.ToFeedSymbol(t)
	}
	return out
}

func channelList(symbols []string) string {
	parts := make([]string, len(symbols))
	for i, s := range symbols {
		parts[i] = tradeChannel + s
	}
	return strings.Join(parts, ",")
}

func truncate(raw []byte) string {
	const limit = 256
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
