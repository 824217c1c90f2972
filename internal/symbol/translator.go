// Package symbol maps internal tickers onto the symbols used by the price
// feed and back.
package symbol

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	// MNQU2025: root, month code, four digit year.
	tickerFutures = regexp.MustCompile(`^([A-Z0-9]{1,5})([FGHJKMNQUVXZ])20(\d{2})$`)
	// MNQU25: root, month code, two digit year.
	feedFutures = regexp.MustCompile(`^([A-Z0-9]{1,5})([FGHJKMNQUVXZ])(\d{2})$`)
)

// Options configures a Translator.
type Options struct {
	// Aliases maps ticker -> feed symbol, e.g. BTCUSD -> X:BTCUSD.
	Aliases map[string]string
	// Futures enables the ROOT+M+YYYY <-> ROOT+M+YY contract code scheme.
	Futures bool
}

// Translator converts between tickers and feed symbols. It is safe for
// concurrent use.
type Translator struct {
	toFeed   map[string]string
	toTicker map[string]string
	futures  bool
	logger   *slog.Logger
	warned   sync.Map
	// passed holds tickers ToFeedSymbol returned unchanged so ToTicker
	// does not rewrite them as contract codes.
	passed sync.Map
}

// NewTranslator validates that the alias table is a bijection.
func NewTranslator(opts Options, logger *slog.Logger) (*Translator, error) {
	t := &Translator{
		toFeed:   make(map[string]string, len(opts.Aliases)),
		toTicker: make(map[string]string, len(opts.Aliases)),
		futures:  opts.Futures,
		logger:   logger.With(slog.String("component", "symbol_translator")),
	}

	tickers := make([]string, 0, len(opts.Aliases))
	for ticker := range opts.Aliases {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		feed := strings.TrimSpace(opts.Aliases[ticker])
		ticker = strings.TrimSpace(ticker)
		if ticker == "" || feed == "" {
			return nil, fmt.Errorf("symbol: empty alias %q -> %q", ticker, feed)
		}
		if _, dup := t.toFeed[ticker]; dup {
			return nil, fmt.Errorf("symbol: ticker %q aliased twice", ticker)
		}
		if prev, dup := t.toTicker[feed]; dup {
			return nil, fmt.Errorf("symbol: feed symbol %q claimed by %q and %q", feed, prev, ticker)
		}
		t.toFeed[ticker] = feed
		t.toTicker[feed] = ticker
	}
	return t, nil
}

// ToFeedSymbol returns the symbol the feed expects for ticker.
func (t *Translator) ToFeedSymbol(ticker string) string {
	if feed, ok := t.toFeed[ticker]; ok {
		return feed
	}
	if t.futures {
		if m := tickerFutures.FindStringSubmatch(ticker); m != nil {
			return m[1] + m[2] + m[3]
		}
	}
	t.passed.Store(ticker, struct{}{})
	t.warnUnknown(ticker)
	return ticker
}

// ToTicker returns the ticker for a symbol received from the feed. A symbol
// earlier passed through by ToFeedSymbol comes back unchanged.
func (t *Translator) ToTicker(feedSymbol string) string {
	if ticker, ok := t.toTicker[feedSymbol]; ok {
		return ticker
	}
	if _, ok := t.passed.Load(feedSymbol); ok {
		return feedSymbol
	}
	if t.futures {
		if m := feedFutures.FindStringSubmatch(feedSymbol); m != nil {
			return m[1] + m[2] + "20" + m[3]
		}
	}
	t.warnUnknown(feedSymbol)
	return feedSymbol
}

func (t *Translator) warnUnknown(s string) {
	if _, seen := t.warned.LoadOrStore(s, struct{}{}); seen {
		return
	}
	t.logger.Warn("no symbol mapping, passing through", slog.String("symbol", s))
}
