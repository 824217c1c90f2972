package symbol

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()
	tr, err := NewTranslator(Options{
		Aliases: map[string]string{
			"BTCUSD": "X:BTCUSD",
			"ETHUSD": "X:ETHUSD",
			"SPX":    "I:SPX",
		},
		Futures: true,
	}, discard())
	require.NoError(t, err)
	return tr
}

func TestTranslator_Futures(t *testing.T) {
	tr := newTestTranslator(t)

	assert.Equal(t, "MNQU25", tr.ToFeedSymbol("MNQU2025"))
	assert.Equal(t, "MNQU2025", tr.ToTicker("MNQU25"))
	assert.Equal(t, "ESZ30", tr.ToFeedSymbol("ESZ2030"))
	assert.Equal(t, "6EH2026", tr.ToTicker("6EH26"))
}

func TestTranslator_RoundTrip(t *testing.T) {
	tr := newTestTranslator(t)

	tickers := []string{"BTCUSD", "ETHUSD", "SPX", "MNQU2025", "ESZ2024", "CLF2027", "GCM2099", "NQH2000", "ESZ25", "AAPL"}
	for _, ticker := range tickers {
		assert.Equal(t, ticker, tr.ToTicker(tr.ToFeedSymbol(ticker)), ticker)
	}
}

func TestTranslator_ShortContractCodeTicker(t *testing.T) {
	tr := newTestTranslator(t)

	assert.Equal(t, "ESZ2025", tr.ToTicker("ESZ25"))
	assert.Equal(t, "ESZ25", tr.ToFeedSymbol("ESZ25"))
	assert.Equal(t, "ESZ25", tr.ToTicker("ESZ25"))
	assert.Equal(t, "MNQU2025", tr.ToTicker("MNQU25"))
}

func TestTranslator_PassThrough(t *testing.T) {
	tr := newTestTranslator(t)

	assert.Equal(t, "AAPL", tr.ToFeedSymbol("AAPL"))
	assert.Equal(t, "AAPL", tr.ToTicker("AAPL"))
	assert.Equal(t, "MNQU1999", tr.ToFeedSymbol("MNQU1999"))
}

func TestTranslator_FuturesDisabled(t *testing.T) {
	tr, err := NewTranslator(Options{}, discard())
	require.NoError(t, err)
	assert.Equal(t, "MNQU2025", tr.ToFeedSymbol("MNQU2025"))
	assert.Equal(t, "MNQU25", tr.ToTicker("MNQU25"))
}

func TestNewTranslator_RejectsNonBijection(t *testing.T) {
	_, err := NewTranslator(Options{Aliases: map[string]string{
		"BTCUSD": "X:BTCUSD",
		"XBTUSD": "X:BTCUSD",
	}}, discard())
	assert.Error(t, err)

	_, err = NewTranslator(Options{Aliases: map[string]string{"BTCUSD": " "}}, discard())
	assert.Error(t, err)
}
