package connectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
)

// GoexTickerSource fetches public market data through the goex binance
// client. It is the fallback TickerSource when the websocket feed has no
// fresh price for a symbol.
type GoexTickerSource struct {
	exchange goex.API
}

func NewGoexTickerSource() *GoexTickerSource {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return &GoexTickerSource{exchange: binance.NewWithConfig(apiConfig)}
}

// parsePair splits a "BASE/QUOTE" symbol into a goex currency pair.
func parsePair(symbol string) (goex.CurrencyPair, error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return goex.CurrencyPair{}, fmt.Errorf("symbol %q is not in BASE/QUOTE form", symbol)
	}
	return goex.NewCurrencyPair(goex.Currency{Symbol: parts[0]}, goex.Currency{Symbol: parts[1]}), nil
}

func (s *GoexTickerSource) GetTicker(_ context.Context, symbol string) (*Ticker, error) {
	pair, err := parsePair(symbol)
	if err != nil {
		return nil, err
	}

	ticker, err := s.exchange.GetTicker(pair)
	if err != nil {
		return nil, fmt.Errorf("goex ticker for %s: %w", symbol, err)
	}

	return &Ticker{
		Symbol: symbol,
		Last:   decimal.NewFromFloat(ticker.Last),
		Bid:    decimal.NewFromFloat(ticker.Buy),
		Ask:    decimal.NewFromFloat(ticker.Sell),
		At:     time.Now().UTC(),
	}, nil
}

// FallbackTickerSource tries sources in order and returns the first ticker.
type FallbackTickerSource struct {
	sources []TickerSource
}

func NewFallbackTickerSource(sources ...TickerSource) *FallbackTickerSource {
	return &FallbackTickerSource{sources: sources}
}

func (s *FallbackTickerSource) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var lastErr error
	for _, src := range s.sources {
		ticker, err := src.GetTicker(ctx, symbol)
		if err == nil {
			return ticker, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no ticker sources configured")
	}
	return nil, lastErr
}
