package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const tickerStaleAfter = 30 * time.Second

// TickerFeed keeps a websocket subscription open against the venue and caches
// the last ticker per symbol. GetTicker serves from the cache so hot paths
// never wait on the network.
type TickerFeed struct {
	wsURL   string
	symbols []string

	mu      sync.RWMutex
	tickers map[string]Ticker
}

func NewTickerFeed(wsURL string, symbols []string) *TickerFeed {
	return &TickerFeed{
		wsURL:   wsURL,
		symbols: symbols,
		tickers: make(map[string]Ticker),
	}
}

type wsTickerMessage struct {
	Channel string `json:"channel"`
	Data    []struct {
		Symbol string  `json:"symbol"`
		Last   float64 `json:"last"`
		Bid    float64 `json:"bid"`
		Ask    float64 `json:"ask"`
	} `json:"data"`
}

// Run blocks, dialing and re-dialing the feed until ctx is cancelled.
func (f *TickerFeed) Run(ctx context.Context) {
	for {
		if err := f.consume(ctx); err != nil {
			logger.WithError(err).Warn("ticker feed disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (f *TickerFeed) consume(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout:  15 * time.Second,
		EnableCompression: true,
		Proxy:             http.ProxyFromEnvironment,
	}

	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial failed: %w", err)
	}
	defer conn.Close()

	subscribe := map[string]interface{}{
		"method": "subscribe",
		"params": map[string]interface{}{
			"channel": "ticker",
			"symbol":  f.symbols,
		},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("ws subscribe failed: %w", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ws read failed: %w", err)
		}

		var parsed wsTickerMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			logger.WithError(err).Debug("ticker feed: skipping unparseable frame")
			continue
		}
		if parsed.Channel != "ticker" {
			continue
		}

		f.mu.Lock()
		for _, t := range parsed.Data {
			f.tickers[t.Symbol] = Ticker{
				Symbol: t.Symbol,
				Last:   decimal.NewFromFloat(t.Last),
				Bid:    decimal.NewFromFloat(t.Bid),
				Ask:    decimal.NewFromFloat(t.Ask),
				At:     time.Now().UTC(),
			}
		}
		f.mu.Unlock()
	}
}

// GetTicker returns the cached ticker. It errors when the symbol was never
// seen or the cache entry has gone stale.
func (f *TickerFeed) GetTicker(_ context.Context, symbol string) (*Ticker, error) {
	f.mu.RLock()
	ticker, ok := f.tickers[symbol]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no ticker received yet for %s", symbol)
	}
	if time.Since(ticker.At) > tickerStaleAfter {
		return nil, fmt.Errorf("ticker for %s is stale (last update %s)", symbol, ticker.At.Format(time.RFC3339))
	}
	return &ticker, nil
}
