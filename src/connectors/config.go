package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BaseURL        string        `envconfig:"EXCHANGE_BASE_URL" default:"https://api.sandbox.kraken.com"`
	WebsocketURL   string        `envconfig:"EXCHANGE_WS_URL" default:"wss://ws.sandbox.kraken.com/v2"`
	RequestTimeout time.Duration `envconfig:"EXCHANGE_REQUEST_TIMEOUT" default:"30s"`
	TakerFeeRate   float64       `envconfig:"EXCHANGE_TAKER_FEE_RATE" default:"0.001"`

	// Credentials may come straight from the environment or, when
	// CredentialsUser is set, decrypted from the credentials table.
	APIKey          string `envconfig:"EXCHANGE_API_KEY"`
	APISecret       string `envconfig:"EXCHANGE_API_SECRET"`
	CredentialsUser string `envconfig:"EXCHANGE_CREDENTIALS_USER"`

	FeedSymbols []string `envconfig:"EXCHANGE_FEED_SYMBOLS" default:"BTC/USDT,ETH/USDT"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
