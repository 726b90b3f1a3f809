package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// RestClient is the signed REST implementation of ExchangeClient.
type RestClient struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewRestClient(apiKey, apiSecret string, config Config) *RestClient {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.sandbox.kraken.com"
		logger.Warnf("no exchange base URL provided, using default: %s", baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(config.RequestTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &RestClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      httpClient,
	}
}

// signRequest builds the HMAC-SHA256 hex digest over path + query + expiry +
// body, the order the venue verifies them in.
func signRequest(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += fmt.Sprintf("%d", expiry)
	if body != "" {
		base += body
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RestClient) doRequest(ctx context.Context, method, path, query string, body []byte) (*apiResponse, error) {
	expiry := time.Now().Add(1 * time.Minute).Unix()

	sig := signRequest(path, query, string(body), expiry, c.apiSecret)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("x-api-access-token", c.apiKey).
		SetHeader("x-api-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-api-request-signature", sig)

	if query != "" {
		req = req.SetQueryString(query)
	}
	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	raw := resp.Body()

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(raw))
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if parsed.Code != 0 {
		return nil, fmt.Errorf("API error %d: %s", parsed.Code, parsed.Msg)
	}

	return &parsed, nil
}

func (c *RestClient) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/account/balance", "currency=USD", nil)
	if err != nil {
		return decimal.Zero, err
	}

	var parsed struct {
		Available string `json:"available"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return decimal.Zero, err
	}

	balance, err := decimal.NewFromString(parsed.Available)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance %q: %w", parsed.Available, err)
	}
	return balance, nil
}

func (c *RestClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/market/ticker", "symbol="+symbol, nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Symbol string `json:"symbol"`
		Last   string `json:"last"`
		Bid    string `json:"bid"`
		Ask    string `json:"ask"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, err
	}

	last, err := decimal.NewFromString(parsed.Last)
	if err != nil {
		return nil, fmt.Errorf("parse last price %q: %w", parsed.Last, err)
	}
	bid, err := decimal.NewFromString(parsed.Bid)
	if err != nil {
		return nil, fmt.Errorf("parse bid %q: %w", parsed.Bid, err)
	}
	ask, err := decimal.NewFromString(parsed.Ask)
	if err != nil {
		return nil, fmt.Errorf("parse ask %q: %w", parsed.Ask, err)
	}

	return &Ticker{
		Symbol: symbol,
		Last:   last,
		Bid:    bid,
		Ask:    ask,
		At:     time.Now().UTC(),
	}, nil
}

func (c *RestClient) PlaceOrder(ctx context.Context, params OrderParams) (string, error) {
	body := map[string]interface{}{
		"symbol":      params.Symbol,
		"side":        params.Side,
		"ordType":     params.OrderType,
		"orderQty":    params.Quantity.String(),
		"clOrdID":     params.ClientOrderID,
		"timeInForce": params.TimeInForce,
	}
	if params.Price != nil {
		body["price"] = params.Price.String()
	}
	if params.StopPrice != nil {
		body["stopPx"] = params.StopPrice.String()
	}

	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	resp, err := c.doRequest(ctx, "POST", "/v1/orders", "", b)
	if err != nil {
		return "", err
	}

	var parsed struct {
		OrderID string `json:"orderID"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return "", err
	}
	if parsed.OrderID == "" {
		return "", fmt.Errorf("venue returned no order id: %s", string(resp.Data))
	}
	return parsed.OrderID, nil
}

func (c *RestClient) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	_, err := c.doRequest(ctx, "DELETE", "/v1/orders", "orderID="+exchangeOrderID, nil)
	return err
}

func (c *RestClient) GetOpenOrders(ctx context.Context) (map[string]struct{}, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/orders/activeList", "", nil)
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		OrderID string `json:"orderID"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, err
	}

	open := make(map[string]struct{}, len(parsed))
	for _, o := range parsed {
		open[o.OrderID] = struct{}{}
	}
	return open, nil
}
