// Package bridge is the HTTP JSON client for the brokerage bridge: live
// signals, streaming quotes, order submission, portfolio state and bulk
// history downloads.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

// Client talks to the brokerage bridge. Every quote batch it fetches is
// retained in a bounded tick ring for status reporting.
type Client struct {
	baseURL string
	http    *http.Client
	ticks   *TickRing
	log     *zap.SugaredLogger
}

// NewClient builds a bridge client with the given base URL and per-call
// timeout.
func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		ticks:   NewTickRing(0),
		log:     log,
	}
}

// SetTickRingCapacity resizes the quote retention ring. Buffered ticks
// are discarded. Call before the client serves traffic.
func (c *Client) SetTickRingCapacity(capacity int) {
	c.ticks = NewTickRing(capacity)
}

// RecentTicks returns the retained quote history, oldest first.
func (c *Client) RecentTicks() []Tick {
	return c.ticks.Snapshot()
}

// LastTick returns the most recent retained quote.
func (c *Client) LastTick() (Tick, bool) {
	return c.ticks.Latest()
}

// Signal is the bridge's current trading signal.
type Signal struct {
	Direction    string  `json:"direction"`
	Confidence   float64 `json:"confidence"`
	CurrentPrice float64 `json:"current_price"`
	ExitSignal   bool    `json:"exit_signal,omitempty"`
}

// Tick is one streaming quote.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// OrderBookLevel is one price level.
type OrderBookLevel struct {
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
}

// OrderBook is a five-level depth snapshot.
type OrderBook struct {
	Bids []OrderBookLevel `json:"bids"`
	Asks []OrderBookLevel `json:"asks"`
	TS   int64            `json:"ts"`
}

// Portfolio is the account state reported by the bridge.
type Portfolio struct {
	Equity          float64           `json:"equity"`
	AvailableMargin float64           `json:"available_margin"`
	Positions       []json.RawMessage `json:"positions"`
}

// HistoryBar is one OHLCV row from a bulk download.
type HistoryBar struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// orderPayload is the wire format of POST /order. Quantity is serialized
// as a string integer; the bridge rejects numeric quantities.
type orderPayload struct {
	Action   string  `json:"action"`
	Quantity string  `json:"quantity"`
	Price    float64 `json:"price"`
	Symbol   string  `json:"symbol"`
	IsExit   bool    `json:"is_exit"`
}

// GetSignal fetches the current signal.
func (c *Client) GetSignal(ctx context.Context) (Signal, error) {
	var out Signal
	if err := c.getJSON(ctx, "/signal", &out); err != nil {
		return Signal{}, err
	}
	return out, nil
}

// GetQuotes fetches the last n ticks, newest first, and feeds them into
// the retention ring.
func (c *Client) GetQuotes(ctx context.Context, n int) ([]Tick, error) {
	var out []Tick
	path := fmt.Sprintf("/stream/quotes?limit=%d", n)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	// The wire order is newest first; the ring wants oldest first.
	for i := len(out) - 1; i >= 0; i-- {
		c.ticks.Push(out[i])
	}
	return out, nil
}

// GetOrderBook fetches the five-level depth for symbol.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (OrderBook, error) {
	var out OrderBook
	if err := c.getJSON(ctx, "/orderbook/"+symbol, &out); err != nil {
		return OrderBook{}, err
	}
	return out, nil
}

// Subscribe asks the bridge to stream quotes for symbol.
func (c *Client) Subscribe(ctx context.Context, symbol string) error {
	body := map[string]string{"symbol": symbol}
	resp, err := c.postJSON(ctx, "/stream/subscribe", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge: subscribe %s returned %d", symbol, resp.StatusCode)
	}
	return nil
}

// SubmitOrder posts an order. The bridge answers the literal string
// "order_filled" on success; anything else is an error.
func (c *Client) SubmitOrder(ctx context.Context, order market.Order) (market.Fill, error) {
	if err := order.Validate(); err != nil {
		return market.Fill{}, err
	}

	payload := orderPayload{
		Action:   strings.ToUpper(string(order.Side)),
		Quantity: strconv.FormatInt(order.Quantity, 10),
		Price:    order.Price,
		Symbol:   order.Symbol,
		IsExit:   order.IsExit,
	}

	resp, err := c.postJSON(ctx, "/order", payload)
	if err != nil {
		return market.Fill{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return market.Fill{}, fmt.Errorf("bridge: reading order response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return market.Fill{}, fmt.Errorf("bridge: order %s returned %d: %s", order.Ref, resp.StatusCode, raw)
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil && asString == "order_filled" {
		return market.Fill{
			OrderRef:    order.Ref,
			Symbol:      order.Symbol,
			Side:        order.Side,
			FilledQty:   order.Quantity,
			FilledPrice: order.Price,
			Timestamp:   time.Now(),
		}, nil
	}

	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error != "" {
		return market.Fill{}, fmt.Errorf("bridge: order %s rejected: %s", order.Ref, errResp.Error)
	}
	return market.Fill{}, fmt.Errorf("bridge: unexpected order response: %s", raw)
}

// AvailableCash returns the spendable margin from the portfolio endpoint.
func (c *Client) AvailableCash(ctx context.Context) (float64, error) {
	p, err := c.GetPortfolio(ctx)
	if err != nil {
		return 0, err
	}
	return p.AvailableMargin, nil
}

// GetPortfolio fetches the account state.
func (c *Client) GetPortfolio(ctx context.Context) (Portfolio, error) {
	var out Portfolio
	if err := c.getJSON(ctx, "/portfolio", &out); err != nil {
		return Portfolio{}, err
	}
	return out, nil
}

// DownloadBatch fetches historical bars for symbol within [start, end].
func (c *Client) DownloadBatch(ctx context.Context, symbol string, start, end time.Time) ([]HistoryBar, error) {
	body := map[string]string{
		"symbol":     symbol,
		"start_date": start.Format("2006-01-02"),
		"end_date":   end.Format("2006-01-02"),
	}
	resp, err := c.postJSON(ctx, "/data/download-batch", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge: download-batch %s returned %d", symbol, resp.StatusCode)
	}

	var out struct {
		Data []HistoryBar `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("bridge: decoding download-batch response: %w", err)
	}
	return out.Data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("bridge: building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge: GET %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bridge: decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("bridge: encoding %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bridge: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: POST %s: %w", path, err)
	}
	return resp, nil
}
