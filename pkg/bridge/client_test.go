package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/tw-trade-orchestrator/pkg/market"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, zap.NewNop().Sugar())
}

func TestGetSignal(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/signal", r.URL.Path)
		_, _ = w.Write([]byte(`{"direction":"LONG","confidence":0.75,"current_price":22500.0}`))
	}))

	sig, err := c.GetSignal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LONG", sig.Direction)
	assert.Equal(t, 0.75, sig.Confidence)
	assert.Equal(t, 22500.0, sig.CurrentPrice)
}

// The bridge contract requires quantity to be serialized as a string
// integer, never a JSON number.
func TestSubmitOrderQuantityIsStringInteger(t *testing.T) {
	var rawBody map[string]json.RawMessage

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rawBody))
		_, _ = w.Write([]byte(`"order_filled"`))
	}))

	fill, err := c.SubmitOrder(context.Background(), market.Order{
		Ref:      "abc",
		Symbol:   "TXF",
		Side:     market.SideBuy,
		Quantity: 2,
		Price:    22500.0,
		LotType:  market.LotTypeOdd,
	})
	require.NoError(t, err)

	// quantity must be the JSON string "2".
	qty := string(rawBody["quantity"])
	assert.Regexp(t, regexp.MustCompile(`^"[1-9][0-9]*"$`), qty)
	assert.Equal(t, `"2"`, qty)
	assert.Equal(t, `"BUY"`, string(rawBody["action"]))
	assert.Equal(t, `false`, string(rawBody["is_exit"]))

	assert.Equal(t, int64(2), fill.FilledQty)
	assert.Equal(t, 22500.0, fill.FilledPrice)
}

func TestSubmitOrderRejection(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"insufficient margin"}`))
	}))

	_, err := c.SubmitOrder(context.Background(), market.Order{
		Symbol: "TXF", Side: market.SideSell, Quantity: 1, Price: 22500, LotType: market.LotTypeOdd,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient margin")
}

func TestSubmitOrderValidatesFirst(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("invalid order must not reach the bridge")
	}))
	_, err := c.SubmitOrder(context.Background(), market.Order{Symbol: "TXF", Side: market.SideBuy, Quantity: 0})
	assert.Error(t, err)
}

func TestGetPortfolioAndAvailableCash(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/portfolio", r.URL.Path)
		_, _ = w.Write([]byte(`{"equity":1000000,"available_margin":250000,"positions":[]}`))
	}))

	cash, err := c.AvailableCash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250000.0, cash)
}

func TestDownloadBatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/download-batch", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2454.TW", body["symbol"])
		assert.Equal(t, "2024-01-01", body["start_date"])
		assert.Equal(t, "2024-12-31", body["end_date"])
		_, _ = w.Write([]byte(`{"data":[{"timestamp":"2024-01-02T09:00:00","open":1,"high":2,"low":0.5,"close":1.5,"volume":100}]}`))
	}))

	bars, err := c.DownloadBatch(context.Background(), "2454.TW",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 1.5, bars[0].Close)
}

func TestGetQuotesAndOrderBook(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stream/quotes":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`[{"symbol":"2330.TW","price":505,"volume":10,"timestamp":1700000000}]`))
		case "/orderbook/2330.TW":
			_, _ = w.Write([]byte(`{"bids":[{"price":504,"volume":100}],"asks":[{"price":505,"volume":80}],"ts":1700000000}`))
		default:
			http.NotFound(w, r)
		}
	}))

	ticks, err := c.GetQuotes(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, 505.0, ticks[0].Price)

	book, err := c.GetOrderBook(context.Background(), "2330.TW")
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, 504.0, book.Bids[0].Price)
}

func TestGetQuotesFeedsTickRing(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Wire order is newest first.
		_, _ = w.Write([]byte(`[
			{"symbol":"2330.TW","price":507,"volume":30,"timestamp":1700000120},
			{"symbol":"2330.TW","price":506,"volume":20,"timestamp":1700000060},
			{"symbol":"2330.TW","price":505,"volume":10,"timestamp":1700000000}
		]`))
	}))
	c.SetTickRingCapacity(8)

	_, err := c.GetQuotes(context.Background(), 3)
	require.NoError(t, err)

	recent := c.RecentTicks()
	require.Len(t, recent, 3)
	assert.Equal(t, 505.0, recent[0].Price)
	assert.Equal(t, 507.0, recent[2].Price)

	last, ok := c.LastTick()
	require.True(t, ok)
	assert.Equal(t, 507.0, last.Price)
}

func TestServerErrorSurfaces(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	_, err := c.GetSignal(context.Background())
	assert.Error(t, err)
}

func TestTickRingEviction(t *testing.T) {
	r := NewTickRing(3)

	for i := 1; i <= 5; i++ {
		r.Push(Tick{Symbol: "2330.TW", Price: float64(i)})
	}

	assert.Equal(t, 3, r.Len())
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 3.0, snap[0].Price)
	assert.Equal(t, 5.0, snap[2].Price)

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, 5.0, latest.Price)
}

func TestTickRingEmpty(t *testing.T) {
	r := NewTickRing(10)
	_, ok := r.Latest()
	assert.False(t, ok)
	assert.Empty(t, r.Snapshot())
}
