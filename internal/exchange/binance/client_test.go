package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spot-connect/internal/core"
	"spot-connect/internal/market"
	"spot-connect/internal/transport"
)

const exchangeInfoBody = `{"timezone":"UTC","symbols":[
{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","isSpotTradingAllowed":true,
 "filters":[{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000.00","tickSize":"0.01"},
            {"filterType":"LOT_SIZE","minQty":"0.00001","maxQty":"9000.00000000","stepSize":"0.00001"},
            {"filterType":"NOTIONAL","minNotional":"5.00000000","applyMinToMarket":true}]},
{"symbol":"ETHUSDT","status":"TRADING","baseAsset":"ETH","quoteAsset":"USDT","isSpotTradingAllowed":true,
 "filters":[{"filterType":"LOT_SIZE","minQty":"0.0001","maxQty":"9000","stepSize":"0.0001"}]},
{"symbol":"OLDUSDT","status":"BREAK","baseAsset":"OLD","quoteAsset":"USDT","isSpotTradingAllowed":true,"filters":[]}
]}`

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, handler http.Handler, creds core.Credentials) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	httpClient := transport.New(transport.Options{
		Venue: Name,
		Retry: transport.RetryPolicy{Sleep: noSleep},
	})
	c, err := New(Options{
		BaseURL:     srv.URL,
		Credentials: creds,
		RecvWindow:  5 * time.Second,
		Deps: market.Deps{
			HTTP: httpClient,
			FallbackFees: core.FeeSchedule{
				MakerRate: decimal.RequireFromString("0.001"),
				TakerRate: decimal.RequireFromString("0.001"),
			},
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

var testCreds = core.Credentials{APIKey: "key", APISecret: "secret"}

func verifySignature(t *testing.T, payload string) {
	t.Helper()
	idx := strings.LastIndex(payload, "&signature=")
	if idx < 0 {
		t.Errorf("payload %q has no signature", payload)
		return
	}
	mac := hmac.New(sha256.New, []byte(testCreds.APISecret))
	mac.Write([]byte(payload[:idx]))
	if want := hex.EncodeToString(mac.Sum(nil)); payload[idx+len("&signature="):] != want {
		t.Errorf("signature = %s, want %s", payload[idx+len("&signature="):], want)
	}
	if !strings.Contains(payload, "recvWindow=5000") || !strings.Contains(payload, "timestamp=") {
		t.Errorf("payload %q missing timestamp or recvWindow", payload)
	}
}

func klineRow(ts time.Time, close int) string {
	return fmt.Sprintf(`[%d,"1","2","0.5","%d","10",%d,"0",1,"0","0","0"]`, ts.UnixMilli(), close, ts.Add(time.Minute).UnixMilli()-1)
}

func TestGetCandlesPagesOverlapAndDeduplicates(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2499 * time.Minute)
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "1m" || q.Get("limit") != "1000" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		from, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		to, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
		// each page repeats the row before the window and stops one short
		// of it so that pages overlap by one
		first := time.UnixMilli(from).UTC().Add(-time.Minute)
		last := time.UnixMilli(to).UTC()
		if limitEnd := first.Add(999 * time.Minute); limitEnd.Before(last) {
			last = limitEnd
		}
		rows := []string{}
		for ts := first; !ts.After(last); ts = ts.Add(time.Minute) {
			rows = append(rows, klineRow(ts, 100))
		}
		io.WriteString(w, "["+strings.Join(rows, ",")+"]")
	}), core.Credentials{})

	got, err := c.GetCandles(context.Background(), "BTC/USDT", 1, start, end)
	if err != nil {
		t.Fatalf("GetCandles() error = %v", err)
	}
	if len(got) != 2500 {
		t.Fatalf("GetCandles() len = %d, want 2500", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Time.After(got[i-1].Time) {
			t.Fatalf("candle %d at %s not after %s", i, got[i].Time, got[i-1].Time)
		}
	}
	if !got[0].Time.Equal(start) || !got[len(got)-1].Time.Equal(end) {
		t.Fatalf("range = [%s, %s], want [%s, %s]", got[0].Time, got[len(got)-1].Time, start, end)
	}
	if calls.Load() != 3 {
		t.Fatalf("kline requests = %d, want 3", calls.Load())
	}
}

func TestGetCandlesRejectsUnsupportedGranularity(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler(), core.Credentials{})
	_, err := c.GetCandles(context.Background(), "BTC/USDT", 7, time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, core.ErrUnsupportedGranularity) {
		t.Fatalf("GetCandles() error = %v, want ErrUnsupportedGranularity", err)
	}
}

func TestGetSymbolConstraintsCachesExchangeInfo(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, exchangeInfoBody)
	}), core.Credentials{})

	ctx := context.Background()
	first, err := c.GetSymbolConstraints(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("GetSymbolConstraints() error = %v", err)
	}
	if _, err := c.GetSymbolConstraints(ctx, "ETH/USDT"); err != nil {
		t.Fatalf("GetSymbolConstraints(ETH) error = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("exchangeInfo requests = %d, want 1", calls.Load())
	}
	if !first.StepSize.Equal(decimal.RequireFromString("0.00001")) ||
		!first.PriceTickSize.Equal(decimal.RequireFromString("0.01")) ||
		!first.MinNotional.Equal(decimal.RequireFromString("5")) ||
		!first.MaxQty.Equal(decimal.RequireFromString("9000")) {
		t.Fatalf("constraints = %+v", first)
	}
	if _, err := c.GetSymbolConstraints(ctx, "OLD/USDT"); !errors.Is(err, core.ErrUnknownProduct) {
		t.Fatalf("GetSymbolConstraints(OLD) error = %v, want ErrUnknownProduct", err)
	}
}

func TestListProductsMarksInactive(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, exchangeInfoBody)
	}), core.Credentials{})
	products, err := c.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("ListProducts() len = %d, want 3", len(products))
	}
	if products[0].ID != "BTC/USDT" || !products[0].Active || products[2].Active {
		t.Fatalf("ListProducts() = %+v", products)
	}
}

func TestPlaceOrderThenCancelUsesCachedSymbol(t *testing.T) {
	var cancels atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/exchangeInfo":
			io.WriteString(w, exchangeInfoBody)
		case r.URL.Path == "/api/v3/order" && r.Method == http.MethodPost:
			if r.Header.Get("X-MBX-APIKEY") != "key" {
				t.Errorf("X-MBX-APIKEY = %q", r.Header.Get("X-MBX-APIKEY"))
			}
			raw, _ := io.ReadAll(r.Body)
			verifySignature(t, string(raw))
			form, _ := url.ParseQuery(string(raw))
			if form.Get("quantity") != "0.00123" || form.Get("price") != "50000.12" || form.Get("timeInForce") != "GTC" {
				t.Errorf("order form = %v", form)
			}
			if form.Get("newClientOrderId") == "" {
				t.Errorf("newClientOrderId missing")
			}
			io.WriteString(w, `{"symbol":"BTCUSDT","orderId":42,"status":"FILLED","executedQty":"0.00123","cummulativeQuoteQty":"61.5","fills":[]}`)
		case r.URL.Path == "/api/v3/order" && r.Method == http.MethodDelete:
			cancels.Add(1)
			verifySignature(t, r.URL.RawQuery)
			if r.URL.Query().Get("symbol") != "BTCUSDT" || r.URL.Query().Get("orderId") != "42" {
				t.Errorf("cancel query = %s", r.URL.RawQuery)
			}
			io.WriteString(w, `{"symbol":"BTCUSDT","orderId":42,"status":"CANCELED"}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}), testCreds)

	ctx := context.Background()
	res, err := c.PlaceOrder(ctx, core.OrderRequest{
		ProductID: "BTC/USDT",
		Side:      core.Buy,
		Type:      core.Limit,
		Quantity:  decimal.RequireFromString("0.001234"),
		Price:     decimal.RequireFromString("50000.123"),
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if !res.Accepted || !res.Filled || res.OrderID != "42" {
		t.Fatalf("PlaceOrder() = %+v", res)
	}
	if !res.AvgFillPrice.Equal(decimal.RequireFromString("50000")) {
		t.Fatalf("AvgFillPrice = %s, want 50000", res.AvgFillPrice)
	}
	if sym, ok := c.deps.Orders.Get("42"); !ok || sym != "BTCUSDT" {
		t.Fatalf("order symbol = %q/%v, want BTCUSDT", sym, ok)
	}

	cres, err := c.CancelOrder(ctx, "42")
	if err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if !cres.Canceled || cres.Status != "CANCELED" {
		t.Fatalf("CancelOrder() = %+v", cres)
	}
	if c.deps.Orders.Len() != 0 {
		t.Fatalf("order map len = %d, want 0 after cancel", c.deps.Orders.Len())
	}
	if cancels.Load() != 1 {
		t.Fatalf("cancel requests = %d, want 1", cancels.Load())
	}
}

func TestPlaceOrderValidatesBeforeIO(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}), testCreds)
	_, err := c.PlaceOrder(context.Background(), core.OrderRequest{ProductID: "BTC/USDT", Side: core.Buy, Type: core.Limit, Quantity: decimal.NewFromInt(1)})
	if !errors.Is(err, core.ErrInvalidOrder) {
		t.Fatalf("PlaceOrder() error = %v, want ErrInvalidOrder", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("requests = %d, want 0", calls.Load())
	}
}

func TestPlaceOrderClassifiesAPIError(t *testing.T) {
	var posts atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/exchangeInfo" {
			io.WriteString(w, exchangeInfoBody)
			return
		}
		posts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`)
	}), testCreds)

	_, err := c.PlaceOrder(context.Background(), core.OrderRequest{
		ProductID: "BTC/USDT",
		Side:      core.Sell,
		Type:      core.Market,
		Quantity:  decimal.RequireFromString("1"),
	})
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("PlaceOrder() error = %v, want ErrInsufficientBalance", err)
	}
	if !IsAPIErrorCode(err, apiCodeNewOrderRejected) {
		t.Fatalf("IsAPIErrorCode(-2010) = false for %v", err)
	}
	var rf *transport.RequestFailed
	if !errors.As(err, &rf) || rf.Status != http.StatusBadRequest {
		t.Fatalf("errors.As(RequestFailed) = %v", err)
	}
	if posts.Load() != 1 {
		t.Fatalf("order requests = %d, want 1", posts.Load())
	}
}

func TestParseHTTPErrorKeepsNonJSON(t *testing.T) {
	rf := &transport.RequestFailed{Venue: Name, Status: http.StatusBadGateway, Body: "bad gateway"}
	err := parseHTTPError(rf)
	if _, ok := AsAPIError(err); ok {
		t.Fatalf("AsAPIError(non-json) = true")
	}
	if !strings.Contains(err.Error(), "http error 502") {
		t.Fatalf("parseHTTPError(non-json) = %v, want http error", err)
	}
	err = parseHTTPError(&transport.RequestFailed{Venue: Name, Status: 400, Body: `{"code":-2011,"msg":"Unknown order sent."}`})
	if !errors.Is(err, core.ErrOrderNotFound) {
		t.Fatalf("parseHTTPError(-2011) = %v, want ErrOrderNotFound", err)
	}
}

func TestCancelOrderScansOpenOrdersOnCacheMiss(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/openOrders":
			if r.URL.Query().Has("symbol") {
				t.Errorf("scan should list every symbol, got %s", r.URL.RawQuery)
			}
			io.WriteString(w, `[{"symbol":"ETHUSDT","orderId":7,"price":"2000","origQty":"1","executedQty":"0","status":"NEW","type":"LIMIT","side":"BUY","time":1700000000000},
			                  {"symbol":"ETHUSDT","orderId":8,"price":"2000","origQty":"1","executedQty":"1","status":"FILLED","type":"LIMIT","side":"BUY","time":1700000000000}]`)
		case r.URL.Path == "/api/v3/order" && r.Method == http.MethodDelete:
			if r.URL.Query().Get("symbol") != "ETHUSDT" {
				t.Errorf("cancel symbol = %q, want ETHUSDT", r.URL.Query().Get("symbol"))
			}
			io.WriteString(w, `{"symbol":"ETHUSDT","orderId":7,"status":"CANCELED"}`)
		default:
			http.NotFound(w, r)
		}
	}), testCreds)

	res, err := c.CancelOrder(context.Background(), "7")
	if err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if !res.Canceled || res.Symbol != "ETHUSDT" {
		t.Fatalf("CancelOrder() = %+v", res)
	}
}

func TestCancelOrderUnknownIDFails(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	}), testCreds)
	res, err := c.CancelOrder(context.Background(), "999")
	if !errors.Is(err, core.ErrOrderNotFound) {
		t.Fatalf("CancelOrder() error = %v, want ErrOrderNotFound", err)
	}
	if res.Canceled {
		t.Fatalf("CancelOrder() canceled = true for unknown id")
	}
}

func TestCancelAllRequiresEveryRowCanceled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/openOrders":
			io.WriteString(w, `[{"symbol":"BTCUSDT","orderId":1,"status":"NEW","side":"BUY","type":"LIMIT","price":"1","origQty":"1"},
			                  {"symbol":"BTCUSDT","orderId":2,"status":"PARTIALLY_FILLED","side":"SELL","type":"LIMIT","price":"1","origQty":"1"}]`)
		case r.Method == http.MethodDelete:
			if r.URL.Query().Get("orderId") == "1" {
				io.WriteString(w, `{"status":"REJECTED"}`)
				return
			}
			io.WriteString(w, `{"status":"NEW"}`)
		default:
			http.NotFound(w, r)
		}
	}), testCreds)

	res, err := c.CancelAllOpenOrders(context.Background(), "BTC/USDT")
	if !errors.Is(err, core.ErrCancelUnconfirmed) {
		t.Fatalf("CancelAllOpenOrders() error = %v, want ErrCancelUnconfirmed", err)
	}
	if res.Success || res.Requested != 2 || res.Canceled != 1 || len(res.Failed) != 1 || res.Failed[0] != "2" {
		t.Fatalf("CancelAllOpenOrders() = %+v", res)
	}
}

func TestGetFeesWorstCase(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r.URL.RawQuery)
		io.WriteString(w, `[{"symbol":"BTCUSDT","makerCommission":"0.0008","takerCommission":"0.0012"},
		                   {"symbol":"ETHUSDT","makerCommission":"0.0010","takerCommission":"0.0009"},
		                   {"symbol":"BNBUSDT","makerCommission":"0.0006","takerCommission":"0.0015"}]`)
	}), testCreds)
	fees, err := c.GetFees(context.Background())
	if err != nil {
		t.Fatalf("GetFees() error = %v", err)
	}
	if !fees.MakerRate.Equal(decimal.RequireFromString("0.0010")) || !fees.TakerRate.Equal(decimal.RequireFromString("0.0015")) {
		t.Fatalf("GetFees() = %+v, want 0.0010/0.0015", fees)
	}
}

func TestGetFeesWithoutCredentialsFallsBack(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}), core.Credentials{})
	fees, err := c.GetFees(context.Background())
	if err != nil {
		t.Fatalf("GetFees() error = %v", err)
	}
	if !fees.TakerRate.Equal(decimal.RequireFromString("0.001")) || !strings.Contains(fees.Notes, "static schedule") {
		t.Fatalf("GetFees() = %+v, want static fallback", fees)
	}
	if calls.Load() != 0 {
		t.Fatalf("requests = %d, want 0", calls.Load())
	}
}

func TestGetTickerFallsBackToLastPrice(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ticker/bookTicker":
			io.WriteString(w, `{"symbol":"BTCUSDT","bidPrice":"0.00","bidQty":"0","askPrice":"0.00","askQty":"0"}`)
		case "/api/v3/ticker/price":
			io.WriteString(w, `{"symbol":"BTCUSDT","price":"101.50"}`)
		}
	}), core.Credentials{})
	tk, err := c.GetTicker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("GetTicker() error = %v", err)
	}
	want := decimal.RequireFromString("101.5")
	if !tk.Last.Equal(want) || !tk.Bid.Equal(want) || !tk.Ask.Equal(want) {
		t.Fatalf("GetTicker() = %+v, want all 101.5", tk)
	}
}

func TestSetCredentialsRejectsHalfPair(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler(), core.Credentials{})
	if err := c.SetCredentials(core.Credentials{APIKey: "only-key"}); !errors.Is(err, core.ErrMissingCredentials) {
		t.Fatalf("SetCredentials() error = %v, want ErrMissingCredentials", err)
	}
	if _, err := c.OpenOrders(context.Background(), "BTC/USDT"); !errors.Is(err, core.ErrMissingCredentials) {
		t.Fatalf("OpenOrders() without credentials error = %v", err)
	}
}
