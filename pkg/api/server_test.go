package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/quantops/tickrecon/pkg/batch"
	"github.com/quantops/tickrecon/pkg/recon"
	"github.com/quantops/tickrecon/pkg/storage"
)

func boolPtr(b bool) *bool { return &b }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	res := &batch.Result{
		Orders: []recon.OrderRecord{
			{SecurityID: "600519", BizIndex: 100, TickTime: 93000100, OrderID: 1001,
				OrderType: recon.OrderNew, Side: recon.Buy, Price: 50.5, Qty: 1000, IsAggressive: boolPtr(true)},
		},
		Trades: []recon.TradeRecord{
			{SecurityID: "600519", BizIndex: 100, TickTime: 93000100, BidOrderID: 1001,
				AskOrderID: 2001, Price: 50.5, Qty: 1000, TradeMoney: 50500, ActiveSide: recon.ActiveBuy},
		},
		Stats: batch.Stats{Day: "20260126", Securities: 1, Orders: 1, NewOrders: 1, Trades: 1},
	}
	if err := store.SaveDay(res); err != nil {
		t.Fatalf("save day: %v", err)
	}

	ts := httptest.NewServer(NewServer(store, zap.NewNop().Sugar()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, wantStatus int, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]string
	getJSON(t, ts.URL+"/health", http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}

func TestDayStats(t *testing.T) {
	ts := newTestServer(t)

	var stats batch.Stats
	getJSON(t, ts.URL+"/api/v1/days/20260126/stats", http.StatusOK, &stats)
	if stats.Day != "20260126" || stats.Orders != 1 {
		t.Errorf("stats = %+v", stats)
	}

	getJSON(t, ts.URL+"/api/v1/days/20990101/stats", http.StatusNotFound, nil)
}

func TestDayOrders(t *testing.T) {
	ts := newTestServer(t)

	var orders []recon.OrderRecord
	getJSON(t, ts.URL+"/api/v1/days/20260126/orders", http.StatusOK, &orders)
	if len(orders) != 1 || orders[0].OrderID != 1001 {
		t.Errorf("orders = %+v", orders)
	}

	// Unknown security on a known day is an empty list, not a 404.
	orders = nil
	getJSON(t, ts.URL+"/api/v1/days/20260126/orders?security=000001", http.StatusOK, &orders)
	if len(orders) != 0 {
		t.Errorf("orders for unknown security = %+v", orders)
	}
}

func TestDayTrades(t *testing.T) {
	ts := newTestServer(t)

	var trades []recon.TradeRecord
	getJSON(t, ts.URL+"/api/v1/days/20260126/trades?security=600519", http.StatusOK, &trades)
	if len(trades) != 1 || trades[0].ActiveSide != recon.ActiveBuy {
		t.Errorf("trades = %+v", trades)
	}
}
