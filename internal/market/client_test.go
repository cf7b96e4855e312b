package market_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"yieldpilot/internal/config"
	"yieldpilot/internal/domain"
	"yieldpilot/internal/market"
)

func newTestClient(t *testing.T, handler http.Handler) *market.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.MarketConfig{
		MinswapURL:    srv.URL + "/minswap",
		SundaeswapURL: srv.URL + "/sundaeswap",
		LiqwidURL:     srv.URL + "/liqwid",
		MinTVL:        100_000,
		MinAPR:        5,
	}
	return market.NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func upstreams() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/minswap/pools", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":"ms1","tokenA":{"symbol":"ADA"},"tokenB":{"symbol":"DJED"},
			 "tvl":2000000000000,"apr":12.5,"volume24h":150000000000,"fees24h":450000000},
			{"id":"ms2","tokenA":{"symbol":"ADA"},"tokenB":{"symbol":"SNEK"},
			 "tvl":30000000000,"apr":180,"volume24h":5000000000,"fees24h":20000000}
		]`))
	})
	mux.HandleFunc("/sundaeswap/pools", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pools":[
			{"poolId":"ss1","assetA":{"ticker":"ADA"},"assetB":{"ticker":"MIN"},
			 "tvl":800000000000,"apr":15.8,"volume24h":60000000000,"fees24h":180000000}
		]}`))
	})
	mux.HandleFunc("/liqwid/v1/markets", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"markets":[
			{"asset":"ADA","supplyApr":8.2,"borrowApr":12.1,"totalSupply":5000000,
			 "totalBorrowed":3000000,"utilizationRate":0.6,"collateralFactor":0.75},
			{"asset":"DJED","supplyApr":2.0,"borrowApr":4.5,"totalSupply":900000,
			 "totalBorrowed":100000,"utilizationRate":0.11,"collateralFactor":0.8}
		]}`))
	})
	return mux
}

func TestMinswapPools(t *testing.T) {
	c := newTestClient(t, upstreams())
	pools, err := c.MinswapPools(context.Background())
	if err != nil {
		t.Fatalf("minswap pools: %v", err)
	}
	if len(pools) != 2 {
		t.Fatalf("got %d pools", len(pools))
	}
	p := pools[0]
	if p.PoolID != "ms1" || p.Protocol != "minswap" || p.TokenB != "DJED" {
		t.Fatalf("pool fields: %+v", p)
	}
	// lovelace converted to ADA
	if p.TVLADA != 2_000_000 || p.Volume24h != 150_000 {
		t.Fatalf("unit conversion: tvl=%v volume=%v", p.TVLADA, p.Volume24h)
	}
}

func TestOpportunitiesAggregatesAndFilters(t *testing.T) {
	c := newTestClient(t, upstreams())
	opps := c.Opportunities(context.Background())

	// ms2 fails the TVL floor (30k ADA), DJED lending fails the APR floor.
	if len(opps) != 3 {
		t.Fatalf("got %d opportunities: %+v", len(opps), opps)
	}
	// sorted by APR descending
	if opps[0].Pair != "ADA/MIN" || opps[1].Pair != "ADA/DJED" || opps[2].Asset != "ADA" {
		t.Fatalf("ordering: %+v", opps)
	}
	if opps[2].Type != "lending" || opps[2].Protocol != "liqwid" {
		t.Fatalf("lending opportunity: %+v", opps[2])
	}
}

func TestOpportunitiesEmptyOnOutage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	opps := c.Opportunities(context.Background())
	if len(opps) != 0 {
		t.Fatalf("expected no opportunities, got %+v", opps)
	}
}

func TestPoolRiskScore(t *testing.T) {
	cases := []struct {
		name string
		pool domain.Pool
		want float64
	}{
		{"deep and calm", domain.Pool{TVLADA: 1_000_000, APR: 10, Volume24h: 100_000}, 0},
		{"thin pool", domain.Pool{TVLADA: 40_000, APR: 10, Volume24h: 100_000}, 30},
		{"apr spike", domain.Pool{TVLADA: 1_000_000, APR: 150, Volume24h: 100_000}, 30},
		{"everything wrong", domain.Pool{TVLADA: 10_000, APR: 200, Volume24h: 1_000}, 80},
	}
	for _, tc := range cases {
		if got := market.PoolRiskScore(tc.pool); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestLendingRiskScore(t *testing.T) {
	safe := domain.LendingMarket{UtilizationRate: 0.6, SupplyAPR: 8, CollateralFactor: 0.75}
	if got := market.LendingRiskScore(safe); got != 0 {
		t.Fatalf("safe market: got %v", got)
	}
	stressed := domain.LendingMarket{UtilizationRate: 0.97, SupplyAPR: 60, CollateralFactor: 0.4}
	if got := market.LendingRiskScore(stressed); got != 90 {
		t.Fatalf("stressed market: got %v, want 90", got)
	}
}

func TestProtocolTVL(t *testing.T) {
	c := newTestClient(t, upstreams())
	tvl, err := c.ProtocolTVL(context.Background(), "minswap")
	if err != nil {
		t.Fatalf("protocol tvl: %v", err)
	}
	if tvl != 2_030_000 {
		t.Fatalf("minswap tvl: got %v, want 2030000", tvl)
	}
	if _, err := c.ProtocolTVL(context.Background(), "atlantis"); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}
