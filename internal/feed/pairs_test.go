package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestPairsSnapshotPicksDeepestLiquidity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pairs": []map[string]any{
				{
					"pairAddress": "shallow",
					"priceUsd":    "0.10",
					"volume":      map[string]float64{"h24": 100},
					"liquidity":   map[string]float64{"usd": 1_000},
				},
				{
					"pairAddress": "deep",
					"priceUsd":    "0.12",
					"volume":      map[string]float64{"h24": 90_000},
					"liquidity":   map[string]float64{"usd": 250_000},
					"marketCap":   5_000_000.0,
					"priceChange": map[string]float64{"h1": 1.5, "h24": -3.2},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewPairsClient(PairsOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	snap, err := client.Snapshot(context.Background(), "0xtoken")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if snap.Price.String() != "0.12" {
		t.Fatalf("price = %s, want the deepest pair's 0.12", snap.Price)
	}
	if snap.MarketCap == nil || snap.MarketCap.String() != "5000000" {
		t.Fatalf("market cap not mapped: %v", snap.MarketCap)
	}
	if snap.PriceChange1h == nil || snap.PriceChange24h == nil {
		t.Fatal("price changes not mapped")
	}
}

func TestPairsSnapshotNoPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"pairs": []any{}})
	}))
	defer srv.Close()

	client := NewPairsClient(PairsOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	snap, err := client.Snapshot(context.Background(), "0xunknown")
	if err != nil {
		t.Fatalf("空 pairs 不应报错: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot for unknown token, got %+v", snap)
	}
}

func TestPairsSnapshotHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	client := NewPairsClient(PairsOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := client.Snapshot(context.Background(), "0xtoken"); err == nil {
		t.Fatal("HTTP 429 应返回错误")
	}
}

func TestPairsSnapshotFallsBackToFDV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pairs": []map[string]any{
				{
					"priceUsd":  "1.00",
					"volume":    map[string]float64{"h24": 10},
					"liquidity": map[string]float64{"usd": 100},
					"fdv":       777_000.0,
				},
			},
		})
	}))
	defer srv.Close()

	client := NewPairsClient(PairsOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	snap, err := client.Snapshot(context.Background(), "0xtoken")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snap.MarketCap == nil || snap.MarketCap.String() != "777000" {
		t.Fatalf("fdv fallback not applied: %v", snap.MarketCap)
	}
}

func TestStaticFetcherStampsEntity(t *testing.T) {
	static := &Static{}
	snap, err := static.Snapshot(context.Background(), "tok")
	if err != nil {
		t.Fatalf("static snapshot: %v", err)
	}
	if snap.EntityID != "tok" || snap.FetchedAt.IsZero() {
		t.Fatalf("static snapshot not stamped: %+v", snap)
	}
}
