package feed

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

func TestTotalSupplyRequiresConfiguration(t *testing.T) {
	reader := NewSupplyReader(SupplyOptions{}, noopLogger())
	if _, err := reader.TotalSupply(context.Background(), "0xtoken"); err == nil {
		t.Fatal("缺少 RPC URL 时应返回错误")
	}

	reader = NewSupplyReader(SupplyOptions{RPCURL: "http://localhost:8545"}, noopLogger())
	if _, err := reader.TotalSupply(context.Background(), ""); err == nil {
		t.Fatal("缺少合约地址时应返回错误")
	}
}

func TestEnrichLeavesExistingCapAlone(t *testing.T) {
	reader := NewSupplyReader(SupplyOptions{}, noopLogger())

	mcap := decimal.NewFromInt(1000)
	snap := &market.Snapshot{EntityID: "tok", Price: decimal.NewFromInt(1), MarketCap: &mcap}
	if got := reader.Enrich(context.Background(), snap, "0xtoken"); got.MarketCap != &mcap {
		t.Fatal("snapshot with a market cap must not be touched")
	}

	// No contract: nothing to derive from.
	bare := &market.Snapshot{EntityID: "tok", Price: decimal.NewFromInt(1)}
	if got := reader.Enrich(context.Background(), bare, ""); got.MarketCap != nil {
		t.Fatal("no contract means no derived cap")
	}

	// RPC unreachable: degrade to the unenriched snapshot, no error.
	if got := reader.Enrich(context.Background(), bare, "0xtoken"); got.MarketCap != nil {
		t.Fatal("failed lookup must leave the cap unset")
	}
}
