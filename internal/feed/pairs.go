package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

const (
	tokenPairsPath = "/latest/dex/tokens/"

	// Error bodies are truncated to this many bytes before wrapping.
	maxErrorBody = 512
)

// PairsOptions parameterise the pairs-API client.
type PairsOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// PairsClient reads token market data from a DexScreener-compatible pairs
// API. A token can trade on several pairs; the highest-liquidity pair is
// taken as the token's canonical market.
type PairsClient struct {
	opts    PairsOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPairsClient constructs a pairs-API client.
func NewPairsClient(opts PairsOptions, logger zerolog.Logger) *PairsClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.dexscreener.com"
	}

	return &PairsClient{
		opts:    opts,
		logger:  logger.With().Str("component", "pairs_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Snapshot fetches the entity's pairs and maps the best one to a snapshot.
// A token with no pairs yields (nil, nil): unknown, skip this cycle.
func (p *PairsClient) Snapshot(ctx context.Context, entityID string) (*market.Snapshot, error) {
	endpoint := p.baseURL + tokenPairsPath + entityID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create pairs request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "coinwatch/1.0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pairs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(snippet) > 0 {
			return nil, fmt.Errorf("pairs api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		return nil, fmt.Errorf("pairs api error (%d)", resp.StatusCode)
	}

	var payload pairsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode pairs response: %w", err)
	}

	best := bestPair(payload.Pairs)
	if best == nil {
		p.logger.Debug().Str("entity", entityID).Msg("no pairs returned for token")
		return nil, nil
	}

	price, err := decimal.NewFromString(best.PriceUSD)
	if err != nil {
		return nil, fmt.Errorf("parse pair price %q: %w", best.PriceUSD, err)
	}

	snap := &market.Snapshot{
		EntityID:  entityID,
		Price:     price,
		Volume24h: decimal.NewFromFloat(best.Volume.H24),
		FetchedAt: time.Now().UTC(),
	}

	if mcap := best.marketCap(); mcap != nil {
		snap.MarketCap = mcap
	}
	if best.PriceChange.H24 != nil {
		snap.PriceChange24h = market.DecimalPtr(decimal.NewFromFloat(*best.PriceChange.H24))
	}
	if best.PriceChange.H1 != nil {
		snap.PriceChange1h = market.DecimalPtr(decimal.NewFromFloat(*best.PriceChange.H1))
	}

	return snap, nil
}

// bestPair picks the pair with the deepest USD liquidity; pairs without a
// usable price are ignored.
func bestPair(pairs []pairData) *pairData {
	var best *pairData
	for i := range pairs {
		pair := &pairs[i]
		if pair.PriceUSD == "" {
			continue
		}
		if best == nil || pair.Liquidity.USD > best.Liquidity.USD {
			best = pair
		}
	}
	return best
}

type pairsResponse struct {
	Pairs []pairData `json:"pairs"`
}

type pairData struct {
	PairAddress string `json:"pairAddress"`
	PriceUSD    string `json:"priceUsd"`
	Volume      struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H1  *float64 `json:"h1"`
		H24 *float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	MarketCap *float64 `json:"marketCap"`
	FDV       *float64 `json:"fdv"`
}

// marketCap prefers the reported cap, falling back to fully-diluted value.
func (p *pairData) marketCap() *decimal.Decimal {
	if p.MarketCap != nil {
		return market.DecimalPtr(decimal.NewFromFloat(*p.MarketCap))
	}
	if p.FDV != nil {
		return market.DecimalPtr(decimal.NewFromFloat(*p.FDV))
	}
	return nil
}

var _ Fetcher = (*PairsClient)(nil)
