package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"time"

	"yieldpilot/internal/config"
	"yieldpilot/internal/domain"
)

const lovelacePerADA = 1_000_000

// Client fetches pool and lending data from Cardano DeFi indexers.
// Upstream outages degrade to empty data sets rather than errors: the
// advisory layer reports "no data" instead of fabricating numbers.
type Client struct {
	http   *http.Client
	cfg    config.MarketConfig
	logger *slog.Logger
}

func NewClient(cfg config.MarketConfig, logger *slog.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: 30 * time.Second},
		cfg:    cfg,
		logger: logger,
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type minswapPool struct {
	ID     string `json:"id"`
	TokenA struct {
		Symbol string `json:"symbol"`
	} `json:"tokenA"`
	TokenB struct {
		Symbol string `json:"symbol"`
	} `json:"tokenB"`
	TVL       float64 `json:"tvl"`
	APR       float64 `json:"apr"`
	Volume24h float64 `json:"volume24h"`
	Fees24h   float64 `json:"fees24h"`
}

// MinswapPools fetches Minswap DEX pools. TVL, volume and fees arrive in
// lovelace and are converted to ADA.
func (c *Client) MinswapPools(ctx context.Context) ([]domain.Pool, error) {
	var raw []minswapPool
	if err := c.getJSON(ctx, c.cfg.MinswapURL+"/pools", &raw); err != nil {
		return nil, fmt.Errorf("fetch minswap pools: %w", err)
	}
	pools := make([]domain.Pool, 0, len(raw))
	for _, p := range raw {
		tokenA := p.TokenA.Symbol
		if tokenA == "" {
			tokenA = "ADA"
		}
		pools = append(pools, domain.Pool{
			PoolID:    p.ID,
			Protocol:  "minswap",
			TokenA:    tokenA,
			TokenB:    p.TokenB.Symbol,
			TVLADA:    p.TVL / lovelacePerADA,
			APR:       p.APR,
			Volume24h: p.Volume24h / lovelacePerADA,
			Fees24h:   p.Fees24h / lovelacePerADA,
		})
	}
	return pools, nil
}

type sundaeswapResponse struct {
	Pools []struct {
		PoolID string `json:"poolId"`
		AssetA struct {
			Ticker string `json:"ticker"`
		} `json:"assetA"`
		AssetB struct {
			Ticker string `json:"ticker"`
		} `json:"assetB"`
		TVL       float64 `json:"tvl"`
		APR       float64 `json:"apr"`
		Volume24h float64 `json:"volume24h"`
		Fees24h   float64 `json:"fees24h"`
	} `json:"pools"`
}

// SundaeswapPools fetches SundaeSwap DEX pools.
func (c *Client) SundaeswapPools(ctx context.Context) ([]domain.Pool, error) {
	var raw sundaeswapResponse
	if err := c.getJSON(ctx, c.cfg.SundaeswapURL+"/pools", &raw); err != nil {
		return nil, fmt.Errorf("fetch sundaeswap pools: %w", err)
	}
	pools := make([]domain.Pool, 0, len(raw.Pools))
	for _, p := range raw.Pools {
		tokenA := p.AssetA.Ticker
		if tokenA == "" {
			tokenA = "ADA"
		}
		pools = append(pools, domain.Pool{
			PoolID:    p.PoolID,
			Protocol:  "sundaeswap",
			TokenA:    tokenA,
			TokenB:    p.AssetB.Ticker,
			TVLADA:    p.TVL / lovelacePerADA,
			APR:       p.APR,
			Volume24h: p.Volume24h / lovelacePerADA,
			Fees24h:   p.Fees24h / lovelacePerADA,
		})
	}
	return pools, nil
}

type liqwidResponse struct {
	Markets []struct {
		Asset            string  `json:"asset"`
		SupplyAPR        float64 `json:"supplyApr"`
		BorrowAPR        float64 `json:"borrowApr"`
		TotalSupply      float64 `json:"totalSupply"`
		TotalBorrowed    float64 `json:"totalBorrowed"`
		UtilizationRate  float64 `json:"utilizationRate"`
		CollateralFactor float64 `json:"collateralFactor"`
	} `json:"markets"`
}

// LiqwidMarkets fetches Liqwid lending markets.
func (c *Client) LiqwidMarkets(ctx context.Context) ([]domain.LendingMarket, error) {
	var raw liqwidResponse
	if err := c.getJSON(ctx, c.cfg.LiqwidURL+"/v1/markets", &raw); err != nil {
		return nil, fmt.Errorf("fetch liqwid markets: %w", err)
	}
	markets := make([]domain.LendingMarket, 0, len(raw.Markets))
	for _, m := range raw.Markets {
		markets = append(markets, domain.LendingMarket{
			Protocol:         "liqwid",
			Asset:            m.Asset,
			SupplyAPR:        m.SupplyAPR,
			BorrowAPR:        m.BorrowAPR,
			TotalSupply:      m.TotalSupply,
			TotalBorrowed:    m.TotalBorrowed,
			UtilizationRate:  m.UtilizationRate,
			CollateralFactor: m.CollateralFactor,
		})
	}
	return markets, nil
}

// Opportunities aggregates DEX pools and lending markets into scored
// yield opportunities, filtered by the configured TVL and APR floors and
// sorted by APR descending. A failed upstream contributes nothing; with
// every upstream down the result is empty, never an error.
func (c *Client) Opportunities(ctx context.Context) []domain.Opportunity {
	var pools []domain.Pool
	if p, err := c.MinswapPools(ctx); err != nil {
		c.logger.Warn("minswap unavailable", "error", err)
	} else {
		pools = append(pools, p...)
	}
	if p, err := c.SundaeswapPools(ctx); err != nil {
		c.logger.Warn("sundaeswap unavailable", "error", err)
	} else {
		pools = append(pools, p...)
	}

	opportunities := []domain.Opportunity{}
	for _, pool := range pools {
		if pool.TVLADA < c.cfg.MinTVL || pool.APR < c.cfg.MinAPR {
			continue
		}
		opportunities = append(opportunities, domain.Opportunity{
			Type:      "liquidity_pool",
			Protocol:  pool.Protocol,
			PoolID:    pool.PoolID,
			Pair:      pool.TokenA + "/" + pool.TokenB,
			APR:       pool.APR,
			TVLADA:    pool.TVLADA,
			RiskScore: PoolRiskScore(pool),
		})
	}

	if markets, err := c.LiqwidMarkets(ctx); err != nil {
		c.logger.Warn("liqwid unavailable", "error", err)
	} else {
		for _, m := range markets {
			if m.SupplyAPR < c.cfg.MinAPR {
				continue
			}
			opportunities = append(opportunities, domain.Opportunity{
				Type:        "lending",
				Protocol:    m.Protocol,
				Asset:       m.Asset,
				APR:         m.SupplyAPR,
				TotalSupply: m.TotalSupply,
				Utilization: m.UtilizationRate,
				RiskScore:   LendingRiskScore(m),
			})
		}
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].APR > opportunities[j].APR
	})
	return opportunities
}

// ProtocolTVL sums TVL across a protocol's pools or markets.
func (c *Client) ProtocolTVL(ctx context.Context, protocol string) (float64, error) {
	switch protocol {
	case "minswap":
		pools, err := c.MinswapPools(ctx)
		if err != nil {
			return 0, err
		}
		return sumPoolTVL(pools), nil
	case "sundaeswap":
		pools, err := c.SundaeswapPools(ctx)
		if err != nil {
			return 0, err
		}
		return sumPoolTVL(pools), nil
	case "liqwid":
		markets, err := c.LiqwidMarkets(ctx)
		if err != nil {
			return 0, err
		}
		total := 0.0
		for _, m := range markets {
			total += m.TotalSupply
		}
		return total, nil
	default:
		return 0, fmt.Errorf("unknown protocol: %s", protocol)
	}
}

func sumPoolTVL(pools []domain.Pool) float64 {
	total := 0.0
	for _, p := range pools {
		total += p.TVLADA
	}
	return total
}

// PoolRiskScore rates a liquidity pool 0-100, lower is safer. Thin TVL,
// outsized APR and weak volume all add risk.
func PoolRiskScore(pool domain.Pool) float64 {
	risk := 0.0

	switch {
	case pool.TVLADA < 50_000:
		risk += 30
	case pool.TVLADA < 100_000:
		risk += 20
	case pool.TVLADA < 500_000:
		risk += 10
	}

	switch {
	case pool.APR > 100:
		risk += 30
	case pool.APR > 50:
		risk += 20
	case pool.APR > 30:
		risk += 10
	}

	switch {
	case pool.Volume24h < 10_000:
		risk += 20
	case pool.Volume24h < 50_000:
		risk += 10
	}

	return math.Min(risk, 100)
}

// LendingRiskScore rates a lending market 0-100, lower is safer.
func LendingRiskScore(m domain.LendingMarket) float64 {
	risk := 0.0

	switch {
	case m.UtilizationRate > 0.95:
		risk += 40
	case m.UtilizationRate > 0.85:
		risk += 25
	case m.UtilizationRate > 0.75:
		risk += 10
	}

	switch {
	case m.SupplyAPR > 50:
		risk += 30
	case m.SupplyAPR > 30:
		risk += 15
	}

	switch {
	case m.CollateralFactor < 0.5:
		risk += 20
	case m.CollateralFactor < 0.7:
		risk += 10
	}

	return math.Min(risk, 100)
}
