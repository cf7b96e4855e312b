package optimizer

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"yieldpilot/internal/domain"
)

// Profile is the policy envelope for one risk tolerance tier.
type Profile struct {
	MaxRiskScore    float64
	MinTVL          float64
	MaxAPR          float64
	Diversification float64
}

var profiles = map[string]Profile{
	"conservative": {MaxRiskScore: 30, MinTVL: 500_000, MaxAPR: 20, Diversification: 0.8},
	"moderate":     {MaxRiskScore: 50, MinTVL: 200_000, MaxAPR: 50, Diversification: 0.6},
	"aggressive":   {MaxRiskScore: 70, MinTVL: 50_000, MaxAPR: 100, Diversification: 0.4},
}

// ProfileFor resolves a risk tolerance string, defaulting to moderate.
func ProfileFor(tolerance string) Profile {
	if p, ok := profiles[strings.ToLower(tolerance)]; ok {
		return p
	}
	return profiles["moderate"]
}

// Optimizer produces allocation strategies. Apart from the generated
// strategy id and timestamp its output is deterministic in its inputs.
// It does not solve a real mean-variance problem: allocations come from
// per-tier templates, or from live opportunities filtered by the tier's
// envelope when the market agent supplies them.
type Optimizer struct {
	Now func() time.Time
}

func New() *Optimizer {
	return &Optimizer{Now: time.Now}
}

// Optimize builds a Strategy for the given tolerance and target return.
// When opportunities are provided they are filtered by the tier profile
// and allocated by descending risk-adjusted yield; otherwise the tier's
// template allocations are used.
func (o *Optimizer) Optimize(tolerance string, targetReturn float64, opportunities []domain.Opportunity) domain.Strategy {
	profile := ProfileFor(tolerance)

	allocations := o.fromOpportunities(profile, opportunities)
	if len(allocations) == 0 {
		allocations = templateAllocations(tolerance)
	}

	txs := rebalancingTxs(allocations)

	return domain.Strategy{
		StrategyID:             uuid.NewString(),
		RiskTolerance:          tolerance,
		TargetReturn:           targetReturn,
		RecommendedAllocations: allocations,
		ExpectedPortfolioAPR:   round2(weightedAPR(allocations)),
		ExpectedPortfolioRisk:  round2(weightedRisk(allocations)),
		RebalancingTxs:         txs,
		EstimatedFees:          EstimateTransactionCosts(txs),
		DiversificationTarget:  profile.Diversification,
		Timestamp:              o.Now().UTC().Format(time.RFC3339),
	}
}

func (o *Optimizer) fromOpportunities(profile Profile, opportunities []domain.Opportunity) []domain.Allocation {
	eligible := make([]domain.Opportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		if opp.TVLADA < profile.MinTVL || opp.APR > profile.MaxAPR || opp.RiskScore > profile.MaxRiskScore {
			continue
		}
		eligible = append(eligible, opp)
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return CalculateSharpeRatio(eligible[i].APR, eligible[i].RiskScore, 3.0) >
			CalculateSharpeRatio(eligible[j].APR, eligible[j].RiskScore, 3.0)
	})

	// More diversified tiers spread over more positions.
	n := int(math.Round(profile.Diversification * 5))
	if n < 2 {
		n = 2
	}
	if n > len(eligible) {
		n = len(eligible)
	}
	eligible = eligible[:n]

	share := math.Floor(100/float64(n)*10) / 10
	allocations := make([]domain.Allocation, n)
	for i, opp := range eligible {
		rs := opp.RiskScore
		action := "add_new"
		allocations[i] = domain.Allocation{
			Protocol:          opp.Protocol,
			Pool:              opp.Pair,
			AllocationPercent: share,
			ExpectedAPR:       opp.APR,
			RiskScore:         &rs,
			Action:            action,
		}
	}
	// Give any rounding remainder to the best position.
	allocations[0].AllocationPercent += 100 - share*float64(n)
	allocations[0].AllocationPercent = math.Round(allocations[0].AllocationPercent*10) / 10
	return allocations
}

// templateAllocations is the illustrative per-tier fallback used when no
// market data is supplied. Conservative spreads across more protocols
// than aggressive, so the derived diversification score never increases
// as the tolerance moves conservative to aggressive.
func templateAllocations(tolerance string) []domain.Allocation {
	rs := func(v float64) *float64 { return &v }
	switch strings.ToLower(tolerance) {
	case "conservative":
		return []domain.Allocation{
			{Protocol: "minswap", Pool: "ADA/DJED", AllocationPercent: 30, ExpectedAPR: 9.5, RiskScore: rs(25), Action: "add_new"},
			{Protocol: "sundaeswap", Pool: "ADA/iUSD", AllocationPercent: 25, ExpectedAPR: 8.4, RiskScore: rs(30), Action: "add_new"},
			{Protocol: "liqwid", Asset: "ADA", AllocationPercent: 25, ExpectedAPR: 6.2, RiskScore: rs(20), Action: "add_new"},
			{Protocol: "wingriders", Pool: "ADA/USDM", AllocationPercent: 20, ExpectedAPR: 7.8, RiskScore: rs(28), Action: "add_new"},
		}
	case "aggressive":
		return []domain.Allocation{
			{Protocol: "minswap", Pool: "ADA/SNEK", AllocationPercent: 55, ExpectedAPR: 38.0, RiskScore: rs(55), Action: "add_new"},
			{Protocol: "sundaeswap", Pool: "ADA/MIN", AllocationPercent: 45, ExpectedAPR: 24.6, RiskScore: rs(45), Action: "add_new"},
		}
	default: // moderate
		return []domain.Allocation{
			{Protocol: "minswap", Pool: "ADA/DJED", AllocationPercent: 40, ExpectedAPR: 12.5, RiskScore: rs(25), Action: "increase"},
			{Protocol: "sundaeswap", Pool: "ADA/MIN", AllocationPercent: 30, ExpectedAPR: 15.8, RiskScore: rs(35), Action: "add_new"},
			{Protocol: "liqwid", Asset: "ADA", AllocationPercent: 30, ExpectedAPR: 8.2, RiskScore: rs(20), Action: "add_new"},
		}
	}
}

func rebalancingTxs(allocations []domain.Allocation) []domain.RebalanceTx {
	// Portfolio size for amount estimates is notional; actual execution
	// is out of scope and the transactions are never signed.
	const notional = 10_000.0
	txs := make([]domain.RebalanceTx, 0, len(allocations))
	for _, a := range allocations {
		amount := notional * a.AllocationPercent / 100
		if a.Asset != "" && a.Pool == "" {
			txs = append(txs, domain.RebalanceTx{
				Type:     "lending_supply",
				Protocol: a.Protocol,
				Asset:    a.Asset,
				Amount:   amount,
			})
			continue
		}
		tokenA, tokenB := splitPair(a.Pool)
		txs = append(txs, domain.RebalanceTx{
			Type:            "add_liquidity",
			Protocol:        a.Protocol,
			Pool:            a.Pool,
			TokenA:          tokenA,
			TokenB:          tokenB,
			AmountA:         amount / 2,
			AmountBEstimate: amount / 2,
		})
	}
	return txs
}

func splitPair(pool string) (string, string) {
	parts := strings.SplitN(pool, "/", 2)
	if len(parts) != 2 {
		return "ADA", pool
	}
	return parts[0], parts[1]
}

// RebalanceAction is one buy/sell step from current to target holdings.
type RebalanceAction struct {
	Asset  string  `json:"asset"`
	Action string  `json:"action"`
	Amount float64 `json:"amount"`
}

// dustThreshold suppresses transactions not worth their fees.
const dustThreshold = 0.01

// CalculateRebalancingActions diffs current holdings against target
// holdings and emits one buy or sell per asset whose difference exceeds
// the dust threshold. Output sorted by asset for determinism.
func CalculateRebalancingActions(current, target map[string]float64) []RebalanceAction {
	assets := make(map[string]struct{}, len(current)+len(target))
	for a := range current {
		assets[a] = struct{}{}
	}
	for a := range target {
		assets[a] = struct{}{}
	}

	names := make([]string, 0, len(assets))
	for a := range assets {
		names = append(names, a)
	}
	sort.Strings(names)

	actions := []RebalanceAction{}
	for _, asset := range names {
		diff := target[asset] - current[asset]
		if math.Abs(diff) <= dustThreshold {
			continue
		}
		if diff > 0 {
			actions = append(actions, RebalanceAction{Asset: asset, Action: "buy", Amount: diff})
		} else {
			actions = append(actions, RebalanceAction{Asset: asset, Action: "sell", Amount: -diff})
		}
	}
	return actions
}

// Cardano fee model constants, in ADA.
const (
	baseFee   = 0.17
	scriptFee = 0.5
)

var scriptTxTypes = map[string]bool{
	"swap":             true,
	"add_liquidity":    true,
	"remove_liquidity": true,
	"lending_supply":   true,
}

// EstimateTransactionCosts sums the base fee per transaction plus a
// script surcharge for contract interactions.
func EstimateTransactionCosts(txs []domain.RebalanceTx) float64 {
	total := 0.0
	for _, tx := range txs {
		total += baseFee
		if scriptTxTypes[tx.Type] {
			total += scriptFee
		}
	}
	return math.Round(total*100) / 100
}

// CalculateSharpeRatio approximates a Sharpe ratio using risk_score/10
// in place of a return standard deviation. A proxy, not a real Sharpe.
func CalculateSharpeRatio(expectedReturn, riskScore, riskFreeRate float64) float64 {
	stdDev := riskScore / 10
	if stdDev == 0 {
		return 0
	}
	return (expectedReturn - riskFreeRate) / stdDev
}

func weightedAPR(allocations []domain.Allocation) float64 {
	total, weight := 0.0, 0.0
	for _, a := range allocations {
		total += a.ExpectedAPR * a.AllocationPercent
		weight += a.AllocationPercent
	}
	if weight == 0 {
		return 0
	}
	return total / weight
}

func weightedRisk(allocations []domain.Allocation) float64 {
	total, weight := 0.0, 0.0
	for _, a := range allocations {
		if a.RiskScore == nil {
			continue
		}
		total += *a.RiskScore * a.AllocationPercent
		weight += a.AllocationPercent
	}
	if weight == 0 {
		return 0
	}
	return total / weight
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
