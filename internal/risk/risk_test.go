package risk_test

import (
	"math"
	"testing"

	"yieldpilot/internal/config"
	"yieldpilot/internal/domain"
	"yieldpilot/internal/risk"
)

func newScorer() *risk.Scorer {
	return risk.NewScorer(config.Default().Risk)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func equalSplit(n int) []domain.Allocation {
	allocs := make([]domain.Allocation, n)
	for i := range allocs {
		allocs[i] = domain.Allocation{
			Protocol:          []string{"minswap", "sundaeswap", "liqwid", "indigo", "wingriders"}[i%5],
			AllocationPercent: 100 / float64(n),
			ExpectedAPR:       10,
		}
	}
	return allocs
}

func TestConcentrationRisk(t *testing.T) {
	s := newScorer()

	if got := s.ConcentrationRisk(nil); got != 0 {
		t.Fatalf("empty allocations: got %v, want 0", got)
	}
	single := []domain.Allocation{{Protocol: "minswap", AllocationPercent: 100}}
	if got := s.ConcentrationRisk(single); got != 100 {
		t.Fatalf("single 100%% position: got %v, want 100", got)
	}
	if got := s.ConcentrationRisk(equalSplit(5)); !almostEqual(got, 20) {
		t.Fatalf("five equal positions: got %v, want 20", got)
	}
	// 60/40 split: HHI = 3600 + 1600 = 5200
	pair := []domain.Allocation{
		{Protocol: "minswap", AllocationPercent: 60},
		{Protocol: "liqwid", AllocationPercent: 40},
	}
	if got := s.ConcentrationRisk(pair); !almostEqual(got, 52) {
		t.Fatalf("60/40 split: got %v, want 52", got)
	}
}

func TestProtocolRiskFallsBackToBaseRating(t *testing.T) {
	s := newScorer()

	allocs := []domain.Allocation{
		{Protocol: "minswap", AllocationPercent: 60},
		{Protocol: "liqwid", AllocationPercent: 40},
	}
	// 25*0.6 + 35*0.4 = 29
	if got := s.ProtocolRisk(allocs); !almostEqual(got, 29) {
		t.Fatalf("weighted base ratings: got %v, want 29", got)
	}

	override := 90.0
	allocs[0].RiskScore = &override
	// 90*0.6 + 35*0.4 = 68
	if got := s.ProtocolRisk(allocs); !almostEqual(got, 68) {
		t.Fatalf("per-position override: got %v, want 68", got)
	}

	unknown := []domain.Allocation{{Protocol: "mystery", AllocationPercent: 100}}
	if got := s.ProtocolRisk(unknown); got != 50 {
		t.Fatalf("unknown protocol: got %v, want default 50", got)
	}

	zeroWeight := []domain.Allocation{{Protocol: "minswap", AllocationPercent: 0}}
	if got := s.ProtocolRisk(zeroWeight); got != 0 {
		t.Fatalf("zero total weight: got %v, want 0", got)
	}
}

func TestAPRRiskSteps(t *testing.T) {
	s := newScorer()
	cases := []struct {
		apr  float64
		want float64
	}{
		{150, 80},
		{100, 60},
		{51, 60},
		{50, 40},
		{31, 40},
		{30, 20},
		{16, 20},
		{15, 10},
		{0, 10},
	}
	for _, tc := range cases {
		got := s.APRRisk([]domain.Allocation{{Protocol: "minswap", AllocationPercent: 100, ExpectedAPR: tc.apr}})
		if got != tc.want {
			t.Errorf("apr %v: got %v, want %v", tc.apr, got, tc.want)
		}
	}
	// mixed positions average
	mixed := []domain.Allocation{
		{Protocol: "minswap", AllocationPercent: 50, ExpectedAPR: 150},
		{Protocol: "liqwid", AllocationPercent: 50, ExpectedAPR: 5},
	}
	if got := s.APRRisk(mixed); !almostEqual(got, 45) {
		t.Fatalf("mixed APRs: got %v, want 45", got)
	}
}

func TestDiversificationMonotone(t *testing.T) {
	s := newScorer()
	prev := -1.0
	for n := 1; n <= 5; n++ {
		score := s.DiversificationScore(equalSplit(n))
		if score <= prev {
			t.Fatalf("diversification not increasing at n=%d: %v <= %v", n, score, prev)
		}
		prev = score
	}
	if got := s.DiversificationScore(equalSplit(1)); !almostEqual(got, 8+6) {
		// 1 protocol (8) + 1 position (6) + balance 0
		t.Fatalf("single position: got %v, want 14", got)
	}
}

func TestAnalyzeStrategy(t *testing.T) {
	s := newScorer()
	allocs := []domain.Allocation{
		{Protocol: "minswap", AllocationPercent: 60, ExpectedAPR: 12},
		{Protocol: "liqwid", AllocationPercent: 40, ExpectedAPR: 8},
	}
	got := s.AnalyzeStrategy(allocs)

	// 0.3*52 + 0.4*29 + 0.3*10 = 30.2
	if got.OverallRiskScore != 30.2 {
		t.Fatalf("overall: got %v, want 30.2", got.OverallRiskScore)
	}
	if got.ConcentrationRisk != 52 || got.ProtocolRisk != 29 || got.APRRisk != 10 {
		t.Fatalf("components: got %v/%v/%v, want 52/29/10",
			got.ConcentrationRisk, got.ProtocolRisk, got.APRRisk)
	}
	if !got.Approved {
		t.Fatal("expected approval at 30.2")
	}
	if len(got.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", got.Warnings)
	}
	// concentration 52 > 40 triggers the diversification recommendation
	if len(got.Recommendations) != 1 {
		t.Fatalf("recommendations: got %v", got.Recommendations)
	}
}

func TestAnalyzeStrategyWarningsAndApproval(t *testing.T) {
	s := newScorer()
	risky := []domain.Allocation{{Protocol: "mystery", AllocationPercent: 100, ExpectedAPR: 200}}
	got := s.AnalyzeStrategy(risky)

	// concentration 100, protocol 50, apr 80 → 0.3*100 + 0.4*50 + 0.3*80 = 74
	if got.OverallRiskScore != 74 {
		t.Fatalf("overall: got %v, want 74", got.OverallRiskScore)
	}
	if got.Approved {
		t.Fatal("expected rejection above threshold")
	}
	wantWarnings := 2 // concentration > 60, apr > 60
	if len(got.Warnings) != wantWarnings {
		t.Fatalf("warnings: got %d (%v), want %d", len(got.Warnings), got.Warnings, wantWarnings)
	}
	if len(got.Recommendations) != 2 {
		t.Fatalf("recommendations: got %v", got.Recommendations)
	}
}

func TestAnalyzeStrategyIsPure(t *testing.T) {
	s := newScorer()
	allocs := []domain.Allocation{
		{Protocol: "minswap", AllocationPercent: 60, ExpectedAPR: 12},
		{Protocol: "liqwid", AllocationPercent: 40, ExpectedAPR: 8},
	}
	first := s.AnalyzeStrategy(allocs)
	for i := 0; i < 10; i++ {
		if again := s.AnalyzeStrategy(allocs); again.OverallRiskScore != first.OverallRiskScore {
			t.Fatalf("run %d diverged: %v != %v", i, again.OverallRiskScore, first.OverallRiskScore)
		}
	}
	if allocs[0].AllocationPercent != 60 {
		t.Fatal("input mutated")
	}
}

func TestPortfolioHealth(t *testing.T) {
	s := newScorer()

	empty := s.PortfolioHealth(nil)
	if empty.OverallHealthScore != 100 || empty.NumPositions != 0 {
		t.Fatalf("empty portfolio: %+v", empty)
	}

	positions := []domain.Position{
		{Protocol: "minswap", AllocationPercent: 50, ValueADA: 5000, TVLADA: 1_000_000, Volume24h: 100_000},
		{Protocol: "liqwid", AllocationPercent: 50, ValueADA: 5000, TVLADA: 60_000, Volume24h: 5_000},
	}
	got := s.PortfolioHealth(positions)
	// concentration = (2500+2500)/100 = 50
	// liquidity = ((20+10)/2 + (60+60)/2) / 2 = (15 + 60) / 2 = 37.5
	// health = 100 - (50*0.5 + 37.5*0.5) = 56.25 → 56.3
	if got.ConcentrationRisk != 50 {
		t.Fatalf("concentration: got %v, want 50", got.ConcentrationRisk)
	}
	if got.LiquidityRisk != 37.5 {
		t.Fatalf("liquidity: got %v, want 37.5", got.LiquidityRisk)
	}
	if got.OverallHealthScore != 56.3 {
		t.Fatalf("health: got %v, want 56.3", got.OverallHealthScore)
	}
	if got.TotalValueADA != 10000 {
		t.Fatalf("total value: got %v, want 10000", got.TotalValueADA)
	}
}

func TestValidateTransaction(t *testing.T) {
	s := newScorer()

	// 30 + 25*0.5 + 10 = 52.5
	safe := s.ValidateTransaction("swap", 1000, "minswap")
	if !safe.Approved || safe.RiskScore != 52.5 {
		t.Fatalf("safe swap: %+v", safe)
	}
	if len(safe.Warnings) != 0 {
		t.Fatalf("safe swap warnings: %v", safe.Warnings)
	}

	// 30 + 50*0.5 + 20 + 15 = 90
	big := s.ValidateTransaction("lending_supply", 200_000, "mystery")
	if big.Approved || big.RiskScore != 90 {
		t.Fatalf("large unknown lend: %+v", big)
	}
	if len(big.Warnings) != 1 {
		t.Fatalf("expected amount warning, got %v", big.Warnings)
	}

	// boundary: exactly at threshold is approved
	// 30 + 30*0.5 + 10 + 10 = 65
	mid := s.ValidateTransaction("add_liquidity", 60_000, "sundaeswap")
	if !mid.Approved || mid.RiskScore != 65 {
		t.Fatalf("mid-size add_liquidity: %+v", mid)
	}
}
