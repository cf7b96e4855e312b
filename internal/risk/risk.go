package risk

import (
	"math"
	"sort"
	"strings"

	"yieldpilot/internal/config"
	"yieldpilot/internal/domain"
)

// Scorer evaluates strategies, portfolios and planned transactions. All
// methods are pure: same input, same output, no I/O.
type Scorer struct {
	ratings       map[string]float64
	defaultRating float64
	wConcentration float64
	wProtocol      float64
	wAPR           float64
	threshold      float64
}

// NewScorer builds a Scorer from config.
func NewScorer(cfg config.RiskConfig) *Scorer {
	ratings := make(map[string]float64, len(cfg.ProtocolRatings))
	for name, r := range cfg.ProtocolRatings {
		ratings[strings.ToLower(name)] = r
	}
	def := cfg.DefaultRating
	if def == 0 {
		def = 50
	}
	return &Scorer{
		ratings:        ratings,
		defaultRating:  def,
		wConcentration: cfg.Weights.Concentration,
		wProtocol:      cfg.Weights.Protocol,
		wAPR:           cfg.Weights.APR,
		threshold:      cfg.ApprovalThreshold,
	}
}

// ProtocolRating returns the base risk rating for a protocol name.
func (s *Scorer) ProtocolRating(protocol string) float64 {
	if r, ok := s.ratings[strings.ToLower(protocol)]; ok {
		return r
	}
	return s.defaultRating
}

// AnalyzeStrategy scores a strategy's allocations and renders the verdict.
func (s *Scorer) AnalyzeStrategy(allocations []domain.Allocation) domain.RiskAssessment {
	concentration := s.ConcentrationRisk(allocations)
	protocol := s.ProtocolRisk(allocations)
	apr := s.APRRisk(allocations)
	diversification := s.DiversificationScore(allocations)

	overall := concentration*s.wConcentration + protocol*s.wProtocol + apr*s.wAPR

	warnings := []string{}
	if concentration > 60 {
		warnings = append(warnings, "High concentration risk: portfolio not well diversified")
	}
	if protocol > 50 {
		warnings = append(warnings, "High protocol risk: consider safer protocols")
	}
	if apr > 60 {
		warnings = append(warnings, "Unusually high APRs detected: possible high risk")
	}

	recommendations := []string{}
	if concentration > 40 {
		recommendations = append(recommendations, "Increase diversification across protocols")
	}
	if overall > 50 {
		recommendations = append(recommendations, "Consider reducing risk exposure")
	}

	return domain.RiskAssessment{
		OverallRiskScore:     round1(overall),
		ConcentrationRisk:    round1(concentration),
		ProtocolRisk:         round1(protocol),
		APRRisk:              round1(apr),
		DiversificationScore: round1(diversification),
		Warnings:             warnings,
		Recommendations:      recommendations,
		Approved:             overall <= s.threshold,
	}
}

// ConcentrationRisk is the Herfindahl-Hirschman index of the allocation
// percentages, normalized to 0-100 and clamped.
func (s *Scorer) ConcentrationRisk(allocations []domain.Allocation) float64 {
	if len(allocations) == 0 {
		return 0
	}
	hhi := 0.0
	for _, a := range allocations {
		hhi += a.AllocationPercent * a.AllocationPercent
	}
	return math.Min(hhi/100, 100)
}

// ProtocolRisk is the allocation-weighted average of per-position risk,
// falling back to the protocol's base rating when a position carries none.
func (s *Scorer) ProtocolRisk(allocations []domain.Allocation) float64 {
	if len(allocations) == 0 {
		return 0
	}
	totalRisk := 0.0
	totalWeight := 0.0
	for _, a := range allocations {
		weight := a.AllocationPercent / 100
		positionRisk := s.ProtocolRating(a.Protocol)
		if a.RiskScore != nil {
			positionRisk = *a.RiskScore
		}
		totalRisk += positionRisk * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}
	return totalRisk / totalWeight
}

// APRRisk maps each position's expected APR onto a step scale and averages.
// Unusually high yield is treated as a risk signal.
func (s *Scorer) APRRisk(allocations []domain.Allocation) float64 {
	if len(allocations) == 0 {
		return 0
	}
	total := 0.0
	for _, a := range allocations {
		total += aprStep(a.ExpectedAPR)
	}
	return total / float64(len(allocations))
}

func aprStep(apr float64) float64 {
	switch {
	case apr > 100:
		return 80
	case apr > 50:
		return 60
	case apr > 30:
		return 40
	case apr > 15:
		return 20
	default:
		return 10
	}
}

// DiversificationScore rewards protocol variety, position count and even
// allocation balance. 0-100, higher is better.
func (s *Scorer) DiversificationScore(allocations []domain.Allocation) float64 {
	n := len(allocations)
	if n == 0 {
		return 0
	}

	protocols := map[string]struct{}{}
	for _, a := range allocations {
		protocols[a.Protocol] = struct{}{}
	}

	balance := 0.0
	if n > 1 {
		ideal := 100.0 / float64(n)
		variance := 0.0
		for _, a := range allocations {
			d := a.AllocationPercent - ideal
			variance += d * d
		}
		variance /= float64(n)
		balance = math.Max(0, 100-variance)
	}

	score := float64(len(protocols))/5*40 +
		float64(n)/5*30 +
		balance/100*30
	return math.Min(score, 100)
}

// PortfolioHealth scores an existing portfolio on concentration and liquidity.
func (s *Scorer) PortfolioHealth(positions []domain.Position) domain.PortfolioHealth {
	concentration := s.ConcentrationRisk(positionsAsAllocations(positions))
	liquidity := s.LiquidityRisk(positions)
	health := 100 - (concentration*0.5 + liquidity*0.5)

	totalValue := 0.0
	for _, p := range positions {
		totalValue += p.ValueADA
	}

	return domain.PortfolioHealth{
		OverallHealthScore: round1(health),
		ConcentrationRisk:  round1(concentration),
		LiquidityRisk:      round1(liquidity),
		NumPositions:       len(positions),
		TotalValueADA:      totalValue,
	}
}

// LiquidityRisk averages per-position TVL and volume tiers.
func (s *Scorer) LiquidityRisk(positions []domain.Position) float64 {
	if len(positions) == 0 {
		return 0
	}
	total := 0.0
	for _, p := range positions {
		var tvlRisk float64
		switch {
		case p.TVLADA < 50_000:
			tvlRisk = 80
		case p.TVLADA < 100_000:
			tvlRisk = 60
		case p.TVLADA < 500_000:
			tvlRisk = 40
		default:
			tvlRisk = 20
		}
		var volumeRisk float64
		switch {
		case p.Volume24h < 10_000:
			volumeRisk = 60
		case p.Volume24h < 50_000:
			volumeRisk = 30
		default:
			volumeRisk = 10
		}
		total += (tvlRisk + volumeRisk) / 2
	}
	return total / float64(len(positions))
}

// ValidateTransaction checks a single planned transaction for safety.
func (s *Scorer) ValidateTransaction(txType string, amount float64, protocol string) domain.TransactionCheck {
	warnings := []string{}
	score := 30.0

	score += s.ProtocolRating(protocol) * 0.5

	if amount > 100_000 {
		warnings = append(warnings, "Large transaction amount")
		score += 20
	} else if amount > 50_000 {
		score += 10
	}

	switch txType {
	case "swap", "add_liquidity":
		score += 10
	case "lending_supply":
		score += 15
	}

	return domain.TransactionCheck{
		Approved:  score <= s.threshold,
		RiskScore: round1(score),
		Warnings:  warnings,
	}
}

// Protocols returns the known protocol names, sorted, for schema hints.
func (s *Scorer) Protocols() []string {
	names := make([]string, 0, len(s.ratings))
	for name := range s.ratings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func positionsAsAllocations(positions []domain.Position) []domain.Allocation {
	allocs := make([]domain.Allocation, len(positions))
	for i, p := range positions {
		allocs[i] = domain.Allocation{
			Protocol:          p.Protocol,
			Pool:              p.Pool,
			AllocationPercent: p.AllocationPercent,
		}
	}
	return allocs
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
