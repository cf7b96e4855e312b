package agents_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"yieldpilot/internal/agents"
	"yieldpilot/internal/config"
	"yieldpilot/internal/domain"
	"yieldpilot/internal/optimizer"
	"yieldpilot/internal/risk"
)

type stubCompleter struct {
	reply string
	err   error
	last  string
}

func (s *stubCompleter) Complete(_ context.Context, _, userPrompt string) (string, error) {
	s.last = userPrompt
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type stubMarket struct {
	opportunities []domain.Opportunity
}

func (s *stubMarket) Opportunities(context.Context) []domain.Opportunity {
	return s.opportunities
}

func fixedNow() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func testScorer() *risk.Scorer {
	return risk.NewScorer(config.Default().Risk)
}

func TestMarketAgentFiltersAndNarrates(t *testing.T) {
	completer := &stubCompleter{reply: "Minswap ADA/DJED leads on risk-adjusted yield."}
	data := &stubMarket{opportunities: []domain.Opportunity{
		{Type: "liquidity_pool", Protocol: "minswap", Pair: "ADA/DJED", APR: 12.5, TVLADA: 2_000_000, RiskScore: 10},
		{Type: "liquidity_pool", Protocol: "sundaeswap", Pair: "ADA/MIN", APR: 15.8, TVLADA: 80_000, RiskScore: 30},
	}}
	agent := agents.NewMarketAgent(data, completer)
	agent.Now = fixedNow

	result, err := agent.Execute(context.Background(), map[string]any{
		"query":   "best stable pools",
		"min_tvl": 100_000,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	opps := result["opportunities"].([]any)
	if len(opps) != 1 {
		t.Fatalf("tvl filter: got %d opportunities", len(opps))
	}
	if result["analysis"] != completer.reply {
		t.Fatalf("analysis: %v", result["analysis"])
	}
	if !strings.Contains(completer.last, "ADA/DJED") {
		t.Fatalf("prompt missing opportunity data: %q", completer.last)
	}
	if result["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Fatalf("timestamp: %v", result["timestamp"])
	}
}

func TestMarketAgentEmptyDataSkipsLLM(t *testing.T) {
	completer := &stubCompleter{err: errors.New("llm down")}
	agent := agents.NewMarketAgent(&stubMarket{}, completer)
	agent.Now = fixedNow

	result, err := agent.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("execute with no data: %v", err)
	}
	analysis := result["analysis"].(string)
	if !strings.Contains(analysis, "No yield opportunities") {
		t.Fatalf("analysis: %q", analysis)
	}
}

func TestMarketAgentPropagatesLLMError(t *testing.T) {
	completer := &stubCompleter{err: errors.New("llm down")}
	data := &stubMarket{opportunities: []domain.Opportunity{
		{Type: "liquidity_pool", Protocol: "minswap", Pair: "ADA/DJED", APR: 12.5, TVLADA: 2_000_000},
	}}
	agent := agents.NewMarketAgent(data, completer)

	if _, err := agent.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error when the model is unavailable")
	}
}

func TestStrategyAgentProducesScoredStrategy(t *testing.T) {
	completer := &stubCompleter{reply: "Allocations fit a moderate profile."}
	agent := agents.NewStrategyAgent(optimizer.New(), testScorer(), &stubMarket{}, completer)
	agent.Now = fixedNow

	result, err := agent.Execute(context.Background(), map[string]any{
		"risk_tolerance": "moderate",
		"target_return":  12,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	strategy := result["strategy"].(map[string]any)
	if strategy["risk_tolerance"] != "moderate" {
		t.Fatalf("strategy: %v", strategy)
	}
	assessment := result["risk_assessment"].(map[string]any)
	if _, ok := assessment["overall_risk_score"].(float64); !ok {
		t.Fatalf("assessment: %v", assessment)
	}
	if result["ai_reasoning"] != completer.reply {
		t.Fatalf("reasoning: %v", result["ai_reasoning"])
	}
}

func TestRiskAgentRequiresSubject(t *testing.T) {
	agent := agents.NewRiskAgent(testScorer(), &stubCompleter{reply: "ok"})
	if _, err := agent.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestRiskAgentAssessesStrategy(t *testing.T) {
	completer := &stubCompleter{reply: "Risk is moderate, driven by concentration."}
	agent := agents.NewRiskAgent(testScorer(), completer)
	agent.Now = fixedNow

	result, err := agent.Execute(context.Background(), map[string]any{
		"strategy": map[string]any{
			"recommended_allocations": []any{
				map[string]any{"protocol": "minswap", "allocation_percent": 60, "expected_apr": 12},
				map[string]any{"protocol": "liqwid", "allocation_percent": 40, "expected_apr": 8},
			},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	assessment := result["assessment"].(map[string]any)
	if assessment["overall_risk_score"] != 30.2 {
		t.Fatalf("overall: %v", assessment["overall_risk_score"])
	}
	if assessment["approved"] != true {
		t.Fatalf("approved: %v", assessment["approved"])
	}
	if result["overall_risk_score"] != 30.2 || result["approved"] != true {
		t.Fatalf("headline fields: %v / %v", result["overall_risk_score"], result["approved"])
	}
	if !strings.Contains(completer.last, "30.2") {
		t.Fatalf("prompt missing computed score: %q", completer.last)
	}
}

func TestRiskAgentValidatesTransaction(t *testing.T) {
	agent := agents.NewRiskAgent(testScorer(), &stubCompleter{reply: "ok"})
	result, err := agent.Execute(context.Background(), map[string]any{
		"transaction": map[string]any{"type": "lending_supply", "amount": 200000, "protocol": "mystery"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	check := result["transaction_check"].(map[string]any)
	if check["approved"] != false || check["risk_score"] != 90.0 {
		t.Fatalf("check: %v", check)
	}
}

func TestRegistryAvailability(t *testing.T) {
	cfg := config.Default().Agents
	registry := agents.NewRegistry(cfg)
	registry.Register(agents.NewRiskAgent(testScorer(), &stubCompleter{reply: "ok"}))

	avail := registry.Availability()
	if !avail["risk"].Available {
		t.Fatalf("risk agent should be available: %+v", avail["risk"])
	}
	if avail["market"].Available {
		t.Fatal("market agent not registered, must be unavailable")
	}
	if avail["risk"].PriceLovelace != 20_000 {
		t.Fatalf("risk price: %v", avail["risk"].PriceLovelace)
	}

	if _, ok := registry.Get(domain.AgentMarket); ok {
		t.Fatal("unregistered agent returned")
	}
	if _, ok := registry.Get(domain.AgentRisk); !ok {
		t.Fatal("registered agent missing")
	}
}
