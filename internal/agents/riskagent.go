package agents

import (
	"context"
	"fmt"
	"time"

	"yieldpilot/internal/domain"
	"yieldpilot/internal/llm"
	"yieldpilot/internal/risk"
)

// RiskAgent evaluates strategies, portfolios and planned transactions.
// The scores come from the deterministic risk engine; the LLM only
// narrates them.
type RiskAgent struct {
	scorer    *risk.Scorer
	completer llm.Completer
	Now       func() time.Time
}

func NewRiskAgent(scorer *risk.Scorer, completer llm.Completer) *RiskAgent {
	return &RiskAgent{scorer: scorer, completer: completer, Now: time.Now}
}

func (a *RiskAgent) Type() domain.AgentType { return domain.AgentRisk }

type riskInput struct {
	Strategy *struct {
		RecommendedAllocations []domain.Allocation `json:"recommended_allocations"`
	} `json:"strategy"`
	Positions   []domain.Position `json:"positions"`
	Transaction *struct {
		Type     string  `json:"type"`
		Amount   float64 `json:"amount"`
		Protocol string  `json:"protocol"`
	} `json:"transaction"`
}

type riskResult struct {
	Agent           string                   `json:"agent"`
	Assessment      *domain.RiskAssessment   `json:"assessment,omitempty"`
	PortfolioHealth *domain.PortfolioHealth  `json:"portfolio_health,omitempty"`
	Transaction     *domain.TransactionCheck `json:"transaction_check,omitempty"`

	// Headline figures duplicated from the assessment so callers can
	// read result.overall_risk_score without unpacking the nested view.
	OverallRiskScore *float64 `json:"overall_risk_score,omitempty"`
	Approved         *bool    `json:"approved,omitempty"`

	AIAnalysis string `json:"ai_analysis"`
	Timestamp  string `json:"timestamp"`
}

func (a *RiskAgent) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var in riskInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.Strategy == nil && len(in.Positions) == 0 && in.Transaction == nil {
		return nil, fmt.Errorf("invalid input: one of strategy, positions or transaction is required")
	}

	out := riskResult{
		Agent:     "risk_guardian",
		Timestamp: a.Now().UTC().Format(time.RFC3339),
	}

	if in.Strategy != nil {
		assessment := a.scorer.AnalyzeStrategy(in.Strategy.RecommendedAllocations)
		out.Assessment = &assessment
		out.OverallRiskScore = &assessment.OverallRiskScore
		out.Approved = &assessment.Approved
	}
	if len(in.Positions) > 0 {
		health := a.scorer.PortfolioHealth(in.Positions)
		out.PortfolioHealth = &health
	}
	if in.Transaction != nil {
		check := a.scorer.ValidateTransaction(in.Transaction.Type, in.Transaction.Amount, in.Transaction.Protocol)
		out.Transaction = &check
	}

	analysis, err := a.narrate(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("risk analysis: %w", err)
	}
	out.AIAnalysis = analysis

	return asResult(out)
}

func (a *RiskAgent) narrate(ctx context.Context, r riskResult) (string, error) {
	user := ""
	if r.Assessment != nil {
		user += fmt.Sprintf(
			"Strategy risk: overall %.1f/100 (concentration %.1f, protocol %.1f, apr %.1f), approved=%t, warnings=%v\n",
			r.Assessment.OverallRiskScore, r.Assessment.ConcentrationRisk,
			r.Assessment.ProtocolRisk, r.Assessment.APRRisk,
			r.Assessment.Approved, r.Assessment.Warnings)
	}
	if r.PortfolioHealth != nil {
		user += fmt.Sprintf(
			"Portfolio health: %.1f/100 over %d positions (concentration %.1f, liquidity %.1f)\n",
			r.PortfolioHealth.OverallHealthScore, r.PortfolioHealth.NumPositions,
			r.PortfolioHealth.ConcentrationRisk, r.PortfolioHealth.LiquidityRisk)
	}
	if r.Transaction != nil {
		user += fmt.Sprintf(
			"Transaction check: risk %.1f/100, approved=%t, warnings=%v\n",
			r.Transaction.RiskScore, r.Transaction.Approved, r.Transaction.Warnings)
	}

	system := "You are a DeFi risk analyst. Interpret the computed risk " +
		"figures for the investor in plain language. Do not change or invent " +
		"any numbers; explain what drives them and what to watch."
	return a.completer.Complete(ctx, system, user)
}

func (a *RiskAgent) InputSchema() InputSchema {
	return InputSchema{
		AgentType: string(domain.AgentRisk),
		Version:   "1.0.0",
		Fields: []SchemaField{
			{Name: "strategy", Type: "object", Required: false, Description: "Strategy object with recommended_allocations"},
			{Name: "positions", Type: "array", Required: false, Description: "Existing portfolio positions for a health check"},
			{Name: "transaction", Type: "object", Required: false, Description: "Planned transaction with type, amount and protocol"},
		},
	}
}
