package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"yieldpilot/internal/domain"
	"yieldpilot/internal/llm"
	"yieldpilot/internal/optimizer"
	"yieldpilot/internal/risk"
)

// StrategyAgent generates allocation strategies constrained by the
// requested risk tolerance, scored by the risk engine before delivery.
type StrategyAgent struct {
	optimizer *optimizer.Optimizer
	scorer    *risk.Scorer
	data      MarketData
	completer llm.Completer
	Now       func() time.Time
}

func NewStrategyAgent(opt *optimizer.Optimizer, scorer *risk.Scorer, data MarketData, completer llm.Completer) *StrategyAgent {
	return &StrategyAgent{optimizer: opt, scorer: scorer, data: data, completer: completer, Now: time.Now}
}

func (a *StrategyAgent) Type() domain.AgentType { return domain.AgentStrategy }

type strategyInput struct {
	UserPortfolio map[string]any `json:"user_portfolio"`
	RiskTolerance string         `json:"risk_tolerance"`
	TargetReturn  float64        `json:"target_return"`
}

type strategyResult struct {
	Agent       string                `json:"agent"`
	Strategy    domain.Strategy       `json:"strategy"`
	Assessment  domain.RiskAssessment `json:"risk_assessment"`
	AIReasoning string                `json:"ai_reasoning"`
	Timestamp   string                `json:"timestamp"`
}

func (a *StrategyAgent) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var in strategyInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.RiskTolerance == "" {
		in.RiskTolerance = "moderate"
	}
	if in.TargetReturn == 0 {
		in.TargetReturn = 12
	}

	opportunities := a.data.Opportunities(ctx)
	strategy := a.optimizer.Optimize(in.RiskTolerance, in.TargetReturn, opportunities)
	assessment := a.scorer.AnalyzeStrategy(strategy.RecommendedAllocations)

	reasoning, err := a.explain(ctx, in, strategy, assessment)
	if err != nil {
		return nil, fmt.Errorf("strategy reasoning: %w", err)
	}

	return asResult(strategyResult{
		Agent:       "strategy_executor",
		Strategy:    strategy,
		Assessment:  assessment,
		AIReasoning: reasoning,
		Timestamp:   a.Now().UTC().Format(time.RFC3339),
	})
}

func (a *StrategyAgent) explain(ctx context.Context, in strategyInput, strategy domain.Strategy, assessment domain.RiskAssessment) (string, error) {
	var sb strings.Builder
	for _, alloc := range strategy.RecommendedAllocations {
		target := alloc.Pool
		if target == "" {
			target = alloc.Asset
		}
		fmt.Fprintf(&sb, "- %s %s: %.1f%% at %.1f%% APR\n",
			alloc.Protocol, target, alloc.AllocationPercent, alloc.ExpectedAPR)
	}
	portfolio := "not provided"
	if len(in.UserPortfolio) > 0 {
		parts := make([]string, 0, len(in.UserPortfolio))
		for _, k := range sortedKeys(in.UserPortfolio) {
			parts = append(parts, fmt.Sprintf("%s=%v", k, in.UserPortfolio[k]))
		}
		portfolio = strings.Join(parts, ", ")
	}

	system := "You are a DeFi portfolio strategist for Cardano. Explain the " +
		"given allocation plan to the investor: why each position fits the " +
		"stated risk tolerance and target return, and what the risk assessment " +
		"implies. Use only the data given; do not add positions or numbers."
	user := fmt.Sprintf(
		"Risk tolerance: %s\nTarget return: %.1f%%\nCurrent portfolio: %s\n\nPlan:\n%sOverall risk %.1f/100 (approved=%t)",
		in.RiskTolerance, in.TargetReturn, portfolio, sb.String(),
		assessment.OverallRiskScore, assessment.Approved)
	return a.completer.Complete(ctx, system, user)
}

func (a *StrategyAgent) InputSchema() InputSchema {
	return InputSchema{
		AgentType: string(domain.AgentStrategy),
		Version:   "1.0.0",
		Fields: []SchemaField{
			{Name: "user_portfolio", Type: "object", Required: false, Description: "Current portfolio holdings"},
			{Name: "risk_tolerance", Type: "string", Required: true, Description: "conservative, moderate or aggressive"},
			{Name: "target_return", Type: "number", Required: true, Description: "Target annual return in percent"},
		},
	}
}
