package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"yieldpilot/internal/domain"
	"yieldpilot/internal/llm"
)

// MarketData is the slice of the market client the agents consume.
type MarketData interface {
	Opportunities(ctx context.Context) []domain.Opportunity
}

// MarketAgent surveys live DEX and lending data and narrates it.
type MarketAgent struct {
	data      MarketData
	completer llm.Completer
	Now       func() time.Time
}

func NewMarketAgent(data MarketData, completer llm.Completer) *MarketAgent {
	return &MarketAgent{data: data, completer: completer, Now: time.Now}
}

func (a *MarketAgent) Type() domain.AgentType { return domain.AgentMarket }

type marketInput struct {
	Query  string  `json:"query"`
	MinTVL float64 `json:"min_tvl"`
	MinAPR float64 `json:"min_apr"`
}

type marketResult struct {
	Agent         string               `json:"agent"`
	Query         string               `json:"query"`
	Opportunities []domain.Opportunity `json:"opportunities"`
	Analysis      string               `json:"analysis"`
	Timestamp     string               `json:"timestamp"`
}

func (a *MarketAgent) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var in marketInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.Query == "" {
		in.Query = "Analyze Cardano DeFi opportunities"
	}

	opportunities := a.data.Opportunities(ctx)
	filtered := make([]domain.Opportunity, 0, len(opportunities))
	for _, o := range opportunities {
		if in.MinTVL > 0 && o.Type == "liquidity_pool" && o.TVLADA < in.MinTVL {
			continue
		}
		if in.MinAPR > 0 && o.APR < in.MinAPR {
			continue
		}
		filtered = append(filtered, o)
	}

	analysis, err := a.narrate(ctx, in.Query, filtered)
	if err != nil {
		return nil, fmt.Errorf("market analysis: %w", err)
	}

	return asResult(marketResult{
		Agent:         "market_intelligence",
		Query:         in.Query,
		Opportunities: filtered,
		Analysis:      analysis,
		Timestamp:     a.Now().UTC().Format(time.RFC3339),
	})
}

func (a *MarketAgent) narrate(ctx context.Context, query string, opportunities []domain.Opportunity) (string, error) {
	if len(opportunities) == 0 {
		return "No yield opportunities matched the current filters; upstream market data may be unavailable.", nil
	}

	var sb strings.Builder
	for i, o := range opportunities {
		if i >= 10 {
			break
		}
		label := o.Pair
		if label == "" {
			label = o.Asset
		}
		fmt.Fprintf(&sb, "- %s %s (%s): APR %.1f%%, risk %.0f/100\n",
			o.Protocol, label, o.Type, o.APR, o.RiskScore)
	}

	system := "You are a Cardano DeFi market analyst. Summarize the supplied " +
		"yield opportunities for an investor. Be factual: mention only the data " +
		"given, note notable risks, and keep it under 200 words."
	user := fmt.Sprintf("Question: %s\n\nOpportunities:\n%s", query, sb.String())
	return a.completer.Complete(ctx, system, user)
}

func (a *MarketAgent) InputSchema() InputSchema {
	return InputSchema{
		AgentType: string(domain.AgentMarket),
		Version:   "1.0.0",
		Fields: []SchemaField{
			{Name: "query", Type: "string", Required: false, Description: "Market analysis query or question"},
			{Name: "min_tvl", Type: "number", Required: false, Description: "Minimum TVL filter in ADA", Default: 100000},
			{Name: "min_apr", Type: "number", Required: false, Description: "Minimum APR filter in percent", Default: 5.0},
		},
	}
}
