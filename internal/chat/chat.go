// Package chat is the conversational front to the advisory agents. A
// message is classified, mined for entities, then either answered
// directly (greetings, help, clarifications) or routed to an agent whose
// numeric output is rendered into markdown. Chat access is free: the
// payment-gated job protocol is the billable surface, this one is not.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"yieldpilot/internal/agents"
	"yieldpilot/internal/domain"
	"yieldpilot/internal/llm"
	"yieldpilot/internal/metrics"
	"yieldpilot/internal/repo"
)

// Service processes chat messages against the agent registry.
type Service struct {
	completer llm.Completer
	registry  *agents.Registry
	repo      *repo.Repo
	metrics   *metrics.Metrics
	log       *slog.Logger

	// Now is replaceable in tests.
	Now func() time.Time
}

func NewService(completer llm.Completer, registry *agents.Registry, r *repo.Repo, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		completer: completer,
		registry:  registry,
		repo:      r,
		metrics:   m,
		log:       log,
		Now:       time.Now,
	}
}

// ProcessMessage runs one user turn and returns the assistant reply. The
// turn is persisted when a repository is attached; persistence failures
// are logged and do not block the reply.
func (s *Service) ProcessMessage(ctx context.Context, conversationID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty message")
	}
	if s.metrics != nil {
		s.metrics.ChatMessages.Inc()
	}

	history := s.history(ctx, conversationID)
	s.persist(ctx, conversationID, "user", text)

	intent, confidence := classifyIntent(ctx, s.completer, text, history)
	ents := extractEntities(text)
	s.log.Debug("chat turn classified",
		"conversation_id", conversationID,
		"intent", intent,
		"confidence", confidence)

	var reply string
	switch {
	case confidence < clarifyBelow:
		reply = clarify(ctx, s.completer, text)
	case intent == intentGreeting:
		reply = greetingText
	case intent == intentHelp:
		reply = helpText
	default:
		if at, ok := agentForIntent(intent); ok {
			reply = s.routeToAgent(ctx, at, ents, text)
		} else {
			reply = "I understand you're asking about something, but I'm not quite sure what. Could you rephrase that?"
		}
	}

	s.persist(ctx, conversationID, "assistant", reply)
	return reply, nil
}

func (s *Service) history(ctx context.Context, conversationID string) []repo.Message {
	if s.repo == nil {
		return nil
	}
	msgs, err := s.repo.ListMessages(ctx, conversationID, 10)
	if err != nil {
		s.log.Warn("chat history unavailable", "conversation_id", conversationID, "error", err)
		return nil
	}
	return msgs
}

func (s *Service) persist(ctx context.Context, conversationID, role, content string) {
	if s.repo == nil {
		return
	}
	now := s.Now().UTC().Format(time.RFC3339)
	err := s.repo.AppendMessage(ctx, repo.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	})
	if err != nil {
		s.log.Warn("chat message not persisted", "conversation_id", conversationID, "error", err)
		return
	}
	if err := s.repo.TouchConversation(ctx, conversationID, now); err != nil && err != repo.ErrNotFound {
		s.log.Warn("conversation not touched", "conversation_id", conversationID, "error", err)
	}
}

// routeToAgent builds the agent input from the extracted entities, runs
// the agent and renders its structured result. Agent failures become a
// polite reply rather than an error: chat is a best-effort surface.
func (s *Service) routeToAgent(ctx context.Context, at domain.AgentType, ents entities, text string) string {
	agent, ok := s.registry.Get(at)
	if !ok {
		return fmt.Sprintf("The %s agent is not available right now. Please try again later.", at)
	}

	input := s.agentInput(at, ents, text)
	result, err := agent.Execute(ctx, input)
	if err != nil {
		s.log.Warn("chat agent call failed", "agent_type", at, "error", err)
		return fmt.Sprintf("I encountered an error with the %s agent. Please try again.", at)
	}

	switch at {
	case domain.AgentMarket:
		return formatMarketReply(result)
	case domain.AgentStrategy:
		return formatStrategyReply(result, ents)
	case domain.AgentRisk:
		return formatRiskReply(result)
	}
	return fmt.Sprintf("I'm not sure how to present the %s agent's answer yet.", at)
}

func (s *Service) agentInput(at domain.AgentType, ents entities, text string) map[string]any {
	switch at {
	case domain.AgentMarket:
		minAPR := 5.0
		if ents.HasTarget {
			minAPR = ents.TargetReturn
		}
		return map[string]any{
			"query":   text,
			"min_apr": minAPR,
		}
	case domain.AgentStrategy:
		amount := 10000.0
		if ents.HasAmount {
			amount = ents.ADAAmount
		}
		tolerance := ents.RiskTolerance
		if tolerance == "" {
			tolerance = "moderate"
		}
		target := 12.0
		if ents.HasTarget {
			target = ents.TargetReturn
		}
		return map[string]any{
			"user_portfolio": map[string]any{
				"ada_balance": amount,
				"positions":   []any{},
			},
			"risk_tolerance": tolerance,
			"target_return":  target,
		}
	case domain.AgentRisk:
		// A concrete transaction check when the message names a protocol
		// and an amount; otherwise a baseline strategy assessment.
		if ents.HasAmount && len(ents.Protocols) > 0 {
			return map[string]any{
				"transaction": map[string]any{
					"type":     "add_liquidity",
					"amount":   ents.ADAAmount,
					"protocol": ents.Protocols[0],
				},
			}
		}
		return map[string]any{
			"strategy": map[string]any{
				"recommended_allocations": []any{},
			},
		}
	}
	return map[string]any{}
}

// decodeResult maps an agent's loose result payload onto a typed view.
func decodeResult(result map[string]any, out any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func formatMarketReply(result map[string]any) string {
	var r struct {
		Opportunities []domain.Opportunity `json:"opportunities"`
	}
	if err := decodeResult(result, &r); err != nil {
		return "I couldn't fetch market data right now. Please try again."
	}
	if len(r.Opportunities) == 0 {
		return "I couldn't find any yield opportunities matching your criteria right now."
	}

	var sb strings.Builder
	sb.WriteString("Here are the top DeFi opportunities on Cardano:\n\n")
	for i, o := range r.Opportunities {
		if i >= 5 {
			break
		}
		label := o.Pair
		if label == "" {
			label = o.Asset
		}
		fmt.Fprintf(&sb, "%d. **%s** - %s\n", i+1, o.Protocol, label)
		fmt.Fprintf(&sb, "   • APR: %g%%\n", o.APR)
		if o.TVLADA > 0 {
			fmt.Fprintf(&sb, "   • TVL: %.0f ADA\n", o.TVLADA)
		}
		fmt.Fprintf(&sb, "   • Risk Score: %g/100\n\n", o.RiskScore)
	}
	sb.WriteString("Would you like me to create a portfolio strategy based on these opportunities?")
	return sb.String()
}

func formatStrategyReply(result map[string]any, ents entities) string {
	var r struct {
		Strategy   domain.Strategy       `json:"strategy"`
		Assessment domain.RiskAssessment `json:"risk_assessment"`
	}
	if err := decodeResult(result, &r); err != nil {
		return "I couldn't generate a strategy right now. Please try again."
	}

	amount := 10000.0
	if ents.HasAmount {
		amount = ents.ADAAmount
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "I've created an optimized strategy for your %.0f ADA portfolio:\n\n", amount)
	fmt.Fprintf(&sb, "**Target:** %s risk, %g%% APR\n", r.Strategy.RiskTolerance, r.Strategy.TargetReturn)
	fmt.Fprintf(&sb, "**Expected Results:** %g%% APR, Risk Score: %g/100\n\n",
		r.Strategy.ExpectedPortfolioAPR, r.Assessment.OverallRiskScore)
	sb.WriteString("**Recommended Allocation:**\n\n")

	for i, a := range r.Strategy.RecommendedAllocations {
		target := a.Pool
		if target == "" {
			target = a.Asset
		}
		fmt.Fprintf(&sb, "%d. **%s** - %s\n", i+1, a.Protocol, target)
		fmt.Fprintf(&sb, "   • Allocation: %g%% (%.0f ADA)\n", a.AllocationPercent, amount*a.AllocationPercent/100)
		fmt.Fprintf(&sb, "   • Expected APR: %g%%\n\n", a.ExpectedAPR)
	}
	sb.WriteString("Would you like me to assess the risk of this strategy or save it to your portfolio?")
	return sb.String()
}

func formatRiskReply(result map[string]any) string {
	var r struct {
		Assessment  *domain.RiskAssessment   `json:"assessment"`
		Health      *domain.PortfolioHealth  `json:"portfolio_health"`
		Transaction *domain.TransactionCheck `json:"transaction_check"`
	}
	if err := decodeResult(result, &r); err != nil {
		return "I couldn't perform risk assessment right now. Please try again."
	}

	var sb strings.Builder
	sb.WriteString("**Risk Assessment Results:**\n\n")

	if r.Assessment != nil {
		fmt.Fprintf(&sb, "Overall Risk Score: %g/100 %s\n", r.Assessment.OverallRiskScore, riskBand(r.Assessment.OverallRiskScore))
		if r.Assessment.Approved {
			sb.WriteString("Status: Approved\n\n")
		} else {
			sb.WriteString("Status: Not Recommended\n\n")
		}
		writeBullets(&sb, "**Warnings:**", r.Assessment.Warnings)
		writeBullets(&sb, "**Recommendations:**", r.Assessment.Recommendations)
	}
	if r.Transaction != nil {
		fmt.Fprintf(&sb, "Transaction Risk Score: %g/100 %s\n", r.Transaction.RiskScore, riskBand(r.Transaction.RiskScore))
		if r.Transaction.Approved {
			sb.WriteString("Status: Approved\n\n")
		} else {
			sb.WriteString("Status: Not Recommended\n\n")
		}
		writeBullets(&sb, "**Warnings:**", r.Transaction.Warnings)
	}
	if r.Health != nil {
		fmt.Fprintf(&sb, "Portfolio Health: %g/100 across %d positions\n",
			r.Health.OverallHealthScore, r.Health.NumPositions)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func riskBand(score float64) string {
	switch {
	case score < 30:
		return "(Low Risk)"
	case score < 60:
		return "(Moderate Risk)"
	default:
		return "(High Risk)"
	}
}

func writeBullets(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(heading + "\n")
	for _, it := range items {
		fmt.Fprintf(sb, "• %s\n", it)
	}
	sb.WriteString("\n")
}

const greetingText = "Hello! I'm YieldPilot, your DeFi portfolio assistant for Cardano.\n\n" +
	"I can help you with:\n" +
	"• Portfolio optimization and allocation strategies\n" +
	"• Current market yields and opportunities\n" +
	"• Risk assessment for your portfolio\n" +
	"• Portfolio management and tracking\n\n" +
	"What would you like help with today?"

const helpText = "I can help you with DeFi portfolio management on Cardano! Here are some things you can ask:\n\n" +
	"**Market Data:**\n" +
	"• \"What are the best yields right now?\"\n" +
	"• \"Show me Minswap pools\"\n" +
	"• \"Compare DEX rates\"\n\n" +
	"**Portfolio Optimization:**\n" +
	"• \"Optimize my 10,000 ADA portfolio\"\n" +
	"• \"I want moderate risk allocation\"\n" +
	"• \"Target 12% APR return\"\n\n" +
	"**Risk Analysis:**\n" +
	"• \"Is this allocation safe?\"\n" +
	"• \"What's my portfolio risk?\"\n" +
	"• \"Assess this strategy\"\n\n" +
	"Just ask naturally and I'll route it to the right agent."
