package chat

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"yieldpilot/internal/domain"
	"yieldpilot/internal/llm"
	"yieldpilot/internal/repo"
)

// Intents the classifier is allowed to emit.
const (
	intentOptimize  = "optimize_portfolio"
	intentMarket    = "market_query"
	intentRisk      = "risk_analysis"
	intentPortfolio = "portfolio_management"
	intentGreeting  = "greeting"
	intentHelp      = "help"
	intentOther     = "other"
)

// clarifyBelow is the confidence floor under which the service asks the
// user to rephrase instead of routing to an agent.
const clarifyBelow = 0.6

const classifySystemPrompt = `You are an intent classifier for a DeFi portfolio management AI.

Classify user messages into ONE of these intents:
- optimize_portfolio: User wants portfolio optimization/allocation advice
- market_query: User asks about market data, yields, APRs, DEXs
- risk_analysis: User asks about risk, safety, portfolio risk assessment
- portfolio_management: User wants to save, view, update their portfolio
- greeting: User says hi, hello, how are you
- help: User asks what you can do or how to use the system
- other: Doesn't fit above categories

Examples:
"Optimize my 10,000 ADA with moderate risk" -> optimize_portfolio
"What are the best yields on Cardano?" -> market_query
"Is this allocation safe?" -> risk_analysis
"Save this portfolio" -> portfolio_management
"Hello!" -> greeting

Respond with ONLY the intent name and confidence (0-1), format: "intent|confidence"
Example: "optimize_portfolio|0.9"`

// classifyIntent asks the model for an "intent|confidence" verdict over the
// message plus the tail of the conversation. Malformed confidence defaults to
// 0.8; a model failure degrades to ("other", 0.5) so the chat keeps working.
func classifyIntent(ctx context.Context, completer llm.Completer, message string, history []repo.Message) (string, float64) {
	var sb strings.Builder
	if len(history) > 0 {
		recent := history
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		sb.WriteString("Recent conversation:\n")
		for _, m := range recent {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "User message: %s", message)

	raw, err := completer.Complete(ctx, classifySystemPrompt, sb.String())
	if err != nil {
		return intentOther, 0.5
	}

	raw = strings.TrimSpace(raw)
	intent := raw
	confidence := 0.8
	if name, conf, found := strings.Cut(raw, "|"); found {
		intent = name
		if v, err := strconv.ParseFloat(strings.TrimSpace(conf), 64); err == nil {
			confidence = v
		}
	}
	return strings.ToLower(strings.TrimSpace(intent)), confidence
}

// entities are the structured facts pulled out of a free-text message.
type entities struct {
	ADAAmount     float64
	HasAmount     bool
	RiskTolerance string
	Protocols     []string
	TargetReturn  float64
	HasTarget     bool
}

var (
	adaAmountRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:ADA|ada)`)
	targetReturnRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%?\s*(?:APR|apr|return|yield)`)
)

var riskKeywords = []struct {
	level    string
	keywords []string
}{
	{"conservative", []string{"conservative", "safe", "low risk", "careful"}},
	{"moderate", []string{"moderate", "balanced", "medium risk", "mid"}},
	{"aggressive", []string{"aggressive", "high risk", "risky", "bold"}},
}

var knownProtocols = []string{"minswap", "sundaeswap", "liqwid", "indigo", "wingriders", "muesliswap"}

// extractEntities pulls amounts, risk tolerance, protocol names and target
// returns out of the message with plain pattern matching.
func extractEntities(message string) entities {
	var e entities

	// Thousands separators are stripped before matching so "10,000 ADA"
	// parses as one number.
	clean := strings.ReplaceAll(message, ",", "")
	if m := adaAmountRe.FindStringSubmatch(clean); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			e.ADAAmount = v
			e.HasAmount = true
		}
	}

	lower := strings.ToLower(message)
	for _, rk := range riskKeywords {
		for _, kw := range rk.keywords {
			if strings.Contains(lower, kw) {
				e.RiskTolerance = rk.level
				break
			}
		}
		if e.RiskTolerance != "" {
			break
		}
	}

	for _, p := range knownProtocols {
		if strings.Contains(lower, p) {
			e.Protocols = append(e.Protocols, p)
		}
	}

	if m := targetReturnRe.FindStringSubmatch(message); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			e.TargetReturn = v
			e.HasTarget = true
		}
	}

	return e
}

// agentForIntent maps an intent to the agent that should handle it.
// The second return is false for intents answered directly by the service.
func agentForIntent(intent string) (domain.AgentType, bool) {
	switch intent {
	case intentOptimize, intentPortfolio:
		return domain.AgentStrategy, true
	case intentMarket:
		return domain.AgentMarket, true
	case intentRisk:
		return domain.AgentRisk, true
	default:
		return "", false
	}
}

const clarifySystemPrompt = `You are a helpful DeFi portfolio assistant.
The user's request is unclear. Ask a friendly clarification question to understand what they want.

Keep it short and natural. Suggest what they might be asking about:
- Portfolio optimization
- Market data and yields
- Risk assessment
- Portfolio management

Example: "I'd be happy to help! Are you looking to optimize your portfolio allocation, check current market yields, or assess portfolio risk?"`

const clarifyFallback = "I'd be happy to help! Could you clarify if you're looking to optimize your portfolio, check market data, or assess risk?"

// clarify asks the model for a clarification question, falling back to a
// canned one if the model is unavailable.
func clarify(ctx context.Context, completer llm.Completer, message string) string {
	out, err := completer.Complete(ctx, clarifySystemPrompt, "User said: "+message)
	if err != nil || strings.TrimSpace(out) == "" {
		return clarifyFallback
	}
	return out
}
