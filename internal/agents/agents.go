// Package agents implements the three advisory agents behind the job
// protocol: market intelligence, strategy generation and risk analysis.
// Each agent takes the job's input payload and returns a structured
// result; failures propagate so the orchestrator can fail the job
// instead of inventing data.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"yieldpilot/internal/config"
	"yieldpilot/internal/domain"
)

// Agent is the uniform execution surface the orchestrator drives.
type Agent interface {
	Type() domain.AgentType
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
	InputSchema() InputSchema
}

// SchemaField describes one input parameter.
type SchemaField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
}

// InputSchema is the advertised input contract for one agent type.
type InputSchema struct {
	AgentType string        `json:"agent_type"`
	Version   string        `json:"version"`
	Fields    []SchemaField `json:"fields"`
}

// Registry holds the configured agents and their service terms.
type Registry struct {
	agents map[domain.AgentType]Agent
	cfg    map[string]config.AgentConfig
}

func NewRegistry(cfg map[string]config.AgentConfig) *Registry {
	return &Registry{
		agents: map[domain.AgentType]Agent{},
		cfg:    cfg,
	}
}

// Register adds an agent. Later registrations replace earlier ones.
func (r *Registry) Register(a Agent) {
	r.agents[a.Type()] = a
}

// Get returns the agent for a type if it is registered and enabled.
func (r *Registry) Get(at domain.AgentType) (Agent, bool) {
	a, ok := r.agents[at]
	if !ok {
		return nil, false
	}
	ac, ok := r.cfg[string(at)]
	if !ok || !ac.Enabled {
		return nil, false
	}
	return a, true
}

// Terms returns the configured service terms for an agent type.
func (r *Registry) Terms(at domain.AgentType) (config.AgentConfig, bool) {
	ac, ok := r.cfg[string(at)]
	return ac, ok
}

// AgentInfo is one entry of the availability report.
type AgentInfo struct {
	Available     bool     `json:"available"`
	Name          string   `json:"name"`
	PriceLovelace int64    `json:"price_lovelace"`
	Capabilities  []string `json:"capabilities"`
}

// Availability reports each configured agent type's availability.
func (r *Registry) Availability() map[string]AgentInfo {
	out := map[string]AgentInfo{}
	for _, at := range domain.AgentTypes() {
		ac := r.cfg[string(at)]
		_, registered := r.agents[at]
		out[string(at)] = AgentInfo{
			Available:     registered && ac.Enabled,
			Name:          ac.Name,
			PriceLovelace: ac.PriceLovelace,
			Capabilities:  ac.Capabilities,
		}
	}
	return out
}

// decodeInput maps a job's loose payload onto a typed input struct.
func decodeInput(input map[string]any, out any) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

// asResult converts a typed result into the job result payload.
func asResult(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
