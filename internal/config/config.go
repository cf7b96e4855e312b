package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models yieldpilot.yml.
type Config struct {
	Service struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"service"`
	Agents map[string]AgentConfig `yaml:"agents"`
	Risk   RiskConfig             `yaml:"risk"`
	Payment PaymentConfig         `yaml:"payment"`
	LLM     LLMConfig             `yaml:"llm"`
	Market  MarketConfig          `yaml:"market"`
	Webhooks []WebhookConfig      `yaml:"webhooks,omitempty"`
}

// AgentConfig describes one advisory agent's service terms.
type AgentConfig struct {
	Name           string   `yaml:"name"`
	Enabled        bool     `yaml:"enabled"`
	PriceLovelace  int64    `yaml:"price_lovelace"`
	WalletAddress  string   `yaml:"wallet_address"`
	Capabilities   []string `yaml:"capabilities"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// RiskConfig carries the scoring weights and thresholds. These are policy
// defaults, not invariants; deployments may tune them.
type RiskConfig struct {
	Weights struct {
		Concentration float64 `yaml:"concentration"`
		Protocol      float64 `yaml:"protocol"`
		APR           float64 `yaml:"apr"`
	} `yaml:"weights"`
	ApprovalThreshold float64            `yaml:"approval_threshold"`
	ProtocolRatings   map[string]float64 `yaml:"protocol_ratings"`
	DefaultRating     float64            `yaml:"default_rating"`
}

// PaymentConfig bounds the payment confirmation polling.
type PaymentConfig struct {
	GatewayURL     string `yaml:"gateway_url"`
	Mode           string `yaml:"mode"` // simulate or live
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	MaxAttempts    int    `yaml:"max_attempts"`
}

// Interval returns the poll interval as a duration.
func (p PaymentConfig) Interval() time.Duration {
	return time.Duration(p.PollIntervalMS) * time.Millisecond
}

// LLMConfig selects the text-completion backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, anthropic or ollama
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	OllamaHost  string  `yaml:"ollama_host"`
	Temperature float64 `yaml:"temperature"`
}

// MarketConfig points at the DEX indexing APIs.
type MarketConfig struct {
	MinswapURL    string  `yaml:"minswap_url"`
	SundaeswapURL string  `yaml:"sundaeswap_url"`
	LiqwidURL     string  `yaml:"liqwid_url"`
	MinTVL        float64 `yaml:"min_tvl"`
	MinAPR        float64 `yaml:"min_apr"`
}

// WebhookConfig describes one job-event webhook target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run yp init or set --config", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config.service.name is required")
	}
	for _, at := range []string{"market", "strategy", "risk"} {
		ac, ok := c.Agents[at]
		if !ok {
			return fmt.Errorf("config.agents.%s is required", at)
		}
		if ac.PriceLovelace < 0 {
			return fmt.Errorf("config.agents.%s.price_lovelace must be >= 0", at)
		}
		if ac.Enabled && ac.WalletAddress == "" {
			return fmt.Errorf("config.agents.%s.wallet_address is required when enabled", at)
		}
	}
	w := c.Risk.Weights
	sum := w.Concentration + w.Protocol + w.APR
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("config.risk.weights must sum to 1.0, got %.3f", sum)
	}
	if c.Risk.ApprovalThreshold <= 0 || c.Risk.ApprovalThreshold > 100 {
		return fmt.Errorf("config.risk.approval_threshold must be in (0, 100]")
	}
	if c.Payment.PollIntervalMS <= 0 {
		return fmt.Errorf("config.payment.poll_interval_ms must be positive")
	}
	if c.Payment.MaxAttempts <= 0 {
		return fmt.Errorf("config.payment.max_attempts must be positive")
	}
	switch c.Payment.Mode {
	case "simulate", "live":
	default:
		return fmt.Errorf("config.payment.mode must be simulate or live")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("config.llm.provider must be openai, anthropic or ollama")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "yieldpilot.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  name: yieldpilot
  version: 1.0.0

agents:
  market:
    name: Market Intelligence Agent
    enabled: true
    price_lovelace: 10000
    wallet_address: addr_test1market_demo
    capabilities: [market_analysis, yield_opportunities, protocol_data]
    timeout_seconds: 60
  strategy:
    name: Strategy Executor Agent
    enabled: true
    price_lovelace: 50000
    wallet_address: addr_test1strategy_demo
    capabilities: [portfolio_optimization, strategy_generation, allocation]
    timeout_seconds: 60
  risk:
    name: Risk Guardian Agent
    enabled: true
    price_lovelace: 20000
    wallet_address: addr_test1risk_demo
    capabilities: [risk_assessment, strategy_validation, risk_scoring]
    timeout_seconds: 60

risk:
  weights:
    concentration: 0.3
    protocol: 0.4
    apr: 0.3
  approval_threshold: 70
  default_rating: 50
  protocol_ratings:
    minswap: 25
    sundaeswap: 30
    liqwid: 35
    indigo: 40
    muesliswap: 35
    wingriders: 30

payment:
  gateway_url: http://localhost:8080/payment
  mode: simulate
  poll_interval_ms: 2000
  max_attempts: 30

llm:
  provider: openai
  model: gpt-4o-mini
  api_key_env: YIELDPILOT_LLM_API_KEY
  ollama_host: http://localhost:11434
  temperature: 0.3

market:
  minswap_url: https://api.minswap.org
  sundaeswap_url: https://api.sundaeswap.finance
  liqwid_url: https://api.liqwid.finance
  min_tvl: 100000
  min_apr: 5.0
`
