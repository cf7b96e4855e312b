package domain

// AgentType identifies one of the three advisory agents.
type AgentType string

const (
	AgentMarket   AgentType = "market"
	AgentStrategy AgentType = "strategy"
	AgentRisk     AgentType = "risk"
)

// AgentTypes lists all valid agent types in a stable order.
func AgentTypes() []AgentType {
	return []AgentType{AgentMarket, AgentStrategy, AgentRisk}
}

// ValidAgentType reports whether s names a known agent.
func ValidAgentType(s string) bool {
	switch AgentType(s) {
	case AgentMarket, AgentStrategy, AgentRisk:
		return true
	}
	return false
}

// JobStatus is the payment-gated job lifecycle state.
type JobStatus string

const (
	JobAwaitingPayment JobStatus = "awaiting_payment"
	JobPaymentReceived JobStatus = "payment_received"
	JobInProgress      JobStatus = "in_progress"
	JobCompleted       JobStatus = "completed"
	JobFailed          JobStatus = "failed"
	JobCancelled       JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is one unit of billable agent work.
type Job struct {
	JobID                   string         `json:"job_id"`
	AgentType               AgentType      `json:"agent_type" enum:"market,strategy,risk"`
	Status                  JobStatus      `json:"status" enum:"awaiting_payment,payment_received,in_progress,completed,failed,cancelled"`
	PaymentID               string         `json:"payment_id"`
	PaymentStatus           string         `json:"payment_status,omitempty"`
	InputData               map[string]any `json:"input_data,omitempty"`
	IdentifierFromPurchaser string         `json:"identifier_from_purchaser,omitempty"`
	CreatedAt               string         `json:"created_at" format:"date-time"`
	UpdatedAt               string         `json:"updated_at" format:"date-time"`
	Result                  map[string]any `json:"result,omitempty"`
	Error                   string         `json:"error,omitempty"`
}

// PaymentRequest is the payment side of a started job. Immutable once created.
type PaymentRequest struct {
	PaymentID        string            `json:"payment_id"`
	AmountLovelace   int64             `json:"amount_lovelace"`
	RecipientAddress string            `json:"recipient_address"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Allocation is one line item of a Strategy.
type Allocation struct {
	Protocol          string   `json:"protocol"`
	Pool              string   `json:"pool,omitempty"`
	Asset             string   `json:"asset,omitempty"`
	AllocationPercent float64  `json:"allocation_percent"`
	ExpectedAPR       float64  `json:"expected_apr"`
	RiskScore         *float64 `json:"risk_score,omitempty"`
	Action            string   `json:"action,omitempty"`
}

// RebalanceTx is a planned (never executed) rebalancing transaction.
type RebalanceTx struct {
	Type            string  `json:"type"`
	Protocol        string  `json:"protocol"`
	Pool            string  `json:"pool,omitempty"`
	Asset           string  `json:"asset,omitempty"`
	TokenA          string  `json:"token_a,omitempty"`
	TokenB          string  `json:"token_b,omitempty"`
	AmountA         float64 `json:"amount_a,omitempty"`
	AmountBEstimate float64 `json:"amount_b_estimate,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
}

// Strategy is a generated allocation plan.
type Strategy struct {
	StrategyID             string        `json:"strategy_id"`
	RiskTolerance          string        `json:"risk_tolerance" enum:"conservative,moderate,aggressive"`
	TargetReturn           float64       `json:"target_return"`
	RecommendedAllocations []Allocation  `json:"recommended_allocations"`
	ExpectedPortfolioAPR   float64       `json:"expected_portfolio_apr"`
	ExpectedPortfolioRisk  float64       `json:"expected_portfolio_risk"`
	RebalancingTxs         []RebalanceTx `json:"rebalancing_transactions,omitempty"`
	EstimatedFees          float64       `json:"estimated_fees"`
	DiversificationTarget  float64       `json:"diversification_target"`
	Timestamp              string        `json:"timestamp" format:"date-time"`
}

// RiskAssessment is the derived risk view of a Strategy's allocations.
type RiskAssessment struct {
	OverallRiskScore     float64  `json:"overall_risk_score"`
	ConcentrationRisk    float64  `json:"concentration_risk"`
	ProtocolRisk         float64  `json:"protocol_risk"`
	APRRisk              float64  `json:"apr_risk"`
	DiversificationScore float64  `json:"diversification_score"`
	Warnings             []string `json:"warnings"`
	Recommendations      []string `json:"recommendations"`
	Approved             bool     `json:"approved"`
}

// Position is one existing holding, used for portfolio health checks.
type Position struct {
	Protocol          string  `json:"protocol"`
	Pool              string  `json:"pool,omitempty"`
	AllocationPercent float64 `json:"allocation_percent"`
	ValueADA          float64 `json:"value_ada"`
	TVLADA            float64 `json:"tvl_ada"`
	Volume24h         float64 `json:"volume_24h"`
}

// PortfolioHealth summarizes the state of existing holdings.
type PortfolioHealth struct {
	OverallHealthScore float64 `json:"overall_health_score"`
	ConcentrationRisk  float64 `json:"concentration_risk"`
	LiquidityRisk      float64 `json:"liquidity_risk"`
	NumPositions       int     `json:"num_positions"`
	TotalValueADA      float64 `json:"total_value_ada"`
}

// TransactionCheck is the safety verdict for a single planned transaction.
type TransactionCheck struct {
	Approved  bool     `json:"approved"`
	RiskScore float64  `json:"risk_score"`
	Warnings  []string `json:"warnings"`
}

// Pool is a DEX liquidity pool snapshot from an upstream indexer.
type Pool struct {
	PoolID    string  `json:"pool_id"`
	Protocol  string  `json:"protocol"`
	TokenA    string  `json:"token_a"`
	TokenB    string  `json:"token_b"`
	TVLADA    float64 `json:"tvl_ada"`
	APR       float64 `json:"apr"`
	Volume24h float64 `json:"volume_24h"`
	Fees24h   float64 `json:"fees_24h"`
}

// LendingMarket is a lending protocol market snapshot.
type LendingMarket struct {
	Protocol         string  `json:"protocol"`
	Asset            string  `json:"asset"`
	SupplyAPR        float64 `json:"supply_apr"`
	BorrowAPR        float64 `json:"borrow_apr"`
	TotalSupply      float64 `json:"total_supply"`
	TotalBorrowed    float64 `json:"total_borrowed"`
	UtilizationRate  float64 `json:"utilization_rate"`
	CollateralFactor float64 `json:"collateral_factor"`
}

// Opportunity is a scored yield opportunity across protocols.
type Opportunity struct {
	Type        string  `json:"type"`
	Protocol    string  `json:"protocol"`
	PoolID      string  `json:"pool_id,omitempty"`
	Pair        string  `json:"pair,omitempty"`
	Asset       string  `json:"asset,omitempty"`
	APR         float64 `json:"apr"`
	TVLADA      float64 `json:"tvl_ada,omitempty"`
	TotalSupply float64 `json:"total_supply,omitempty"`
	Utilization float64 `json:"utilization,omitempty"`
	RiskScore   float64 `json:"risk_score"`
}

// UnsignedTx is a structurally built but never signed transaction stub.
type UnsignedTx struct {
	Type        string         `json:"type"`
	Protocol    string         `json:"protocol,omitempty"`
	Status      string         `json:"status" enum:"unsigned"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	CBOR        *string        `json:"cbor"`
	TxHash      *string        `json:"tx_hash"`
}

// User is an account in the conversational layer.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Conversation groups chat messages for a user.
type Conversation struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Message is one chat turn.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role" enum:"user,assistant"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// Event is one job lifecycle log entry.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	JobID     string `json:"job_id,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
	Payload   string `json:"payload_json"`
}
