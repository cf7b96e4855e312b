package server

import (
	"yieldpilot/internal/agents"
	"yieldpilot/internal/domain"
	"yieldpilot/internal/repo"
)

// Request payloads

type StartJobRequest struct {
	AgentType               string         `json:"agent_type" enum:"market,strategy,risk"`
	InputData               map[string]any `json:"input_data,omitempty"`
	IdentifierFromPurchaser string         `json:"identifier_from_purchaser,omitempty"`
}

type ProvideInputRequest struct {
	JobID           string         `json:"job_id"`
	AdditionalInput map[string]any `json:"additional_input"`
}

type ChatMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type CreateUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

type CreateConversationRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title,omitempty"`
}

// PlanTransactionRequest covers every stub kind; the type discriminates
// which fields are read.
type PlanTransactionRequest struct {
	Type           string  `json:"type" enum:"transfer,dex_swap,add_liquidity,remove_liquidity,lending_supply"`
	Protocol       string  `json:"protocol,omitempty"`
	PoolID         string  `json:"pool_id,omitempty"`
	FromAddress    string  `json:"from_address,omitempty"`
	ToAddress      string  `json:"to_address,omitempty"`
	AmountLovelace int64   `json:"amount_lovelace,omitempty"`
	FromToken      string  `json:"from_token,omitempty"`
	ToToken        string  `json:"to_token,omitempty"`
	AmountIn       float64 `json:"amount_in,omitempty"`
	MinAmountOut   float64 `json:"min_amount_out,omitempty"`
	TokenA         string  `json:"token_a,omitempty"`
	TokenB         string  `json:"token_b,omitempty"`
	AmountA        float64 `json:"amount_a,omitempty"`
	AmountB        float64 `json:"amount_b,omitempty"`
	LPTokenAmount  float64 `json:"lp_token_amount,omitempty"`
	Asset          string  `json:"asset,omitempty"`
	Amount         float64 `json:"amount,omitempty"`
	UserAddress    string  `json:"user_address,omitempty"`
}

// Response payloads

type AvailabilityResponse struct {
	Available bool                        `json:"available"`
	Agents    map[string]agents.AgentInfo `json:"agents"`
	Timestamp string                      `json:"timestamp" format:"date-time"`
	Version   string                      `json:"version"`
}

type StartJobResponse struct {
	JobID          string                `json:"job_id"`
	Status         domain.JobStatus      `json:"status"`
	PaymentRequest domain.PaymentRequest `json:"payment_request"`
	CreatedAt      string                `json:"created_at" format:"date-time"`
}

type ProvideInputResponse struct {
	JobID     string           `json:"job_id"`
	Status    domain.JobStatus `json:"status"`
	UpdatedAt string           `json:"updated_at" format:"date-time"`
}

type JobSummary struct {
	JobID     string           `json:"job_id"`
	AgentType domain.AgentType `json:"agent_type"`
	Status    domain.JobStatus `json:"status"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

type ChatMessageResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
}

type UserResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ConversationResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role" enum:"user,assistant"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type PlanTransactionResponse struct {
	Transaction          domain.UnsignedTx `json:"transaction"`
	EstimatedFeeLovelace int64             `json:"estimated_fee_lovelace"`
}

func jobSummaries(items []domain.Job) []JobSummary {
	out := make([]JobSummary, 0, len(items))
	for _, j := range items {
		out = append(out, JobSummary{
			JobID:     j.JobID,
			AgentType: j.AgentType,
			Status:    j.Status,
			CreatedAt: j.CreatedAt,
		})
	}
	return out
}

func userResponse(u repo.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, CreatedAt: u.CreatedAt}
}

func conversationResponse(c repo.Conversation) ConversationResponse {
	return ConversationResponse{ID: c.ID, UserID: c.UserID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func messageResponses(items []repo.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(items))
	for _, m := range items {
		out = append(out, MessageResponse{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Role:           m.Role,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		})
	}
	return out
}
