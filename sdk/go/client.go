// Package yieldpilotsdk is a minimal YieldPilot HTTP API client.
package yieldpilotsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a YieldPilot server.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// AgentInfo describes one agent's availability and service terms.
type AgentInfo struct {
	Available     bool     `json:"available"`
	Name          string   `json:"name"`
	PriceLovelace int64    `json:"price_lovelace"`
	Capabilities  []string `json:"capabilities"`
}

// Availability is the service-wide availability projection.
type Availability struct {
	Available bool                 `json:"available"`
	Agents    map[string]AgentInfo `json:"agents"`
	Timestamp string               `json:"timestamp"`
	Version   string               `json:"version"`
}

// PaymentRequest is the payment side of a started job.
type PaymentRequest struct {
	PaymentID        string            `json:"payment_id"`
	AmountLovelace   int64             `json:"amount_lovelace"`
	RecipientAddress string            `json:"recipient_address"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// StartedJob is the response to StartJob.
type StartedJob struct {
	JobID          string         `json:"job_id"`
	Status         string         `json:"status"`
	PaymentRequest PaymentRequest `json:"payment_request"`
	CreatedAt      string         `json:"created_at"`
}

// Job represents the API job model.
type Job struct {
	JobID                   string         `json:"job_id"`
	AgentType               string         `json:"agent_type"`
	Status                  string         `json:"status"`
	PaymentID               string         `json:"payment_id"`
	InputData               map[string]any `json:"input_data,omitempty"`
	IdentifierFromPurchaser string         `json:"identifier_from_purchaser,omitempty"`
	CreatedAt               string         `json:"created_at"`
	UpdatedAt               string         `json:"updated_at"`
	Result                  map[string]any `json:"result,omitempty"`
	Error                   string         `json:"error,omitempty"`
}

// JobSummary is the list projection of a job.
type JobSummary struct {
	JobID     string `json:"job_id"`
	AgentType string `json:"agent_type"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Event is a job lifecycle log entry.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts"`
	Type      string `json:"type"`
	JobID     string `json:"job_id,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
	Payload   string `json:"payload_json"`
}

// ChatReply is the assistant's reply in a conversation.
type ChatReply struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
}

// User is an account on the chat surface.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Conversation groups chat messages for a user.
type Conversation struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Availability fetches the agent availability report.
func (c *Client) Availability(ctx context.Context) (Availability, error) {
	var resp Availability
	err := c.do(ctx, http.MethodGet, c.apiPath("availability"), nil, &resp)
	return resp, err
}

// InputSchema fetches the advertised input contract for an agent type.
func (c *Client) InputSchema(ctx context.Context, agentType string) (map[string]any, error) {
	var resp map[string]any
	endpoint := c.apiPath("input_schema") + "?agent_type=" + url.QueryEscape(agentType)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// StartJob opens a payment-gated job for an agent.
func (c *Client) StartJob(ctx context.Context, agentType string, inputData map[string]any, purchaserID string) (StartedJob, error) {
	body := map[string]any{
		"agent_type":                agentType,
		"input_data":                inputData,
		"identifier_from_purchaser": purchaserID,
	}
	var resp StartedJob
	err := c.do(ctx, http.MethodPost, c.apiPath("start_job"), body, &resp)
	return resp, err
}

// Status returns the full job projection.
func (c *Client) Status(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	endpoint := c.apiPath("status") + "?job_id=" + url.QueryEscape(jobID)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ProvideInput merges additional input into a pending job.
func (c *Client) ProvideInput(ctx context.Context, jobID string, additional map[string]any) (Job, error) {
	body := map[string]any{
		"job_id":           jobID,
		"additional_input": additional,
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, c.apiPath("provide_input"), body, &resp)
	return resp, err
}

// Cancel cancels a non-terminal job.
func (c *Client) Cancel(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	endpoint := c.apiPath("jobs/" + url.PathEscape(jobID))
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

// ListJobs returns all jobs known to the server.
func (c *Client) ListJobs(ctx context.Context) ([]JobSummary, error) {
	var resp []JobSummary
	err := c.do(ctx, http.MethodGet, c.apiPath("jobs"), nil, &resp)
	return resp, err
}

// Events returns lifecycle events after the given id.
func (c *Client) Events(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("%s?after_id=%d", c.apiPath("events"), afterID)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// JobEvents returns all events for one job.
func (c *Client) JobEvents(ctx context.Context, jobID string) ([]Event, error) {
	var resp []Event
	endpoint := c.apiPath("jobs/" + url.PathEscape(jobID) + "/events")
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Chat sends a message in an existing conversation.
func (c *Client) Chat(ctx context.Context, conversationID, message string) (ChatReply, error) {
	body := map[string]any{
		"conversation_id": conversationID,
		"message":         message,
	}
	var resp ChatReply
	err := c.do(ctx, http.MethodPost, c.apiPath("chat/message"), body, &resp)
	return resp, err
}

// CreateUser registers a user.
func (c *Client) CreateUser(ctx context.Context, email, displayName string) (User, error) {
	body := map[string]any{
		"email":        email,
		"display_name": displayName,
	}
	var resp User
	err := c.do(ctx, http.MethodPost, c.apiPath("users"), body, &resp)
	return resp, err
}

// CreateConversation opens a conversation for a user.
func (c *Client) CreateConversation(ctx context.Context, userID, title string) (Conversation, error) {
	body := map[string]any{
		"user_id": userID,
		"title":   title,
	}
	var resp Conversation
	err := c.do(ctx, http.MethodPost, c.apiPath("conversations"), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	return "v1/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
