package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"yieldpilot/internal/domain"
)

// Client talks to a payment gateway over HTTP. Gateway failures are
// returned to the caller; there is no silent simulation fallback.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type createRequestBody struct {
	JobID            string            `json:"job_id"`
	AmountLovelace   int64             `json:"amount_lovelace"`
	RecipientAddress string            `json:"recipient_address"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type createRequestResponse struct {
	PaymentID        string `json:"payment_id"`
	AmountLovelace   int64  `json:"amount_lovelace"`
	RecipientAddress string `json:"recipient_address"`
}

func (c *Client) CreateRequest(ctx context.Context, jobID string, amountLovelace int64, recipientAddress string, metadata map[string]string) (domain.PaymentRequest, error) {
	body, err := json.Marshal(createRequestBody{
		JobID:            jobID,
		AmountLovelace:   amountLovelace,
		RecipientAddress: recipientAddress,
		Metadata:         metadata,
	})
	if err != nil {
		return domain.PaymentRequest{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment/create-request", bytes.NewReader(body))
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("create payment request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return domain.PaymentRequest{}, fmt.Errorf("create payment request: gateway returned %d", resp.StatusCode)
	}

	var out createRequestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("decode payment request: %w", err)
	}
	return domain.PaymentRequest{
		PaymentID:        out.PaymentID,
		AmountLovelace:   out.AmountLovelace,
		RecipientAddress: out.RecipientAddress,
		Metadata:         metadata,
	}, nil
}

func (c *Client) FundsLocked(ctx context.Context, paymentID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payment/"+paymentID+"/status", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("check payment status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("check payment status: gateway returned %d", resp.StatusCode)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode payment status: %w", err)
	}
	return out.Status == "FundsLocked", nil
}

func (c *Client) Complete(ctx context.Context, paymentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment/"+paymentID+"/complete", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("complete payment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("complete payment: gateway returned %d", resp.StatusCode)
	}
	return nil
}
