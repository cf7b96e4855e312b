// Package payment abstracts the escrow gateway used to gate job
// execution. Billable work starts only once the gateway reports the
// purchaser's funds locked.
package payment

import (
	"context"

	"yieldpilot/internal/config"
	"yieldpilot/internal/domain"
)

// Gateway is the payment escrow collaborator. CreateRequest opens a
// payment request for a job; FundsLocked reports whether the purchaser's
// funds are secured; Complete releases the escrow after a job finishes.
type Gateway interface {
	CreateRequest(ctx context.Context, jobID string, amountLovelace int64, recipientAddress string, metadata map[string]string) (domain.PaymentRequest, error)
	FundsLocked(ctx context.Context, paymentID string) (bool, error)
	Complete(ctx context.Context, paymentID string) error
}

// New selects a gateway from config: a network client in live mode, the
// in-process simulator otherwise.
func New(cfg config.PaymentConfig) Gateway {
	if cfg.Mode == "live" {
		return NewClient(cfg.GatewayURL)
	}
	return NewSimulator(3)
}
