package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"yieldpilot/internal/domain"
)

// Simulator is an in-process gateway for demos and tests. A payment
// reports FundsLocked after a fixed number of status checks, standing in
// for the delay of a real on-chain settlement.
type Simulator struct {
	mu           sync.Mutex
	checksToLock int
	checks       map[string]int
	completed    map[string]bool
}

func NewSimulator(checksToLock int) *Simulator {
	if checksToLock < 1 {
		checksToLock = 1
	}
	return &Simulator{
		checksToLock: checksToLock,
		checks:       map[string]int{},
		completed:    map[string]bool{},
	}
}

func (s *Simulator) CreateRequest(_ context.Context, jobID string, amountLovelace int64, recipientAddress string, metadata map[string]string) (domain.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	paymentID := uuid.NewString()
	s.checks[paymentID] = 0
	return domain.PaymentRequest{
		PaymentID:        paymentID,
		AmountLovelace:   amountLovelace,
		RecipientAddress: recipientAddress,
		Metadata:         metadata,
	}, nil
}

func (s *Simulator) FundsLocked(_ context.Context, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[paymentID]++
	return s.checks[paymentID] >= s.checksToLock, nil
}

func (s *Simulator) Complete(_ context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[paymentID] = true
	return nil
}

// Completed reports whether Complete was called for a payment.
func (s *Simulator) Completed(paymentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[paymentID]
}
