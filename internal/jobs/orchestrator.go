package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"yieldpilot/internal/agents"
	"yieldpilot/internal/config"
	"yieldpilot/internal/domain"
	"yieldpilot/internal/events"
	"yieldpilot/internal/metrics"
	"yieldpilot/internal/payment"
)

// Orchestrator drives the job state machine: it creates jobs, polls the
// payment gateway in one goroutine per job, and hands confirmed jobs to
// their agent. Within one job all transitions are sequential; the
// monitor goroutine is the only writer after creation, except for
// provide_input merges and cancellation, which go through the store
// lock and are re-checked at every monitor wake.
type Orchestrator struct {
	store    *Store
	registry *agents.Registry
	gateway  payment.Gateway
	events   events.Writer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      config.PaymentConfig

	Now func() time.Time

	mu      sync.Mutex
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
	closed  bool
}

func NewOrchestrator(store *Store, registry *agents.Registry, gateway payment.Gateway, ev events.Writer, m *metrics.Metrics, logger *slog.Logger, cfg config.PaymentConfig) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:    store,
		registry: registry,
		gateway:  gateway,
		events:   ev,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		Now:      time.Now,
		baseCtx:  ctx,
		stop:     cancel,
	}
}

// StartJob validates the request, creates the job in awaiting_payment
// with its payment request, and schedules the payment monitor. Nothing
// is persisted when validation or the gateway call fails.
func (o *Orchestrator) StartJob(ctx context.Context, agentType string, inputData map[string]any, purchaserID string) (domain.Job, domain.PaymentRequest, error) {
	if !domain.ValidAgentType(agentType) {
		return domain.Job{}, domain.PaymentRequest{}, fmt.Errorf("%w: %q", ErrInvalidAgentType, agentType)
	}
	at := domain.AgentType(agentType)
	agent, ok := o.registry.Get(at)
	if !ok {
		return domain.Job{}, domain.PaymentRequest{}, fmt.Errorf("%w: %s", ErrAgentUnavailable, agentType)
	}
	terms, _ := o.registry.Terms(at)

	jobID := uuid.NewString()
	request, err := o.gateway.CreateRequest(ctx, jobID, terms.PriceLovelace, terms.WalletAddress, map[string]string{
		"job_id":       jobID,
		"agent_type":   agentType,
		"purchaser_id": purchaserID,
	})
	if err != nil {
		return domain.Job{}, domain.PaymentRequest{}, fmt.Errorf("create payment request: %w", err)
	}

	now := o.Now().UTC().Format(time.RFC3339)
	if inputData == nil {
		inputData = map[string]any{}
	}
	job := domain.Job{
		JobID:                   jobID,
		AgentType:               at,
		Status:                  domain.JobAwaitingPayment,
		PaymentID:               request.PaymentID,
		PaymentStatus:           "awaiting",
		InputData:               inputData,
		IdentifierFromPurchaser: purchaserID,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	o.store.Put(job)
	o.appendEvent(events.JobCreated, job, events.Payload{"payment_id": request.PaymentID})
	if o.metrics != nil {
		o.metrics.JobsStarted.WithLabelValues(agentType).Inc()
	}
	o.logger.Info("job created", "job_id", jobID, "agent_type", agentType, "payment_id", request.PaymentID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return job, request, nil
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.monitor(job.JobID, request.PaymentID, agent)
	}()

	return job, request, nil
}

// monitor polls the gateway until funds lock, times out, or the job is
// cancelled, then runs the agent.
func (o *Orchestrator) monitor(jobID, paymentID string, agent agents.Agent) {
	ctx := o.baseCtx
	locked := false

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if o.cancelledOrGone(jobID) {
			return
		}
		ok, err := o.gateway.FundsLocked(ctx, paymentID)
		if o.metrics != nil {
			o.metrics.PaymentPolls.Inc()
		}
		if err != nil {
			o.logger.Warn("payment status check failed", "job_id", jobID, "attempt", attempt, "error", err)
		}
		if ok {
			locked = true
			break
		}
		if attempt == o.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.Interval()):
		}
	}

	if !locked {
		budget := time.Duration(o.cfg.MaxAttempts) * o.cfg.Interval()
		o.failJob(jobID, fmt.Sprintf("%v after %s", ErrPaymentTimeout, budget))
		return
	}

	if !o.transition(jobID, domain.JobAwaitingPayment, domain.JobPaymentReceived, "confirmed") {
		return
	}
	o.logJobEvent(events.JobPaymentConfirmed, jobID, events.Payload{"payment_id": paymentID})

	if !o.transition(jobID, domain.JobPaymentReceived, domain.JobInProgress, "") {
		return
	}
	o.logJobEvent(events.JobStarted, jobID, nil)

	o.execute(ctx, jobID, agent)
}

// execute runs the agent and records the outcome. The job never stays
// in_progress after this returns.
func (o *Orchestrator) execute(ctx context.Context, jobID string, agent agents.Agent) {
	job, err := o.store.Get(jobID)
	if err != nil || job.Status != domain.JobInProgress {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			o.failJob(jobID, fmt.Sprintf("agent panic: %v", r))
		}
	}()

	result, err := agent.Execute(ctx, job.InputData)
	if err != nil {
		o.failJob(jobID, err.Error())
		return
	}

	now := o.Now().UTC().Format(time.RFC3339)
	updated, err := o.store.Update(jobID, func(j *domain.Job) error {
		if j.Status != domain.JobInProgress {
			return fmt.Errorf("%w: %s", ErrInvalidJobState, j.Status)
		}
		j.Status = domain.JobCompleted
		j.Result = result
		j.UpdatedAt = now
		return nil
	})
	if err != nil {
		// Cancelled between the agent returning and the commit; the
		// cancellation outcome stands.
		return
	}
	o.logJobEvent(events.JobCompleted, jobID, nil)
	o.finishMetrics(updated)
	if err := o.gateway.Complete(context.WithoutCancel(ctx), job.PaymentID); err != nil {
		o.logger.Warn("payment completion failed", "job_id", jobID, "error", err)
	}
	o.logger.Info("job completed", "job_id", jobID, "agent_type", job.AgentType)
}

func (o *Orchestrator) failJob(jobID, message string) {
	now := o.Now().UTC().Format(time.RFC3339)
	updated, err := o.store.Update(jobID, func(j *domain.Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrInvalidJobState, j.Status)
		}
		j.Status = domain.JobFailed
		j.Error = message
		j.UpdatedAt = now
		return nil
	})
	if err != nil {
		return
	}
	o.logJobEvent(events.JobFailed, jobID, events.Payload{"error": message})
	o.finishMetrics(updated)
	o.logger.Warn("job failed", "job_id", jobID, "error", message)
}

// transition moves a job from one expected status to the next; it
// returns false when the job was cancelled or otherwise moved on.
func (o *Orchestrator) transition(jobID string, from, to domain.JobStatus, paymentStatus string) bool {
	now := o.Now().UTC().Format(time.RFC3339)
	_, err := o.store.Update(jobID, func(j *domain.Job) error {
		if j.Status != from {
			return fmt.Errorf("%w: %s", ErrInvalidJobState, j.Status)
		}
		j.Status = to
		if paymentStatus != "" {
			j.PaymentStatus = paymentStatus
		}
		j.UpdatedAt = now
		return nil
	})
	return err == nil
}

func (o *Orchestrator) cancelledOrGone(jobID string) bool {
	job, err := o.store.Get(jobID)
	if err != nil {
		return true
	}
	return job.Status == domain.JobCancelled
}

// ProvideInput merges additional keys into a job's input while it has
// not started producing output. Later keys overwrite earlier ones.
func (o *Orchestrator) ProvideInput(ctx context.Context, jobID string, additional map[string]any) (domain.Job, error) {
	now := o.Now().UTC().Format(time.RFC3339)
	return o.store.Update(jobID, func(j *domain.Job) error {
		switch j.Status {
		case domain.JobAwaitingPayment, domain.JobPaymentReceived, domain.JobInProgress:
		default:
			return fmt.Errorf("%w: cannot provide input in status %s", ErrInvalidJobState, j.Status)
		}
		if j.InputData == nil {
			j.InputData = map[string]any{}
		}
		for k, v := range additional {
			j.InputData[k] = v
		}
		j.UpdatedAt = now
		return nil
	})
}

// Cancel moves a non-terminal job to cancelled. The monitor goroutine
// notices at its next wake and stops.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (domain.Job, error) {
	now := o.Now().UTC().Format(time.RFC3339)
	job, err := o.store.Update(jobID, func(j *domain.Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("%w: cannot cancel job in status %s", ErrInvalidJobState, j.Status)
		}
		j.Status = domain.JobCancelled
		j.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	o.logJobEvent(events.JobCancelled, jobID, nil)
	o.finishMetrics(job)
	o.logger.Info("job cancelled", "job_id", jobID)
	return job, nil
}

// GetStatus returns a read-only copy of the job.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (domain.Job, error) {
	return o.store.Get(jobID)
}

// List returns all jobs ordered by creation time.
func (o *Orchestrator) List(ctx context.Context) []domain.Job {
	return o.store.List()
}

// Shutdown stops the payment monitors and waits for them, bounded by
// the context.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) appendEvent(evtType string, job domain.Job, payload events.Payload) {
	if o.events.DB == nil {
		return
	}
	if err := o.events.Append(context.WithoutCancel(o.baseCtx), evtType, job.JobID, string(job.AgentType), payload); err != nil {
		o.logger.Warn("event append failed", "type", evtType, "job_id", job.JobID, "error", err)
	}
}

func (o *Orchestrator) logJobEvent(evtType, jobID string, payload events.Payload) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return
	}
	o.appendEvent(evtType, job, payload)
}

func (o *Orchestrator) finishMetrics(job domain.Job) {
	if o.metrics == nil {
		return
	}
	o.metrics.JobsFinished.WithLabelValues(string(job.AgentType), string(job.Status)).Inc()
	created, err := time.Parse(time.RFC3339, job.CreatedAt)
	if err != nil {
		return
	}
	o.metrics.JobDuration.WithLabelValues(string(job.AgentType)).Observe(o.Now().Sub(created).Seconds())
}
