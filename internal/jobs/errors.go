package jobs

import "errors"

var (
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidJobState rejects an operation the job's status forbids.
	ErrInvalidJobState = errors.New("invalid job state")
	// ErrInvalidAgentType rejects an agent type outside the closed set.
	ErrInvalidAgentType = errors.New("invalid agent type")
	// ErrAgentUnavailable means the agent type exists but is not serving.
	ErrAgentUnavailable = errors.New("agent unavailable")
	// ErrPaymentTimeout marks a job failed because funds were never
	// locked within the polling budget, as opposed to execution errors.
	ErrPaymentTimeout = errors.New("payment confirmation timed out")
)
