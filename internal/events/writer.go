package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Job lifecycle event types.
const (
	JobCreated          = "job.created"
	JobPaymentConfirmed = "job.payment_confirmed"
	JobStarted          = "job.started"
	JobCompleted        = "job.completed"
	JobFailed           = "job.failed"
	JobCancelled        = "job.cancelled"
)

// Writer appends job lifecycle events to the event log.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, evtType, jobID, agentType string, payload Payload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,job_id,agent_type,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(jobID), nullable(agentType), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
