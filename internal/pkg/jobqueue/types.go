package jobqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeBillingEvent JobType = "billing_event"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      JobStatus       `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ErrorMsg    string          `json:"error_msg,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
}

// BillingEventJobPayload carries one integration event to the consumers.
// Delivered lists the consumers that already handled it, so a retry only
// reaches the ones that failed.
type BillingEventJobPayload struct {
	Event     billing.Event `json:"event"`
	Delivered []string      `json:"delivered,omitempty"`
}

// Encode renders the payload as a job body.
func (p BillingEventJobPayload) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Event.Name, err)
	}
	return data, nil
}

// DecodeBillingEventPayload reads the payload of a billing_event job.
func DecodeBillingEventPayload(raw json.RawMessage) (*BillingEventJobPayload, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty billing event payload")
	}
	var payload BillingEventJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (p *BillingEventJobPayload) wasDelivered(consumer string) bool {
	for _, name := range p.Delivered {
		if name == consumer {
			return true
		}
	}
	return false
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
