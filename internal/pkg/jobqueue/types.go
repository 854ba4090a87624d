package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeProvisionRetry  JobType = "provision_retry"
	JobTypeReconcileOrders JobType = "reconcile_orders"
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
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// ProvisionRetryJobPayload re-runs provisioning for one paid order whose
// provisioning pass did not complete.
type ProvisionRetryJobPayload struct {
	CheckoutID string `json:"checkout_id"`
}

// ToMap converts the payload to a map for storage
func (p ProvisionRetryJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"checkout_id": p.CheckoutID,
	}
}

// ProvisionRetryJobPayloadFromMap creates a payload from a map
func ProvisionRetryJobPayloadFromMap(data map[string]interface{}) (*ProvisionRetryJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ProvisionRetryJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// ReconcileOrdersJobPayload sweeps for paid orders stuck mid-provisioning and
// enqueues a provision retry for each.
type ReconcileOrdersJobPayload struct {
	OlderThanMinutes int `json:"older_than_minutes"`
	Limit            int `json:"limit"`
}

// ToMap converts the payload to a map for storage
func (p ReconcileOrdersJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"older_than_minutes": p.OlderThanMinutes,
		"limit":              p.Limit,
	}
}

// ReconcileOrdersJobPayloadFromMap creates a payload from a map
func ReconcileOrdersJobPayloadFromMap(data map[string]interface{}) (*ReconcileOrdersJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ReconcileOrdersJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
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
