package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-companion/internal/notify"
)

// ErrJobNotFound is returned for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeDeliverNotification represents forwarding a fired reminder to a delivery channel.
	JobTypeDeliverNotification JobType = "deliver_notification"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DeliveryJob forwards one fired notification to the user.
type DeliveryJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// RequestID is the notifier request that fired.
	RequestID string `json:"request_id"`

	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// FiredAt is when the notifier delivered the request.
	FiredAt time.Time `json:"fired_at"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// NewDeliveryJob creates a pending job for a delivered notification.
func NewDeliveryJob(d notify.Delivered) *DeliveryJob {
	return &DeliveryJob{
		RequestID: d.ID,
		Title:     d.Title,
		Body:      d.Body,
		Metadata:  d.Metadata,
		FiredAt:   d.DeliveredAt,
	}
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *DeliveryJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *DeliveryJob) GetType() JobType {
	return JobTypeDeliverNotification
}

// GetStatus implements the Job interface.
func (j *DeliveryJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishDelivery publishes a notification delivery job.
	PublishDelivery(ctx context.Context, job *DeliveryJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *DeliveryJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*DeliveryJob, error)

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*DeliveryJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// RequestID filters jobs by notifier request ID.
	RequestID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// FanOut returns a handler that passes a delivery job to every deliverer in
// order and stops at the first error.
func FanOut(deliverers ...func(ctx context.Context, job *DeliveryJob) error) JobHandler {
	return func(ctx context.Context, job Job) error {
		dj, ok := job.(*DeliveryJob)
		if !ok {
			return nil
		}
		for _, deliver := range deliverers {
			if err := deliver(ctx, dj); err != nil {
				return err
			}
		}
		return nil
	}
}
