package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypeTrackerSync mirrors a project's features and tasks into the configured issue tracker
	JobTypeTrackerSync JobType = "tracker_sync"
)

// DefaultMaxRetries bounds redelivery of a failing job before it is dead-lettered
const DefaultMaxRetries = 3

// Job represents a job in the queue
type Job struct {
	ID         uuid.UUID         `json:"id"`
	Type       JobType           `json:"type"`
	ProjectID  string            `json:"project_id"`
	OwnerID    string            `json:"owner_id"`
	NotBefore  *time.Time        `json:"not_before,omitempty"` // earliest processing time, nil = immediate
	NotAfter   *time.Time        `json:"not_after,omitempty"`  // latest processing time, nil = no expiry
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
}

// NewJob creates a new job for a project
func NewJob(jobType JobType, projectID, ownerID string) *Job {
	return &Job{
		ID:         uuid.New(),
		Type:       jobType,
		ProjectID:  projectID,
		OwnerID:    ownerID,
		Metadata:   make(map[string]string),
		CreatedAt:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
}

// NewTrackerSyncJob creates a job that syncs projectID to the tracker
func NewTrackerSyncJob(projectID, ownerID string) *Job {
	return NewJob(JobTypeTrackerSync, projectID, ownerID)
}

// Validate rejects jobs a worker could never process
func (j *Job) Validate() error {
	if j.Type != JobTypeTrackerSync {
		return errors.New("unknown job type: " + string(j.Type))
	}
	if j.ProjectID == "" {
		return errors.New("job has no project id")
	}
	return nil
}

// ShouldProcess checks if the job should be processed now
func (j *Job) ShouldProcess() bool {
	return j.ShouldProcessAt(time.Now())
}

// ShouldProcessAt checks if the job is inside its processing window at now
func (j *Job) ShouldProcessAt(now time.Time) bool {
	if j.NotBefore != nil && now.Before(*j.NotBefore) {
		return false
	}
	return !j.expiredAt(now)
}

// IsExpired checks if the job has expired
func (j *Job) IsExpired() bool {
	return j.expiredAt(time.Now())
}

func (j *Job) expiredAt(now time.Time) bool {
	return j.NotAfter != nil && now.After(*j.NotAfter)
}

// CanRetry checks if the job can be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IncrementRetry increments the retry count
func (j *Job) IncrementRetry() {
	j.RetryCount++
}
