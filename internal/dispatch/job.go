package dispatch

import (
	"time"

	"github.com/user/blimp/internal/types"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// Job is one message handed to the processor. Jobs for the same channel run
// in arrival order.
type Job struct {
	ID        types.JobID
	ChannelID types.Snowflake
	Message   *types.Message
	Status    JobStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Err       error
}

// NewJob creates a queued job for msg.
func NewJob(msg *types.Message) *Job {
	return &Job{
		ID:        types.NewJobID(),
		ChannelID: msg.ChannelID,
		Message:   msg,
		Status:    JobQueued,
		CreatedAt: time.Now(),
	}
}

func (j *Job) start() {
	now := time.Now()
	j.StartedAt = &now
	j.Status = JobRunning
}

func (j *Job) finish(err error) {
	now := time.Now()
	j.EndedAt = &now
	j.Err = err
	if err != nil {
		j.Status = JobFailed
		return
	}
	j.Status = JobComplete
}
