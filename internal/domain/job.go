package domain

import (
	"fmt"
	"regexp"
	"time"
)

// JobStatus is the lifecycle state of a search job
type JobStatus string

// Job status constants
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Progress checkpoints reported while a job runs
const (
	ProgressCreated    = 0
	ProgressStarted    = 10
	ProgressDiscovered = 40
	ProgressScraped    = 70
	ProgressDone       = 100
)

var jobIDPattern = regexp.MustCompile(`^[0-9]{13}-[0-9a-f]{12}$`)

// ValidJobID reports whether id has the shape produced by the job manager
func ValidJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

// IsTerminal reports whether the status is final
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// canTransition encodes pending -> running -> {completed|failed}
func canTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}

// SearchJob tracks one permit search from request to result
type SearchJob struct {
	ID        string          `json:"id"`
	Status    JobStatus       `json:"status"`
	Progress  int             `json:"progress"`
	Address   Address         `json:"address"`
	Result    *SearchResponse `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
}

// NewSearchJob creates a pending job for the address
func NewSearchJob(id string, address Address, now time.Time) *SearchJob {
	return &SearchJob{
		ID:        id,
		Status:    JobStatusPending,
		Progress:  ProgressCreated,
		Address:   address,
		StartTime: now,
	}
}

// Start moves a pending job to running
func (j *SearchJob) Start() error {
	if err := j.transition(JobStatusRunning); err != nil {
		return err
	}
	j.SetProgress(ProgressStarted)
	return nil
}

// Complete attaches the result and finishes the job
func (j *SearchJob) Complete(result *SearchResponse, now time.Time) error {
	if err := j.transition(JobStatusCompleted); err != nil {
		return err
	}
	j.Result = result
	j.SetProgress(ProgressDone)
	j.EndTime = &now
	return nil
}

// Fail records the error message and finishes the job without a result
func (j *SearchJob) Fail(message string, now time.Time) error {
	if err := j.transition(JobStatusFailed); err != nil {
		return err
	}
	j.Result = nil
	j.Error = message
	j.EndTime = &now
	return nil
}

// Abandon fails a pending or running job whose runner will never finish it
func (j *SearchJob) Abandon(message string, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusFailed)
	}
	j.Status = JobStatusFailed
	j.Result = nil
	j.Error = message
	j.EndTime = &now
	return nil
}

// SetProgress raises progress; lower values are ignored
func (j *SearchJob) SetProgress(progress int) {
	if progress > ProgressDone {
		progress = ProgressDone
	}
	if progress > j.Progress {
		j.Progress = progress
	}
}

// Elapsed returns the time spent so far, or the total once the job is finished
func (j *SearchJob) Elapsed(now time.Time) time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return now.Sub(j.StartTime)
}

// Clone returns a copy that can be handed out without sharing mutable state
func (j *SearchJob) Clone() *SearchJob {
	c := *j
	if j.EndTime != nil {
		end := *j.EndTime
		c.EndTime = &end
	}
	return &c
}

func (j *SearchJob) transition(to JobStatus) error {
	if !canTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}

// JobStats tallies jobs per status
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Add counts one job with the given status
func (s *JobStats) Add(status JobStatus, n int) {
	switch status {
	case JobStatusPending:
		s.Pending += n
	case JobStatusRunning:
		s.Running += n
	case JobStatusCompleted:
		s.Completed += n
	case JobStatusFailed:
		s.Failed += n
	default:
		return
	}
	s.Total += n
}
