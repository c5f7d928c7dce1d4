package models

import (
	"fmt"
	"time"
)

// JobStatus represents the current state of a background download job.
type JobStatus string

const (
	StatusPending JobStatus = "pending" // StatusPending indicates the job is queued but not yet started
	StatusRunning JobStatus = "running" // StatusRunning indicates the job is currently being executed
	StatusDone    JobStatus = "done"    // StatusDone indicates the job finished successfully
	StatusFailed  JobStatus = "failed"  // StatusFailed indicates the job encountered an error
)

// Job tracks a history download running in the background.
type Job struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Status    JobStatus `json:"status"`
	Candles   int       `json:"candles"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob creates a pending job.
func NewJob(id, symbol string, tf Timeframe) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Symbol:    symbol,
		Timeframe: tf,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Start moves a pending job to running.
func (j *Job) Start() error {
	if j.Status != StatusPending {
		return fmt.Errorf("cannot start job: current status is %s, expected %s", j.Status, StatusPending)
	}
	j.Status = StatusRunning
	j.UpdatedAt = time.Now().UTC()
	j.Error = ""
	return nil
}

// Complete marks a running job as done with the number of candles cached.
func (j *Job) Complete(candles int) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("cannot complete job: current status is %s, expected %s", j.Status, StatusRunning)
	}
	j.Status = StatusDone
	j.Candles = candles
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail marks a running job as failed.
func (j *Job) Fail(errorMsg string) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("cannot fail job: current status is %s, expected %s", j.Status, StatusRunning)
	}
	j.Status = StatusFailed
	j.Error = errorMsg
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// IsFinished reports whether the job reached a terminal status.
func (j *Job) IsFinished() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}

// Clone returns a copy safe to hand out while the job keeps running.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
