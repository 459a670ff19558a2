package jobs

import (
	"sync"
	"time"

	"github.com/mohammad-safakhou/deeres/internal/agent/core"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	msgStarted   = "Research started. Please check job status to monitor progress."
	msgCompleted = "Report completed"
	msgFailed    = "Error occurred during report generation"
)

// Request is a submitted report request.
type Request struct {
	Topic     string
	Overrides map[string]any
}

// Job is a point-in-time view of a report job.
type Job struct {
	ID                   string       `json:"job_id" yaml:"job_id"`
	Status               Status       `json:"status" yaml:"status"`
	Progress             float64      `json:"progress" yaml:"progress"`
	Message              string       `json:"message" yaml:"message"`
	CreatedAt            time.Time    `json:"created_at" yaml:"created_at"`
	QueuePosition        *int         `json:"position_in_queue,omitempty" yaml:"position_in_queue,omitempty"`
	EstimatedWaitSeconds *int         `json:"estimated_time,omitempty" yaml:"estimated_time,omitempty"`
	Result               *core.Report `json:"report,omitempty" yaml:"report,omitempty"`
	Error                string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// Terminal reports whether the job has finished.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

type entry struct {
	req Request

	mu  sync.Mutex
	job Job
}

func (e *entry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.job
	if out.Result != nil {
		r := *out.Result
		out.Result = &r
	}
	if out.QueuePosition != nil {
		p := *out.QueuePosition
		out.QueuePosition = &p
	}
	if out.EstimatedWaitSeconds != nil {
		w := *out.EstimatedWaitSeconds
		out.EstimatedWaitSeconds = &w
	}
	return out
}

func (e *entry) start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.Status = StatusProcessing
	e.job.Message = msgStarted
	e.job.QueuePosition = nil
	e.job.EstimatedWaitSeconds = nil
}

// progress ignores updates once the job is terminal.
func (e *entry) progress(fraction float64, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status != StatusProcessing {
		return
	}
	e.job.Progress = fraction
	e.job.Message = message
}

func (e *entry) complete(r core.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.Status = StatusCompleted
	e.job.Progress = 1.0
	e.job.Message = msgCompleted
	e.job.Result = &r
}

func (e *entry) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.Status = StatusFailed
	e.job.Message = msgFailed
	e.job.Error = err.Error()
}
