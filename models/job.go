package models

import (
	"fmt"
	"time"
)

// JobKind tags the work a job performs.
type JobKind string

const (
	JobListScrape   JobKind = "list-scrape"
	JobDetailScrape JobKind = "detail-scrape"
	JobExport       JobKind = "export"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobListScrape, JobDetailScrape, JobExport:
		return true
	}
	return false
}

// JobStatus is the state of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusActive    JobStatus = "active"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	// StatusDelayed is reserved for scheduled jobs and never assigned.
	StatusDelayed JobStatus = "delayed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var allowedTransitions = map[JobStatus][]JobStatus{
	StatusPending: {StatusActive},
	StatusActive:  {StatusCompleted, StatusFailed},
}

// Job is the externally observable record of a unit of pipeline work.
type Job struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Attempts    int        `json:"attempts"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob returns a pending job record.
func NewJob(id string, kind JobKind, now time.Time) Job {
	return Job{
		ID:        id,
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the job to next, stamping timestamps.
func (j *Job) Transition(next JobStatus, now time.Time) error {
	for _, allowed := range allowedTransitions[j.Status] {
		if allowed == next {
			j.Status = next
			j.UpdatedAt = now
			if next.Terminal() {
				stamp := now
				j.CompletedAt = &stamp
				if next == StatusCompleted {
					j.Progress = 100
				}
			}
			return nil
		}
	}
	return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, j.Status, next)
}

// SetProgress raises the progress of an active job. Lower values are ignored.
func (j *Job) SetProgress(percent int, now time.Time) bool {
	if j.Status != StatusActive {
		return false
	}
	if percent > 100 {
		percent = 100
	}
	if percent <= j.Progress {
		return false
	}
	j.Progress = percent
	j.UpdatedAt = now
	return true
}

// ListScrapeResult summarizes a list-scrape job.
type ListScrapeResult struct {
	BrandID      string         `json:"brand_id"`
	Products     int            `json:"products"`
	TotalPages   int            `json:"total_pages"`
	PagesFetched int            `json:"pages_fetched"`
	PagesFailed  int            `json:"pages_failed"`
	Dropped      map[string]int `json:"dropped,omitempty"`
}

// DetailScrapeResult summarizes a detail-scrape job.
type DetailScrapeResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// ExportResult describes the file produced by an export job.
type ExportResult struct {
	FilePath     string `json:"file_path"`
	Filename     string `json:"filename"`
	ProductCount int    `json:"product_count"`
	RowCount     int    `json:"row_count"`
	Skipped      int    `json:"skipped,omitempty"`
	Missing      int    `json:"missing,omitempty"`
}
