package core

import (
	"fmt"
	"math"
	"time"
)

// Status is the lifecycle state of a validation job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further mutation may happen in this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is one decoded row: a name and an email, both trimmed and non-empty.
type Record struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FailedRecord is a record whose validation settled as a failure.
// Error holds either the verdict reason or the validator's error text.
type FailedRecord struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Error string `json:"error"`
}

// Snapshot is the full status record for a job. Every store write replaces
// the whole snapshot; readers never see a mix of two updates.
//
// While the job is processing, ProcessedRecords counts settled records
// (successes and failures). Once the job is completed it counts successes
// only, and FailedRecords carries the rest.
type Snapshot struct {
	UploadID         string         `json:"uploadId"`
	Status           Status         `json:"status"`
	TotalRecords     int            `json:"totalRecords"`
	ProcessedRecords int            `json:"processedRecords"`
	FailedRecords    []FailedRecord `json:"failedRecords"`
	Progress         string         `json:"progress"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so callers never alias stored state.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.FailedRecords = make([]FailedRecord, len(s.FailedRecords))
	copy(out.FailedRecords, s.FailedRecords)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// SubmitResult is returned synchronously by Service.Submit.
type SubmitResult struct {
	UploadID     string `json:"uploadId"`
	TotalRecords int    `json:"totalRecords"`
}

// FormatProgress renders round(done/total*100) as a percentage string.
func FormatProgress(done, total int) string {
	if total <= 0 {
		return "0%"
	}
	pct := math.Round(float64(done) / float64(total) * 100)
	return fmt.Sprintf("%d%%", int(pct))
}
