package models

import "time"

// IngestionStatus is the terminal state of one ticker in an ingestion run.
type IngestionStatus string

const (
	StatusAdded            IngestionStatus = "added"
	StatusExists           IngestionStatus = "exists"
	StatusFetchFailed      IngestionStatus = "fetch_failed"
	StatusValidationFailed IngestionStatus = "validation_failed"
	StatusUploadFailed     IngestionStatus = "upload_failed"
	StatusError            IngestionStatus = "error"
)

// Succeeded reports whether the status counts as a success in run summaries.
func (s IngestionStatus) Succeeded() bool {
	return s == StatusAdded || s == StatusExists
}

// IngestionOutcome is the per-ticker result of an ingestion attempt.
type IngestionOutcome struct {
	Ticker string          `json:"ticker"`
	Status IngestionStatus `json:"status"`
	Detail string          `json:"detail,omitempty"`
	Rows   int             `json:"rows,omitempty"`
}

// RunSummary aggregates the outcomes of one ingestion run.
type RunSummary struct {
	Requested  int                `json:"requested"`
	Existing   int                `json:"existing"`
	Outcomes   []IngestionOutcome `json:"outcomes"`
	Succeeded  []string           `json:"succeeded"`
	Failed     []string           `json:"failed"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// Record appends an outcome and files the ticker under succeeded or failed.
func (s *RunSummary) Record(o IngestionOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	if o.Status.Succeeded() {
		s.Succeeded = append(s.Succeeded, o.Ticker)
	} else {
		s.Failed = append(s.Failed, o.Ticker)
	}
}
