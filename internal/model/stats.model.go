package model

import "time"

// RunStats aggregates the outcome of one retry-scheduler run.
type RunStats struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`

	Processed int      `json:"processed"`
	Success   int      `json:"success"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`

	// CleanupDeleted is set when the run was asked to purge old records.
	CleanupDeleted int64 `json:"cleanup_deleted,omitempty"`
}

// StatusCounts holds per-status totals over a time window.
type StatusCounts struct {
	Total       int64 `json:"total"`
	Pending     int64 `json:"pending"`
	Sending     int64 `json:"sending"`
	Sent        int64 `json:"sent"`
	Delivered   int64 `json:"delivered"`
	Read        int64 `json:"read"`
	FailedRetry int64 `json:"failed_retry"`
	FailedFinal int64 `json:"failed_final"`
	Cancelled   int64 `json:"cancelled"`
}

// TypeStats is the per-message-type breakdown over a time window.
type TypeStats struct {
	MessageType MessageType `json:"message_type"`
	Count       int64       `json:"count"`
	SentCount   int64       `json:"sent_count"`
	FailedCount int64       `json:"failed_count"`
}

// StatsSummary is the read-only monitoring rollup.
type StatsSummary struct {
	Window      time.Duration `json:"-"`
	Since       time.Time     `json:"since"`
	Counts      StatusCounts  `json:"counts"`
	SuccessRate float64       `json:"success_rate"`
	FailureRate float64       `json:"failure_rate"`
	PendingRate float64       `json:"pending_rate"`
	AvgAttempts float64       `json:"avg_attempts"`
	ByType      []TypeStats   `json:"by_type"`
}

// ComputeRates fills the derived rate fields from the raw counts.
func (s *StatsSummary) ComputeRates() {
	total := float64(s.Counts.Total)
	if total == 0 {
		s.SuccessRate, s.FailureRate, s.PendingRate = 0, 0, 0
		return
	}
	s.SuccessRate = float64(s.Counts.Sent+s.Counts.Delivered) / total * 100
	s.FailureRate = float64(s.Counts.FailedFinal) / total * 100
	s.PendingRate = float64(s.Counts.Pending+s.Counts.FailedRetry) / total * 100
}
