package domain

import "time"

// BatchStatus enumerates the lifecycle of a scheduled batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:    {BatchProcessing, BatchFailed},
	BatchProcessing: {BatchPending, BatchCompleted, BatchFailed},
}

// CanTransition reports whether a batch may move from s to next.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Batch is one time-slotted slice of a campaign's recipients.
type Batch struct {
	ID             string      `json:"id" db:"id"`
	CampaignID     string      `json:"campaign_id" db:"campaign_id"`
	BatchNumber    int         `json:"batch_number" db:"batch_number"`
	TotalBatches   int         `json:"total_batches" db:"total_batches"`
	ScheduledTime  time.Time   `json:"scheduled_time" db:"scheduled_time"`
	Status         BatchStatus `json:"status" db:"status"`
	RecipientCount int         `json:"recipient_count" db:"recipient_count"`
	SentCount      int         `json:"sent_count" db:"sent_count"`
	FailedCount    int         `json:"failed_count" db:"failed_count"`
	SkippedCount   int         `json:"skipped_count" db:"skipped_count"`
	StartedAt      *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// Counts is a delta applied to batch and campaign delivery counters.
type Counts struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Total returns the number of recipients resolved by this delta.
func (c Counts) Total() int {
	return c.Sent + c.Failed + c.Skipped
}
