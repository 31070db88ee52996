package domain

import "time"

// RecipientStatus enumerates the delivery state of a single recipient.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSending RecipientStatus = "sending"
	RecipientSent    RecipientStatus = "sent"
	RecipientSkipped RecipientStatus = "skipped"
	RecipientFailed  RecipientStatus = "failed"
)

var recipientTransitions = map[RecipientStatus][]RecipientStatus{
	RecipientPending: {RecipientSending, RecipientSkipped},
	RecipientSending: {RecipientSent, RecipientFailed, RecipientSkipped},
}

// CanTransition reports whether a recipient may move from s to next.
// Sent is terminal. Returning a stuck sending row to pending is a recovery
// operation and is not part of the regular state machine; see CanRequeue.
func (s RecipientStatus) CanTransition(next RecipientStatus) bool {
	for _, allowed := range recipientTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanRequeue reports whether the recovery sweep may return a recipient in
// s to pending. Only rows abandoned in sending qualify.
func (s RecipientStatus) CanRequeue() bool {
	return s == RecipientSending
}

// Skip reasons recorded on recipients that never reach the transport.
const (
	SkipUnsubscribed = "unsubscribed"
)

// Recipient is one address a campaign delivers to.
type Recipient struct {
	ID               string          `json:"id" db:"id"`
	CampaignID       string          `json:"campaign_id" db:"campaign_id"`
	BatchID          *string         `json:"batch_id,omitempty" db:"batch_id"`
	UserID           *string         `json:"user_id,omitempty" db:"user_id"`
	Email            string          `json:"email" db:"email"`
	Name             string          `json:"name" db:"name"`
	Status           RecipientStatus `json:"status" db:"status"`
	UnsubscribeToken string          `json:"-" db:"unsubscribe_token"`
	SentAt           *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	OpenedAt         *time.Time      `json:"opened_at,omitempty" db:"opened_at"`
	RetryCount       int             `json:"retry_count" db:"retry_count"`
	ErrorMessage     string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// User is an entry in the user store used for all and tag expansion.
type User struct {
	ID     string   `json:"id" db:"id"`
	Email  string   `json:"email" db:"email"`
	Name   string   `json:"name" db:"name"`
	TagIDs []string `json:"tag_ids,omitempty" db:"-"`
}

// Outstanding counts a campaign's recipients that are not yet resolved.
type Outstanding struct {
	Pending    int `json:"pending"`
	Unassigned int `json:"unassigned"`
	Sending    int `json:"sending"`
}

// Done reports whether every recipient reached sent, failed, or skipped.
func (o Outstanding) Done() bool {
	return o.Pending == 0 && o.Sending == 0
}
