package domain

import (
	"fmt"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignPartial   CampaignStatus = "partial"
)

// ScheduleType controls when a campaign starts sending.
type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleAt        ScheduleType = "scheduled"
	ScheduleRecurring ScheduleType = "recurring"
)

// Valid reports whether t is a known schedule type.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleImmediate, ScheduleAt, ScheduleRecurring:
		return true
	}
	return false
}

// Campaign is an admin-authored message sent to a resolved recipient set.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Subject     string         `json:"subject" db:"subject"`
	HTMLContent string         `json:"html_content" db:"html_content"`
	FromName    string         `json:"from_name" db:"from_name"`
	FromEmail   string         `json:"from_email" db:"from_email"`
	Status      CampaignStatus `json:"status" db:"status"`
	Schedule    ScheduleType   `json:"schedule_type" db:"schedule_type"`
	Target      TargetConfig   `json:"target" db:"target"`

	RecipientCount int `json:"recipient_count" db:"recipient_count"`
	SentCount      int `json:"sent_count" db:"sent_count"`
	FailedCount    int `json:"failed_count" db:"failed_count"`
	SkippedCount   int `json:"skipped_count" db:"skipped_count"`
	OpenCount      int `json:"open_count" db:"open_count"`
	ClickCount     int `json:"click_count" db:"click_count"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign has finished sending.
func (c *Campaign) IsTerminal() bool {
	return c.Status.Terminal()
}

// CountersValid reports whether the delivery counters are consistent with
// the resolved recipient count.
func (c *Campaign) CountersValid() bool {
	if c.SentCount < 0 || c.FailedCount < 0 || c.SkippedCount < 0 {
		return false
	}
	return c.SentCount+c.FailedCount+c.SkippedCount <= c.RecipientCount
}

// Terminal reports whether s is one of the finished states.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignFailed || s == CampaignPartial
}

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignActive},
	CampaignScheduled: {CampaignActive, CampaignDraft, CampaignCompleted, CampaignPartial, CampaignFailed},
	CampaignActive:    {CampaignPaused, CampaignDraft, CampaignCompleted, CampaignPartial, CampaignFailed},
	CampaignPaused:    {CampaignActive, CampaignDraft, CampaignCompleted, CampaignPartial, CampaignFailed},
}

// CanTransition reports whether a campaign may move from s to next.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CampaignAction is an operation that changes a campaign's status.
type CampaignAction string

const (
	ActionSchedule CampaignAction = "schedule"
	ActionStart    CampaignAction = "start"
	ActionPause    CampaignAction = "pause"
	ActionResume   CampaignAction = "resume"
	ActionCancel   CampaignAction = "cancel"
	ActionFinish   CampaignAction = "finish"
	ActionFail     CampaignAction = "fail"
)

// TransitionCampaign returns the status c moves to when action is applied.
// Finish picks completed, partial, or failed from the delivery counters.
// Fail is used for configuration errors that stop delivery outright.
func TransitionCampaign(c *Campaign, action CampaignAction) (CampaignStatus, error) {
	var next CampaignStatus
	switch action {
	case ActionSchedule:
		if c.Status != CampaignDraft {
			return "", invalidTransition(c.Status, action)
		}
		next = CampaignScheduled
	case ActionStart:
		switch c.Status {
		case CampaignDraft, CampaignScheduled, CampaignPaused:
			next = CampaignActive
		default:
			return "", invalidTransition(c.Status, action)
		}
	case ActionPause:
		if c.Status != CampaignActive {
			return "", invalidTransition(c.Status, action)
		}
		next = CampaignPaused
	case ActionResume:
		if c.Status != CampaignPaused {
			return "", invalidTransition(c.Status, action)
		}
		next = CampaignActive
	case ActionCancel:
		switch c.Status {
		case CampaignScheduled, CampaignActive, CampaignPaused:
			next = CampaignDraft
		default:
			return "", invalidTransition(c.Status, action)
		}
	case ActionFinish:
		next = FinalCampaignStatus(c.SentCount, c.FailedCount)
	case ActionFail:
		next = CampaignFailed
	default:
		return "", fmt.Errorf("unknown campaign action %q: %w", action, ErrInvalidTransition)
	}
	if !c.Status.CanTransition(next) {
		return "", invalidTransition(c.Status, action)
	}
	return next, nil
}

// FinalCampaignStatus maps delivery outcomes to a terminal status.
func FinalCampaignStatus(sent, failed int) CampaignStatus {
	switch {
	case failed == 0:
		return CampaignCompleted
	case sent > 0:
		return CampaignPartial
	default:
		return CampaignFailed
	}
}

func invalidTransition(from CampaignStatus, action CampaignAction) error {
	return fmt.Errorf("cannot %s a %s campaign: %w", action, from, ErrInvalidTransition)
}
