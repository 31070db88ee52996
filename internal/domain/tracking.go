package domain

import "time"

// TrackingEventType enumerates the types of recipient engagement events.
type TrackingEventType string

const (
	EventOpen        TrackingEventType = "open"
	EventClick       TrackingEventType = "click"
	EventUnsubscribe TrackingEventType = "unsubscribe"
)

// TrackingEvent is a single engagement event from a recipient.
type TrackingEvent struct {
	ID          string            `json:"id"`
	Type        TrackingEventType `json:"event_type"`
	CampaignID  string            `json:"campaign_id"`
	RecipientID string            `json:"recipient_id,omitempty"`
	URL         string            `json:"url,omitempty"`
	IP          string            `json:"ip_address,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	At          time.Time         `json:"created_at"`
}
