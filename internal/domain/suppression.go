package domain

import "time"

// UnsubscribeTokenTTL is how long a generated unsubscribe token stays valid.
const UnsubscribeTokenTTL = 365 * 24 * time.Hour

// UnsubscribeSource indicates where an unsubscribe originated.
type UnsubscribeSource string

const (
	SourceLink     UnsubscribeSource = "link"
	SourceOneClick UnsubscribeSource = "one_click"
	SourceAdmin    UnsubscribeSource = "admin"
)

// Unsubscribe is an entry in the global unsubscribe list.
type Unsubscribe struct {
	Email      string            `json:"email" db:"email"`
	Reason     string            `json:"reason,omitempty" db:"reason"`
	Source     UnsubscribeSource `json:"source" db:"source"`
	CampaignID string            `json:"campaign_id,omitempty" db:"campaign_id"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// UnsubscribeToken is an opaque token embedded in unsubscribe links.
type UnsubscribeToken struct {
	Token     string     `json:"token" db:"token"`
	Email     string     `json:"email" db:"email"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Expired reports whether the token is no longer valid at now.
func (t *UnsubscribeToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
