package domain

// EmailMessage is the fully personalized message handed to a transport.
// Substitution, tracking injection, and header generation are complete
// by the time a message reaches this struct.
type EmailMessage struct {
	To          string            `json:"to"`
	ToName      string            `json:"to_name,omitempty"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html"`
	Headers     map[string]string `json:"headers,omitempty"`
	CampaignID  string            `json:"campaign_id"`
	RecipientID string            `json:"recipient_id"`
}
