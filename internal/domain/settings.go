package domain

import "time"

// Settings is the admin-editable delivery settings record. Zero values fall
// back to the environment or config file defaults.
type Settings struct {
	HourlyCap    int       `json:"hourly_cap"`
	BatchSize    int       `json:"batch_size"`
	IntervalMins int       `json:"batch_interval_minutes"`
	MaxRetries   int       `json:"max_retries"`
	MaxBatches   int       `json:"max_batches"`
	SMTPHost     string    `json:"smtp_host"`
	SMTPPort     int       `json:"smtp_port"`
	SMTPUser     string    `json:"smtp_user"`
	SMTPPassword string    `json:"smtp_password,omitempty"`
	FromEmail    string    `json:"from_email"`
	FromName     string    `json:"from_name"`
	BaseURL      string    `json:"base_url"`
	UpdatedAt    time.Time `json:"updated_at"`
}
