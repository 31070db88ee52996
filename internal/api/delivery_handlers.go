package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
)

const passwordMask = "********"

var errInvalidSettings = errors.New("invalid settings")

// HandleProcessBatch runs one batch now, regardless of its scheduled time.
//
//	POST /api/batches/{id}/process?max=
func (h *Handlers) HandleProcessBatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.batches.ProcessBatch(r.Context(), chi.URLParam(r, "id"), queryInt(r, "max", 0))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, res)
}

// HandleProcessDue runs a single dispatcher pass. Meant for an external
// scheduler when no worker process is deployed.
//
//	POST /api/cron/process-due
func (h *Handlers) HandleProcessDue(w http.ResponseWriter, r *http.Request) {
	sum, err := h.due.RunOnce(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, sum)
}

// HandleQuota reports the rolling quota window.
//
//	GET /api/quota
func (h *Handlers) HandleQuota(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.quota.GetQuotaStatus(r.Context()))
}

// HandleGetSettings returns the effective delivery settings with the SMTP
// password masked.
//
//	GET /api/settings
func (h *Handlers) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	d := h.delivery.Delivery(r.Context())
	s := domain.Settings{
		HourlyCap:    d.HourlyCap,
		BatchSize:    d.BatchSize,
		IntervalMins: d.BatchIntervalMinutes,
		MaxRetries:   d.MaxRetries,
		MaxBatches:   d.MaxBatches,
		SMTPHost:     d.SMTP.Host,
		SMTPPort:     d.SMTP.Port,
		SMTPUser:     d.SMTP.User,
		FromEmail:    d.FromEmail,
		FromName:     d.FromName,
		BaseURL:      d.BaseURL,
	}
	if d.SMTP.Password != "" {
		s.SMTPPassword = passwordMask
	}
	if stored, err := h.settings.GetSettings(r.Context()); err == nil {
		s.UpdatedAt = stored.UpdatedAt
	}
	httputil.OK(w, s)
}

// HandleSaveSettings replaces the stored settings record. Sending the
// masked password back keeps the stored one.
//
//	PUT /api/settings
func (h *Handlers) HandleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var in domain.Settings
	if !httputil.Decode(w, r, &in) {
		return
	}
	if err := validateSettings(&in); err != nil {
		respondError(w, err)
		return
	}

	if in.SMTPPassword == passwordMask {
		in.SMTPPassword = ""
		stored, err := h.settings.GetSettings(r.Context())
		switch {
		case err == nil:
			in.SMTPPassword = stored.SMTPPassword
		case !errors.Is(err, domain.ErrNotFound):
			respondError(w, err)
			return
		}
	}
	if err := h.settings.SaveSettings(r.Context(), &in); err != nil {
		respondError(w, err)
		return
	}
	h.HandleGetSettings(w, r)
}

func validateSettings(s *domain.Settings) error {
	for name, v := range map[string]int{
		"hourly_cap":             s.HourlyCap,
		"batch_size":             s.BatchSize,
		"batch_interval_minutes": s.IntervalMins,
		"max_retries":            s.MaxRetries,
		"max_batches":            s.MaxBatches,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative: %w", name, errInvalidSettings)
		}
	}
	if s.SMTPPort < 0 || s.SMTPPort > 65535 {
		return fmt.Errorf("smtp_port out of range: %w", errInvalidSettings)
	}
	return nil
}
