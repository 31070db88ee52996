package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
	"github.com/ignite/campaign-mailer/internal/worker"
)

// HandleCreateCampaign creates a draft campaign.
//
//	POST /api/campaigns
func (h *Handlers) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, c)
}

// HandleListCampaigns lists campaigns, newest first.
//
//	GET /api/campaigns?status=&search=&page=&limit=
func (h *Handlers) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := parsePage(r, 50, 200)
	list, total, err := h.campaigns.List(r.Context(), campaign.ListFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	if list == nil {
		list = []domain.Campaign{}
	}
	httputil.OK(w, paginated(list, p, total))
}

// HandleGetCampaign returns a campaign with its batches and rates.
//
//	GET /api/campaigns/{id}
func (h *Handlers) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	st, err := h.campaigns.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, st)
}

// HandleDeleteCampaign deletes a campaign that is not sending.
//
//	DELETE /api/campaigns/{id}
func (h *Handlers) HandleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}

type sendRequest struct {
	MaxToSend int `json:"max_to_send"`
}

type sendResponse struct {
	*campaign.SendOutcome
	Campaign *domain.Campaign `json:"campaign"`
	Result   *worker.Result   `json:"result,omitempty"`
}

// HandleSendCampaign starts or schedules a campaign. When everything fits
// in the current quota the immediate batch is processed inline, capped by
// the optional max_to_send.
//
//	POST /api/campaigns/{id}/send
func (h *Handlers) HandleSendCampaign(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if r.Body != nil && r.ContentLength != 0 {
		if !httputil.Decode(w, r, &req) {
			return
		}
	}
	if req.MaxToSend < 0 {
		httputil.BadRequest(w, "max_to_send must not be negative")
		return
	}

	out, err := h.campaigns.ScheduleOrStart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	resp := sendResponse{SendOutcome: out, Campaign: out.Campaign}
	if out.Mode == campaign.ModeImmediate && h.batches != nil {
		res, err := h.batches.ProcessBatch(r.Context(), out.BatchID, req.MaxToSend)
		if err != nil {
			respondError(w, err)
			return
		}
		resp.Result = &res
		if fresh, err := h.campaigns.Get(r.Context(), out.Campaign.ID); err == nil {
			resp.Campaign = fresh
			resp.Status = string(fresh.Status)
		}
	}
	httputil.OK(w, resp)
}

// HandlePauseCampaign pauses an active campaign.
//
//	POST /api/campaigns/{id}/pause
func (h *Handlers) HandlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Pause)
}

// HandleResumeCampaign resumes a paused campaign.
//
//	POST /api/campaigns/{id}/resume
func (h *Handlers) HandleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Resume)
}

// HandleCancelCampaign returns a campaign to draft.
//
//	POST /api/campaigns/{id}/cancel
func (h *Handlers) HandleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.campaigns.Cancel)
}

// HandleDuplicateCampaign copies a campaign into a new draft.
//
//	POST /api/campaigns/{id}/duplicate
func (h *Handlers) HandleDuplicateCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Duplicate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, c)
}

// HandleCampaignFailures lists failed recipients and their errors.
//
//	GET /api/campaigns/{id}/failures?limit=
func (h *Handlers) HandleCampaignFailures(w http.ResponseWriter, r *http.Request) {
	rs, err := h.campaigns.Failures(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 100))
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(rs))
	for _, rc := range rs {
		out = append(out, map[string]any{
			"id":          rc.ID,
			"email":       rc.Email,
			"error":       rc.ErrorMessage,
			"retry_count": rc.RetryCount,
			"updated_at":  rc.UpdatedAt,
		})
	}
	httputil.OK(w, map[string]any{"failures": out, "count": len(out)})
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request, act func(context.Context, string) (*domain.Campaign, error)) {
	c, err := act(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
