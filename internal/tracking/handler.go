package tracking

import (
	"errors"
	"html/template"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/metrics"
	"github.com/ignite/campaign-mailer/internal/service/suppression"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

var unsubscribePage = template.Must(template.New("unsubscribe").Parse(`<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body></html>`))

// Handler serves the public tracking endpoints.
type Handler struct {
	recorder Recorder
	unsub    Unsubscriber
	signer   *Signer
	now      func() time.Time
}

// NewHandler creates a tracking handler.
func NewHandler(recorder Recorder, unsub Unsubscriber, signer *Signer) *Handler {
	return &Handler{recorder: recorder, unsub: unsub, signer: signer, now: time.Now}
}

// Mount registers the tracking routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/api/track/open", h.HandleOpen)
	r.Get("/api/track/click", h.HandleClick)
	r.Get("/unsubscribe", h.HandleUnsubscribe)
	r.Post("/unsubscribe", h.HandleOneClickUnsubscribe)
}

// HandleOpen records an open once per recipient and always serves the pixel.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rid, cid := q.Get("rid"), q.Get("cid")
	if rid == "" || cid == "" || !h.signer.Verify(q.Get("sig"), rid, cid) {
		h.servePixel(w)
		return
	}

	ev := h.event(r, domain.EventOpen, cid, rid, "")
	if counted, err := h.recorder.Record(r.Context(), ev); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Printf("[tracking] record open failed: %v", err)
		}
	} else if counted {
		metrics.TrackingEvents.WithLabelValues(string(domain.EventOpen)).Inc()
	}
	h.servePixel(w)
}

// HandleClick records a click and redirects to the original link.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rid, cid, target := q.Get("rid"), q.Get("cid"), q.Get("url")
	if !safeRedirect(target) || !h.signer.Verify(q.Get("sig"), rid, cid, target) {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	if cid != "" {
		ev := h.event(r, domain.EventClick, cid, rid, target)
		if _, err := h.recorder.Record(r.Context(), ev); err != nil {
			log.Printf("[tracking] record click failed: %v", err)
		} else {
			metrics.TrackingEvents.WithLabelValues(string(domain.EventClick)).Inc()
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleUnsubscribe redeems the token from a footer link and shows a
// confirmation page.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	status, title, msg := h.redeem(r, domain.SourceLink)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = unsubscribePage.Execute(w, struct{ Title, Message string }{title, msg})
}

// HandleOneClickUnsubscribe serves RFC 8058 List-Unsubscribe-Post requests.
func (h *Handler) HandleOneClickUnsubscribe(w http.ResponseWriter, r *http.Request) {
	status, _, msg := h.redeem(r, domain.SourceOneClick)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func (h *Handler) redeem(r *http.Request, source domain.UnsubscribeSource) (int, string, string) {
	token := r.URL.Query().Get("token")
	if token == "" {
		_ = r.ParseForm()
		token = r.Form.Get("token")
	}
	cid := r.URL.Query().Get("cid")

	_, err := h.unsub.Redeem(r.Context(), token, cid, source)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Link not recognised", "This unsubscribe link is invalid."
	case errors.Is(err, suppression.ErrTokenExpired):
		return http.StatusGone, "Link expired", "This unsubscribe link has expired."
	default:
		log.Printf("[tracking] unsubscribe failed: %v", err)
		return http.StatusInternalServerError, "Something went wrong", "Please try again later."
	}

	if cid != "" {
		ev := h.event(r, domain.EventUnsubscribe, cid, "", "")
		if _, err := h.recorder.Record(r.Context(), ev); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Printf("[tracking] record unsubscribe failed: %v", err)
		}
	}
	metrics.TrackingEvents.WithLabelValues(string(domain.EventUnsubscribe)).Inc()
	return http.StatusOK, "You have been unsubscribed", "You will no longer receive emails from us."
}

func (h *Handler) event(r *http.Request, typ domain.TrackingEventType, cid, rid, link string) *domain.TrackingEvent {
	return &domain.TrackingEvent{
		Type:        typ,
		CampaignID:  cid,
		RecipientID: rid,
		URL:         link,
		IP:          realIP(r),
		UserAgent:   r.UserAgent(),
		At:          h.now().UTC(),
	}
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	_, _ = w.Write(pixelGIF)
}

func safeRedirect(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
