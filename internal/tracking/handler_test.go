package tracking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/repository/memory"
	"github.com/ignite/campaign-mailer/internal/service/suppression"
)

type fixture struct {
	store  *memory.Store
	unsub  *suppression.Service
	signer *Signer
	router chi.Router
	cid    string
	rid    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	c := &domain.Campaign{Name: "Launch", Status: domain.CampaignActive}
	require.NoError(t, store.Create(ctx, c))
	_, err := store.InsertAddresses(ctx, c.ID, []string{"ada@example.com"})
	require.NoError(t, err)
	rs := store.Recipients(c.ID)
	require.Len(t, rs, 1)

	f := &fixture{
		store:  store,
		unsub:  suppression.NewService(store),
		signer: NewSigner("test-key"),
		router: chi.NewRouter(),
		cid:    c.ID,
		rid:    rs[0].ID,
	}
	NewHandler(store, f.unsub, f.signer).Mount(f.router)
	return f
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestHandleOpen_RecordsOncePerRecipient(t *testing.T) {
	f := newFixture(t)
	q := url.Values{"rid": {f.rid}, "cid": {f.cid}, "sig": {f.signer.Sign(f.rid, f.cid)}}

	for i := 0; i < 3; i++ {
		w := f.get(t, "/api/track/open?"+q.Encode())
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
		assert.Equal(t, pixelGIF, w.Body.Bytes())
	}

	c, err := f.store.Get(context.Background(), f.cid)
	require.NoError(t, err)
	assert.Equal(t, 1, c.OpenCount)
	assert.Len(t, f.store.Events(), 1)
}

func TestHandleOpen_BadSignatureStillServesPixel(t *testing.T) {
	f := newFixture(t)
	q := url.Values{"rid": {f.rid}, "cid": {f.cid}, "sig": {"0000000000000000"}}

	w := f.get(t, "/api/track/open?"+q.Encode())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.store.Events())
}

func TestHandleClick_Redirects(t *testing.T) {
	f := newFixture(t)
	link := "https://example.com/pricing?ref=mail"
	q := url.Values{"rid": {f.rid}, "cid": {f.cid}, "url": {link}, "sig": {f.signer.Sign(f.rid, f.cid, link)}}

	for i := 0; i < 2; i++ {
		w := f.get(t, "/api/track/click?"+q.Encode())
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, link, w.Header().Get("Location"))
	}

	c, err := f.store.Get(context.Background(), f.cid)
	require.NoError(t, err)
	assert.Equal(t, 2, c.ClickCount)
}

func TestHandleClick_RejectsTamperedLink(t *testing.T) {
	f := newFixture(t)
	sig := f.signer.Sign(f.rid, f.cid, "https://example.com/")
	tests := []struct {
		name string
		link string
	}{
		{"other host", "https://evil.example.net/"},
		{"javascript", "javascript:alert(1)"},
		{"relative", "/admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := url.Values{"rid": {f.rid}, "cid": {f.cid}, "url": {tt.link}, "sig": {sig}}
			w := f.get(t, "/api/track/click?"+q.Encode())
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, f.store.Events())
}

func TestHandleUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, err := f.unsub.EnsureToken(ctx, "ada@example.com")
	require.NoError(t, err)

	w := f.get(t, "/unsubscribe?token="+token+"&cid="+f.cid)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "You have been unsubscribed")

	ok, err := f.unsub.IsUnsubscribed(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	// a second click on the same link is harmless
	w = f.get(t, "/unsubscribe?token="+token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleUnsubscribe_UnknownAndExpired(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/unsubscribe?token=nope")
	assert.Equal(t, http.StatusNotFound, w.Code)

	ctx := context.Background()
	past := time.Now().Add(-2 * domain.UnsubscribeTokenTTL)
	old := suppression.NewService(f.store).WithClock(func() time.Time { return past })
	token, err := old.EnsureToken(ctx, "old@example.com")
	require.NoError(t, err)

	w = f.get(t, "/unsubscribe?token="+token)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestHandleOneClickUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, err := f.unsub.EnsureToken(ctx, "ada@example.com")
	require.NoError(t, err)

	form := url.Values{"List-Unsubscribe": {"One-Click"}}
	req := httptest.NewRequest(http.MethodPost, "/unsubscribe?token="+token, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	ok, err := f.unsub.IsUnsubscribed(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSigner(t *testing.T) {
	s := NewSigner("k")
	sig := s.Sign("a", "b")
	assert.Len(t, sig, 16)
	assert.True(t, s.Verify(sig, "a", "b"))
	assert.False(t, s.Verify(sig, "a", "c"))

	var off *Signer
	assert.Equal(t, "", off.Sign("a"))
	assert.True(t, off.Verify("", "a"))
}
