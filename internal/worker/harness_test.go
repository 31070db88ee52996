package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/content"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/repository/memory"
	"github.com/ignite/campaign-mailer/internal/service/batch"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
	"github.com/ignite/campaign-mailer/internal/service/quota"
	"github.com/ignite/campaign-mailer/internal/service/recipient"
	"github.com/ignite/campaign-mailer/internal/service/sending"
	"github.com/ignite/campaign-mailer/internal/service/suppression"
	"github.com/ignite/campaign-mailer/internal/tracking"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeTransport records every send. failures[addr] makes the next n sends
// to addr fail; alwaysFail addresses never succeed.
type fakeTransport struct {
	mu         sync.Mutex
	calls      []*domain.EmailMessage
	failures   map[string]int
	alwaysFail map[string]bool
	onSend     func(msg *domain.EmailMessage)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failures: map[string]int{}, alwaysFail: map[string]bool{}}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(_ context.Context, msg *domain.EmailMessage) error {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	hook := f.onSend
	fail := false
	if f.alwaysFail[msg.To] {
		fail = true
	} else if f.failures[msg.To] > 0 {
		f.failures[msg.To]--
		fail = true
	}
	f.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	if fail {
		return errors.New("451 temporary failure")
	}
	return nil
}

func (f *fakeTransport) callsTo(addr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.calls {
		if m.To == addr {
			n++
		}
	}
	return n
}

func (f *fakeTransport) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	t         *testing.T
	clock     *testClock
	store     *memory.Store
	campaigns *campaign.Service
	unsub     *suppression.Service
	scheduler *batch.Scheduler
	transport *fakeTransport
	processor *BatchProcessor

	mu    sync.Mutex
	slept []time.Duration
}

func newHarness(t *testing.T, d config.Delivery) *harness {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := memory.New().WithClock(clk.Now)
	src := config.Static(d)

	q := quota.NewTracker(store, src).WithClock(clk.Now)
	sched := batch.NewScheduler(store, src).WithClock(clk.Now)
	camps := campaign.NewService(store, recipient.NewResolver(store), q, sched).WithClock(clk.Now)
	unsub := suppression.NewService(store).WithClock(clk.Now)
	tr := newFakeTransport()

	h := &harness{
		t:         t,
		clock:     clk,
		store:     store,
		campaigns: camps,
		unsub:     unsub,
		scheduler: sched,
		transport: tr,
	}
	h.processor = NewBatchProcessor(ProcessorDeps{
		Batches:      store,
		Recipients:   store,
		Campaigns:    store,
		Lifecycle:    camps,
		Scheduler:    sched,
		Quota:        q,
		Suppressions: unsub,
		Transports:   sending.StaticFactory{T: tr},
		Personalizer: content.NewPersonalizer(tracking.NewSigner("test")),
		Settings:     src,
	}).WithClock(clk.Now).WithSleep(func(_ context.Context, d time.Duration) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.slept = append(h.slept, d)
		return nil
	})
	return h
}

func testDelivery() config.Delivery {
	d := config.DefaultDelivery()
	d.BaseURL = "https://mail.example.com"
	d.FromEmail = "news@example.com"
	d.FromName = "Example"
	return d
}

func addresses(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%03d@example.com", i)
	}
	return out
}

// start creates an external-target campaign and runs ScheduleOrStart.
func (h *harness) start(addrs ...string) (*domain.Campaign, *campaign.SendOutcome) {
	h.t.Helper()
	ctx := context.Background()
	c, err := h.campaigns.Create(ctx, campaign.CreateInput{
		Subject:     "News for {{name}}",
		HTMLContent: "<html><body><p>Hi {{name}}</p><a href=\"https://example.com/offer\">offer</a></body></html>",
		Target:      domain.TargetExternal(addrs...),
	})
	require.NoError(h.t, err)
	out, err := h.campaigns.ScheduleOrStart(ctx, c.ID)
	require.NoError(h.t, err)
	return c, out
}

func (h *harness) campaign(id string) *domain.Campaign {
	h.t.Helper()
	c, err := h.store.Get(context.Background(), id)
	require.NoError(h.t, err)
	require.True(h.t, c.CountersValid(), "counters exceed recipient count: %+v", c)
	return c
}

func (h *harness) recipientByEmail(campaignID, email string) domain.Recipient {
	h.t.Helper()
	for _, r := range h.store.Recipients(campaignID) {
		if r.Email == email {
			return r
		}
	}
	h.t.Fatalf("recipient %s not found", email)
	return domain.Recipient{}
}

func testDeliverySource() config.Source {
	return config.Static(testDelivery())
}
