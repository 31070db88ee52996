package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
)

func newTestSweeper(h *harness) *RecoverySweeper {
	rs := NewRecoverySweeper(h.store, h.store, testDeliverySource(), time.Minute, 0)
	rs.now = h.clock.Now
	return rs
}

func TestRecoverySweeper_RequeuesStuckRecipientAndBatch(t *testing.T) {
	h := newHarness(t, testDelivery())
	ctx := context.Background()
	c, out := h.start("a@example.com", "b@example.com")
	require.NotEmpty(t, out.BatchID)

	ok, err := h.store.TransitionBatch(ctx, out.BatchID, domain.BatchPending, domain.BatchProcessing)
	require.NoError(t, err)
	require.True(t, ok)
	stuck := h.recipientByEmail(c.ID, "a@example.com")
	ok, err = h.store.ClaimRecipient(ctx, stuck.ID)
	require.NoError(t, err)
	require.True(t, ok)

	rs := newTestSweeper(h)

	// Not stale yet.
	requeued, failed, batches := rs.RunOnce(ctx)
	assert.Zero(t, requeued+failed+batches)

	h.clock.Advance(DefaultStaleAge + time.Minute)
	requeued, failed, batches = rs.RunOnce(ctx)
	assert.Equal(t, 1, requeued)
	assert.Zero(t, failed)
	assert.Equal(t, 1, batches)

	r := h.recipientByEmail(c.ID, "a@example.com")
	assert.Equal(t, domain.RecipientPending, r.Status)
	assert.Equal(t, 1, r.RetryCount)

	b, err := h.store.GetBatch(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPending, b.Status)

	// The reverted batch delivers the requeued recipient exactly once.
	_, err = h.processor.ProcessBatch(ctx, out.BatchID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, h.transport.callsTo("a@example.com"))
	assert.Equal(t, domain.CampaignCompleted, h.campaign(c.ID).Status)
}

func TestRecoverySweeper_FailsRecipientOutOfRetries(t *testing.T) {
	h := newHarness(t, testDelivery())
	ctx := context.Background()
	c, _ := h.start("a@example.com")
	id := h.recipientByEmail(c.ID, "a@example.com").ID

	rs := newTestSweeper(h)
	for i := 0; i <= testDelivery().MaxRetries; i++ {
		ok, err := h.store.ClaimRecipient(ctx, id)
		require.NoError(t, err)
		require.True(t, ok, "claim %d", i)
		h.clock.Advance(DefaultStaleAge + time.Minute)
		rs.RunOnce(ctx)
	}

	r := h.recipientByEmail(c.ID, "a@example.com")
	assert.Equal(t, domain.RecipientFailed, r.Status)
	assert.Equal(t, testDelivery().MaxRetries, r.RetryCount)
	assert.Equal(t, 1, h.campaign(c.ID).FailedCount)
	assert.Zero(t, h.transport.total())
}

// sweepDuringSend makes the first send take longer than the stale age and
// runs the recovery sweep while it is in flight.
func sweepDuringSend(h *harness, maxRetries int) {
	var once sync.Once
	h.transport.onSend = func(*domain.EmailMessage) {
		once.Do(func() {
			h.clock.Advance(DefaultStaleAge + 5*time.Minute)
			_, _, err := h.store.RequeueStuck(context.Background(), h.clock.Now().Add(-DefaultStaleAge), maxRetries)
			require.NoError(h.t, err)
		})
	}
}

func TestRecoverySweeper_FailedDuringSendIsCountedOnce(t *testing.T) {
	h := newHarness(t, testDelivery())
	ctx := context.Background()
	c, out := h.start("a@example.com")
	sweepDuringSend(h, 0)

	res, err := h.processor.ProcessBatch(ctx, out.BatchID, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Sent)

	got := h.campaign(c.ID)
	assert.Equal(t, 1, got.RecipientCount)
	assert.Equal(t, 0, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.Equal(t, domain.RecipientFailed, h.recipientByEmail(c.ID, "a@example.com").Status)

	b, err := h.store.GetBatch(ctx, out.BatchID)
	require.NoError(t, err)
	assert.LessOrEqual(t, b.SentCount+b.FailedCount+b.SkippedCount, b.RecipientCount)
}

func TestRecoverySweeper_RequeuedDuringSendIsRedelivered(t *testing.T) {
	h := newHarness(t, testDelivery())
	ctx := context.Background()
	c, out := h.start("a@example.com")
	sweepDuringSend(h, testDelivery().MaxRetries)

	res, err := h.processor.ProcessBatch(ctx, out.BatchID, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
	assert.Equal(t, string(domain.BatchPending), res.Status)
	assert.Zero(t, h.campaign(c.ID).SentCount)

	res, err = h.processor.ProcessBatch(ctx, out.BatchID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	got := h.campaign(c.ID)
	assert.Equal(t, 1, got.SentCount)
	assert.Zero(t, got.FailedCount)
	assert.Equal(t, domain.CampaignCompleted, got.Status)
	assert.Equal(t, 2, h.transport.callsTo("a@example.com"))
	assert.Equal(t, 1, h.recipientByEmail(c.ID, "a@example.com").RetryCount)
}
