package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
)

func newRedisLock(t *testing.T, key string) (*distlock.RedisLock, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return distlock.NewRedisLock(client, key, time.Minute), client
}

func TestDispatcher_StartsScheduledCampaignWhenDue(t *testing.T) {
	h := newHarness(t, testDelivery())
	ctx := context.Background()

	at := h.clock.Now().Add(10 * time.Minute)
	c, err := h.campaigns.Create(ctx, campaign.CreateInput{
		Subject:     "Launch",
		HTMLContent: "<p>hello</p>",
		Schedule:    domain.ScheduleAt,
		ScheduledAt: &at,
		Target:      domain.TargetExternal(addresses(4)...),
	})
	require.NoError(t, err)
	out, err := h.campaigns.ScheduleOrStart(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, campaign.ModeScheduled, out.Mode)

	lock, _ := newRedisLock(t, "dispatcher")
	d := NewDispatcher(h.processor, h.store, h.campaigns, lock)
	d.now = h.clock.Now

	sum, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Ran)
	assert.Zero(t, sum.CampaignsStarted)
	assert.Equal(t, 0, h.transport.total())

	h.clock.Advance(10 * time.Minute)
	sum, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CampaignsStarted)
	assert.Equal(t, 4, sum.Sent)
	assert.Equal(t, domain.CampaignCompleted, h.campaign(c.ID).Status)
}

func TestDispatcher_SkipsTickWhenLockHeld(t *testing.T) {
	h := newHarness(t, testDelivery())
	ctx := context.Background()
	_, out := h.start(addresses(2)...)
	require.Equal(t, campaign.ModeImmediate, out.Mode)

	lock, client := newRedisLock(t, "dispatcher")
	other := distlock.NewRedisLock(client, "dispatcher", time.Minute)
	ok, err := other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	d := NewDispatcher(h.processor, h.store, h.campaigns, lock)
	d.now = h.clock.Now
	sum, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, sum.Ran)
	assert.Equal(t, 0, h.transport.total())

	require.NoError(t, other.Release(ctx))
	sum, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Ran)
	assert.Equal(t, 2, sum.Sent)
}

func TestDispatcher_IgnoresCancelledCampaigns(t *testing.T) {
	h := newHarness(t, testDelivery())
	ctx := context.Background()
	c, out := h.start(addresses(2)...)
	require.Equal(t, campaign.ModeImmediate, out.Mode)
	_, err := h.campaigns.Cancel(ctx, c.ID)
	require.NoError(t, err)

	d := NewDispatcher(h.processor, h.store, h.campaigns, nil)
	d.now = h.clock.Now
	sum, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, sum.Batches)

	b, err := h.store.GetBatch(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPending, b.Status)
}

func TestDispatcher_StartStop(t *testing.T) {
	h := newHarness(t, testDelivery())
	d := NewDispatcher(h.processor, h.store, h.campaigns, nil)
	d.SetInterval(time.Hour)

	require.NoError(t, d.Start())
	assert.Error(t, d.Start(), "double start")
	d.Stop()
	d.Stop()
}

func TestRecoverySweeper_FailsAfterMaxRetries(t *testing.T) {
	h := newHarness(t, testDelivery())
	ctx := context.Background()
	c, out := h.start(addresses(1)...)

	r := h.store.Recipients(c.ID)[0]
	ok, err := h.store.ClaimRecipient(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, ok)
	claimed, err := h.store.TransitionBatch(ctx, out.BatchID, domain.BatchPending, domain.BatchProcessing)
	require.NoError(t, err)
	require.True(t, claimed)

	sweeper := NewRecoverySweeper(h.store, h.store, testDeliverySource(), time.Minute, 15*time.Minute)
	sweeper.now = h.clock.Now

	// each sweep requeues, then the recipient is claimed again and abandoned
	for i := 1; i <= 3; i++ {
		h.clock.Advance(16 * time.Minute)
		requeued, failed, batches := sweeper.RunOnce(ctx)
		assert.Equal(t, 1, requeued, "sweep %d", i)
		assert.Zero(t, failed)
		if i == 1 {
			assert.Equal(t, 1, batches)
		}
		ok, err := h.store.ClaimRecipient(ctx, r.ID)
		require.NoError(t, err)
		require.True(t, ok)
	}

	h.clock.Advance(16 * time.Minute)
	requeued, failed, _ := sweeper.RunOnce(ctx)
	assert.Zero(t, requeued)
	assert.Equal(t, 1, failed)

	got := h.recipientByEmail(c.ID, r.Email)
	assert.Equal(t, domain.RecipientFailed, got.Status)
	assert.Equal(t, 1, h.campaign(c.ID).FailedCount)
}
