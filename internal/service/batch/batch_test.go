package batch_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/repository/memory"
	"github.com/ignite/campaign-mailer/internal/service/batch"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	sched *batch.Scheduler
	now   time.Time
}

func newFixture(t *testing.T, recipients int, d config.Delivery) *fixture {
	t.Helper()
	f := &fixture{now: t0}
	clock := func() time.Time { return f.now }
	f.store = memory.New().WithClock(clock)
	f.sched = batch.NewScheduler(f.store, config.Static(d)).WithClock(clock)

	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, &domain.Campaign{ID: "c1", Status: domain.CampaignActive}))
	addrs := make([]string, recipients)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("r%03d@example.com", i)
	}
	_, err := f.store.InsertAddresses(ctx, "c1", addrs)
	require.NoError(t, err)
	return f
}

func TestScheduleBatchesCreatesFirstBatch(t *testing.T) {
	f := newFixture(t, 450, config.Delivery{BatchSize: 200, BatchIntervalMinutes: 60})
	ctx := context.Background()

	plan, err := f.sched.ScheduleBatches(ctx, "c1", 450)
	require.NoError(t, err)

	assert.Equal(t, 3, plan.TotalBatches)
	assert.Equal(t, t0.Add(time.Hour), plan.ScheduledTime)
	assert.Equal(t, t0.Add(3*time.Hour), plan.EstimatedCompletionTime)

	b, err := f.store.GetBatch(ctx, plan.FirstBatchID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.BatchNumber)
	assert.Equal(t, 3, b.TotalBatches)
	assert.Equal(t, 200, b.RecipientCount)
	assert.Equal(t, domain.BatchPending, b.Status)

	all, _ := f.store.Batches(ctx, "c1")
	assert.Len(t, all, 1)
}

func TestScheduleBatchesRejectsZero(t *testing.T) {
	f := newFixture(t, 0, config.DefaultDelivery())
	_, err := f.sched.ScheduleBatches(context.Background(), "c1", 0)
	assert.Error(t, err)
}

func TestScheduleBatchesAfterExistingBatches(t *testing.T) {
	f := newFixture(t, 10, config.Delivery{BatchSize: 5, BatchIntervalMinutes: 60})
	ctx := context.Background()

	first, err := f.sched.ScheduleBatches(ctx, "c1", 5)
	require.NoError(t, err)
	second, err := f.sched.ScheduleBatches(ctx, "c1", 5)
	require.NoError(t, err)

	b1, _ := f.store.GetBatch(ctx, first.FirstBatchID)
	b2, _ := f.store.GetBatch(ctx, second.FirstBatchID)
	assert.Equal(t, 2, b2.BatchNumber)
	assert.True(t, b2.ScheduledTime.After(b1.ScheduledTime), "batch times must increase")
	assert.Equal(t, b1.ScheduledTime.Add(time.Hour), b2.ScheduledTime)
}

func TestNextBatchChainsStrictlyIncreasing(t *testing.T) {
	f := newFixture(t, 25, config.Delivery{BatchSize: 10, BatchIntervalMinutes: 60})
	ctx := context.Background()

	plan, err := f.sched.ScheduleBatches(ctx, "c1", 25)
	require.NoError(t, err)
	prev, _ := f.store.GetBatch(ctx, plan.FirstBatchID)

	// The worker runs late; the next slot is measured from now.
	f.now = prev.ScheduledTime.Add(10 * time.Minute)
	next, err := f.sched.NextBatch(ctx, prev)
	require.NoError(t, err)
	assert.Equal(t, 2, next.BatchNumber)
	assert.Equal(t, 3, next.TotalBatches)
	assert.Equal(t, f.now.Add(time.Hour), next.ScheduledTime)
	assert.Equal(t, 10, next.RecipientCount)

	// A second call for the same predecessor returns the existing batch.
	again, err := f.sched.NextBatch(ctx, prev)
	require.NoError(t, err)
	assert.Equal(t, next.ID, again.ID)

	third, err := f.sched.NextBatch(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, 3, third.BatchNumber)
	assert.Equal(t, 5, third.RecipientCount)
	assert.True(t, third.ScheduledTime.After(next.ScheduledTime))
}

func TestScheduleNow(t *testing.T) {
	f := newFixture(t, 3, config.DefaultDelivery())
	b, err := f.sched.ScheduleNow(context.Background(), "c1", 3)
	require.NoError(t, err)
	assert.Equal(t, t0, b.ScheduledTime)
	assert.Equal(t, 1, b.TotalBatches)
	assert.Equal(t, 3, b.RecipientCount)

	due, err := f.store.DueBatches(context.Background(), t0, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
