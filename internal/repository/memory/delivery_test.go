package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store, addrs ...string) (*domain.Campaign, *domain.Batch) {
	t.Helper()
	ctx := context.Background()
	c := &domain.Campaign{Subject: "Hi", HTMLContent: "<p>hi</p>", Status: domain.CampaignActive, Target: domain.TargetExternal(addrs...)}
	require.NoError(t, s.Create(ctx, c))
	_, err := s.InsertAddresses(ctx, c.ID, addrs)
	require.NoError(t, err)
	_, err = s.RefreshRecipientCount(ctx, c.ID)
	require.NoError(t, err)
	b := &domain.Batch{CampaignID: c.ID, BatchNumber: 1, TotalBatches: 1, ScheduledTime: testNow, Status: domain.BatchPending}
	require.NoError(t, s.CreateBatch(ctx, b))
	_, err = s.AssignRecipients(ctx, c.ID, b.ID, 0)
	require.NoError(t, err)
	return c, b
}

func TestTransitionBatchRejectsLeavingTerminalState(t *testing.T) {
	s := New().WithClock(func() time.Time { return testNow })
	ctx := context.Background()
	_, b := seed(t, s, "a@example.com")

	ok, err := s.TransitionBatch(ctx, b.ID, domain.BatchPending, domain.BatchProcessing)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.TransitionBatch(ctx, b.ID, domain.BatchProcessing, domain.BatchCompleted)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TransitionBatch(ctx, b.ID, domain.BatchCompleted, domain.BatchPending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.False(t, ok)

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, got.Status)
}

func TestMarkSentOnlyFromSending(t *testing.T) {
	s := New().WithClock(func() time.Time { return testNow })
	ctx := context.Background()
	c, _ := seed(t, s, "a@example.com")
	id := s.Recipients(c.ID)[0].ID

	moved, err := s.MarkSent(ctx, id, 0, testNow)
	require.NoError(t, err)
	assert.False(t, moved, "pending recipient cannot jump to sent")

	ok, err := s.ClaimRecipient(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	moved, err = s.MarkSent(ctx, id, 0, testNow)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = s.MarkFailed(ctx, id, 1, "late failure")
	require.NoError(t, err)
	assert.False(t, moved, "sent is terminal")
	assert.Equal(t, domain.RecipientSent, s.Recipients(c.ID)[0].Status)
}

func TestRequeueStuckSkipsSettledRecipients(t *testing.T) {
	now := testNow
	s := New().WithClock(func() time.Time { return now })
	ctx := context.Background()
	c, _ := seed(t, s, "a@example.com", "b@example.com")
	rs := s.Recipients(c.ID)

	for _, r := range rs {
		ok, err := s.ClaimRecipient(ctx, r.ID)
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, err := s.MarkSent(ctx, rs[0].ID, 0, now)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	requeued, failed, err := s.RequeueStuck(ctx, now.Add(-15*time.Minute), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Zero(t, failed)
	assert.Equal(t, domain.RecipientSent, s.Recipients(c.ID)[0].Status)
	assert.Equal(t, domain.RecipientPending, s.Recipients(c.ID)[1].Status)
}

func TestSentSinceIncludesWindowStart(t *testing.T) {
	s := New().WithClock(func() time.Time { return testNow })
	ctx := context.Background()
	c, _ := seed(t, s, "a@example.com", "b@example.com")
	rs := s.Recipients(c.ID)

	start := testNow.Add(-time.Hour)
	for i, at := range []time.Time{start, start.Add(-time.Second)} {
		_, err := s.ClaimRecipient(ctx, rs[i].ID)
		require.NoError(t, err)
		_, err = s.MarkSent(ctx, rs[i].ID, 0, at)
		require.NoError(t, err)
	}

	n, oldest, err := s.SentSince(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, start, oldest)
}
