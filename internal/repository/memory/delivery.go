package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// ---- batches ----

func (s *Store) LastBatch(_ context.Context, campaignID string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *domain.Batch
	for _, b := range s.batches {
		if b.CampaignID == campaignID && (last == nil || b.BatchNumber > last.BatchNumber) {
			last = b
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (s *Store) CreateBatch(_ context.Context, b *domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	for _, existing := range s.batches {
		if existing.CampaignID == b.CampaignID && existing.BatchNumber == b.BatchNumber {
			return domain.ErrInvalidTransition
		}
	}
	now := s.now()
	b.CreatedAt, b.UpdatedAt = now, now
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) TransitionBatch(_ context.Context, id string, from, to domain.BatchStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("batch %s: %s -> %s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if b.Status != from {
		return false, nil
	}
	now := s.now()
	b.Status = to
	b.UpdatedAt = now
	switch to {
	case domain.BatchProcessing:
		if b.StartedAt == nil {
			b.StartedAt = &now
		}
	case domain.BatchCompleted, domain.BatchFailed:
		b.CompletedAt = &now
	}
	return true, nil
}

func (s *Store) DueBatches(_ context.Context, now time.Time, limit int) ([]domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Batch
	for _, b := range s.batches {
		c, ok := s.campaigns[b.CampaignID]
		if !ok || c.Status != domain.CampaignActive {
			continue
		}
		if b.Status == domain.BatchPending && !b.ScheduledTime.After(now) {
			out = append(out, *b)
		}
	}
	sortBatches(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AddCounts(_ context.Context, campaignID, batchID string, d domain.Counts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[campaignID]; ok {
		c.SentCount += d.Sent
		c.FailedCount += d.Failed
		c.SkippedCount += d.Skipped
	}
	if b, ok := s.batches[batchID]; ok {
		b.SentCount += d.Sent
		b.FailedCount += d.Failed
		b.SkippedCount += d.Skipped
	}
	return nil
}

func (s *Store) RevertStuckBatches(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		if b.Status == domain.BatchProcessing && b.UpdatedAt.Before(olderThan) {
			b.Status = domain.BatchPending
			b.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *Store) AssignRecipients(_ context.Context, campaignID, batchID string, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	n := 0
	for _, rid := range s.order {
		if limit > 0 && n >= limit {
			break
		}
		r := s.recipients[rid]
		if r.CampaignID != campaignID || r.BatchID != nil || r.Status != domain.RecipientPending {
			continue
		}
		id := batchID
		r.BatchID = &id
		n++
	}
	b.RecipientCount += n
	return n, nil
}

// ---- recipients ----

func (s *Store) InsertAllUsers(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.users {
		if s.insertLocked(campaignID, u.Email, u.Name, u.ID) {
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertUsersByTags(_ context.Context, campaignID string, tagIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(tagIDs))
	for _, t := range tagIDs {
		want[t] = true
	}
	n := 0
	for _, u := range s.users {
		for _, t := range u.TagIDs {
			if want[t] {
				if s.insertLocked(campaignID, u.Email, u.Name, u.ID) {
					n++
				}
				break
			}
		}
	}
	return n, nil
}

func (s *Store) InsertAddresses(_ context.Context, campaignID string, addresses []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range addresses {
		if s.insertLocked(campaignID, a, "", "") {
			n++
		}
	}
	return n, nil
}

// insertLocked adds a pending recipient unless (campaign, email) exists.
func (s *Store) insertLocked(campaignID, email, name, userID string) bool {
	for _, rid := range s.order {
		r := s.recipients[rid]
		if r.CampaignID == campaignID && r.Email == email {
			return false
		}
	}
	now := s.now()
	r := &domain.Recipient{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		Email:      email,
		Name:       name,
		Status:     domain.RecipientPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if userID != "" {
		uid := userID
		r.UserID = &uid
	}
	s.recipients[r.ID] = r
	s.order = append(s.order, r.ID)
	return true
}

func (s *Store) RefreshRecipientCount(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	n := 0
	for _, r := range s.recipients {
		if r.CampaignID == campaignID {
			n++
		}
	}
	c.RecipientCount = n
	return n, nil
}

// Recipients returns a campaign's recipients in insertion order.
func (s *Store) Recipients(campaignID string) []domain.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Recipient
	for _, rid := range s.order {
		if r := s.recipients[rid]; r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	return out
}

func (s *Store) PendingForBatch(_ context.Context, batchID string, limit int) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Recipient
	for _, rid := range s.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		r := s.recipients[rid]
		if r.BatchID != nil && *r.BatchID == batchID && r.Status == domain.RecipientPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *Store) CountPendingInBatch(_ context.Context, batchID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.recipients {
		if r.BatchID != nil && *r.BatchID == batchID && r.Status == domain.RecipientPending {
			n++
		}
	}
	return n, nil
}

func (s *Store) ClaimRecipient(_ context.Context, id string) (bool, error) {
	return s.moveRecipient(id, domain.RecipientPending, domain.RecipientSending, nil)
}

func (s *Store) MarkSent(_ context.Context, id string, retries int, at time.Time) (bool, error) {
	return s.moveRecipient(id, domain.RecipientSending, domain.RecipientSent, func(r *domain.Recipient) {
		r.RetryCount = retries
		r.SentAt = &at
		r.ErrorMessage = ""
	})
}

func (s *Store) MarkFailed(_ context.Context, id string, retries int, reason string) (bool, error) {
	return s.moveRecipient(id, domain.RecipientSending, domain.RecipientFailed, func(r *domain.Recipient) {
		r.RetryCount = retries
		r.ErrorMessage = reason
	})
}

func (s *Store) MarkSkipped(_ context.Context, ids []string, reason string) (int, error) {
	n := 0
	for _, id := range ids {
		ok, err := s.moveRecipient(id, domain.RecipientPending, domain.RecipientSkipped, func(r *domain.Recipient) {
			r.ErrorMessage = reason
		})
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) SetUnsubscribeToken(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.UnsubscribeToken = token
	return nil
}

// moveRecipient sets a recipient to `to` if it is still in from. apply may
// set the other columns of the move.
func (s *Store) moveRecipient(id string, from, to domain.RecipientStatus, apply func(*domain.Recipient)) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("recipient %s: %s -> %s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	if apply != nil {
		apply(r)
	}
	r.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) SentSince(_ context.Context, since time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		n      int
		oldest time.Time
	)
	for _, r := range s.recipients {
		if r.SentAt == nil || r.SentAt.Before(since) {
			continue
		}
		n++
		if oldest.IsZero() || r.SentAt.Before(oldest) {
			oldest = *r.SentAt
		}
	}
	return n, oldest, nil
}

func (s *Store) RequeueStuck(_ context.Context, olderThan time.Time, maxRetries int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var requeued, failed int
	now := s.now()
	for _, r := range s.recipients {
		if !r.Status.CanRequeue() || !r.UpdatedAt.Before(olderThan) {
			continue
		}
		r.UpdatedAt = now
		if r.RetryCount >= maxRetries {
			r.Status = domain.RecipientFailed
			r.ErrorMessage = "delivery interrupted"
			if c, ok := s.campaigns[r.CampaignID]; ok {
				c.FailedCount++
			}
			if r.BatchID != nil {
				if b, ok := s.batches[*r.BatchID]; ok {
					b.FailedCount++
				}
			}
			failed++
			continue
		}
		r.Status = domain.RecipientPending
		r.RetryCount++
		requeued++
	}
	return requeued, failed, nil
}

func sortBatches(bs []domain.Batch) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].ScheduledTime.Before(bs[j].ScheduledTime) })
}
