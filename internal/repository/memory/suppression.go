package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
)

func (s *Store) FilterUnsubscribed(_ context.Context, emails []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, e := range emails {
		if _, ok := s.unsubs[e]; ok {
			out[e] = true
		}
	}
	return out, nil
}

func (s *Store) AddUnsubscribe(_ context.Context, u *domain.Unsubscribe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.unsubs[u.Email]; ok {
		return nil
	}
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.unsubs[u.Email] = &cp
	return nil
}

func (s *Store) RemoveUnsubscribe(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.unsubs[email]; !ok {
		return domain.ErrNotFound
	}
	delete(s.unsubs, email)
	return nil
}

func (s *Store) ListUnsubscribes(_ context.Context, limit, offset int) ([]domain.Unsubscribe, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Unsubscribe, 0, len(s.unsubs))
	for _, u := range s.unsubs {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (s *Store) ActiveToken(_ context.Context, email string, now time.Time) (*domain.UnsubscribeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.UnsubscribeToken
	for _, t := range s.tokens {
		if t.Email != email || t.UsedAt != nil || t.Expired(now) {
			continue
		}
		if best == nil || t.CreatedAt.After(best.CreatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *Store) CreateToken(_ context.Context, t *domain.UnsubscribeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Token == "" {
		t.Token = uuid.NewString()
	}
	cp := *t
	s.tokens[t.Token] = &cp
	return nil
}

func (s *Store) GetToken(_ context.Context, token string) (*domain.UnsubscribeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) MarkTokenUsed(_ context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return domain.ErrNotFound
	}
	if t.UsedAt == nil {
		t.UsedAt = &at
	}
	return nil
}

// ---- tracking ----

// Record stores a tracking event. Opens are stored once per recipient;
// clicks every time. It reports whether the event changed a counter.
func (s *Store) Record(_ context.Context, ev *domain.TrackingEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[ev.CampaignID]
	if !ok {
		return false, domain.ErrNotFound
	}
	var r *domain.Recipient
	if ev.RecipientID != "" {
		r, ok = s.recipients[ev.RecipientID]
		if !ok || r.CampaignID != ev.CampaignID {
			return false, domain.ErrNotFound
		}
	}

	counted := false
	switch ev.Type {
	case domain.EventOpen:
		if r != nil && r.OpenedAt == nil {
			at := ev.At
			r.OpenedAt = &at
			c.OpenCount++
			counted = true
		}
		if !counted {
			return false, nil
		}
	case domain.EventClick:
		c.ClickCount++
		counted = true
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	s.events = append(s.events, *ev)
	return counted, nil
}

// Events returns recorded tracking events.
func (s *Store) Events() []domain.TrackingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TrackingEvent(nil), s.events...)
}
