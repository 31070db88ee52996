// Package memory is an in-process implementation of every repository
// contract. It backs the service and worker tests and the server when no
// database is configured. All methods are safe for concurrent use; status
// changes are compare-and-set under a single mutex.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
)

// Store holds all entities in maps keyed by id.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	campaigns  map[string]*domain.Campaign
	batches    map[string]*domain.Batch
	recipients map[string]*domain.Recipient
	order      []string // recipient ids in insertion order
	users      []domain.User
	unsubs     map[string]*domain.Unsubscribe
	tokens     map[string]*domain.UnsubscribeToken
	events     []domain.TrackingEvent
	settings   *domain.Settings
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:        time.Now,
		campaigns:  make(map[string]*domain.Campaign),
		batches:    make(map[string]*domain.Batch),
		recipients: make(map[string]*domain.Recipient),
		unsubs:     make(map[string]*domain.Unsubscribe),
		tokens:     make(map[string]*domain.UnsubscribeToken),
	}
}

// WithClock overrides the time source used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// AddUser seeds the user store.
func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	s.users = append(s.users, u)
}

// ---- campaigns ----

func (s *Store) Get(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	search := strings.ToLower(f.Search)
	for _, c := range s.campaigns {
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(c.Name+" "+c.Subject), search) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(out) || f.Limit <= 0 {
		end = len(out)
	}
	return out[f.Offset:end], total, nil
}

func (s *Store) Create(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
		c.UpdatedAt = c.CreatedAt
	}
	cp := *c
	s.campaigns[cp.ID] = &cp
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.campaigns, id)
	for bid, b := range s.batches {
		if b.CampaignID == id {
			delete(s.batches, bid)
		}
	}
	kept := s.order[:0]
	for _, rid := range s.order {
		if s.recipients[rid].CampaignID == id {
			delete(s.recipients, rid)
			continue
		}
		kept = append(kept, rid)
	}
	s.order = kept
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, from, to domain.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	if c.Status != from {
		return domain.ErrInvalidTransition
	}
	now := s.now()
	c.Status = to
	c.UpdatedAt = now
	if to == domain.CampaignActive && c.StartedAt == nil {
		c.StartedAt = &now
	}
	if to.Terminal() {
		c.CompletedAt = &now
	}
	return nil
}

func (s *Store) DueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Batches(_ context.Context, campaignID string) ([]domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Batch
	for _, b := range s.batches {
		if b.CampaignID == campaignID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchNumber < out[j].BatchNumber })
	return out, nil
}

func (s *Store) Failures(_ context.Context, campaignID string, limit int) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Recipient
	for _, rid := range s.order {
		r := s.recipients[rid]
		if r.CampaignID == campaignID && r.Status == domain.RecipientFailed {
			out = append(out, *r)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) Outstanding(_ context.Context, campaignID string) (domain.Outstanding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var o domain.Outstanding
	for _, r := range s.recipients {
		if r.CampaignID != campaignID {
			continue
		}
		switch r.Status {
		case domain.RecipientPending:
			o.Pending++
			if r.BatchID == nil {
				o.Unassigned++
			}
		case domain.RecipientSending:
			o.Sending++
		}
	}
	return o, nil
}

// ---- settings ----

func (s *Store) GetSettings(context.Context) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return nil, domain.ErrNotFound
	}
	cp := *s.settings
	return &cp, nil
}

func (s *Store) SaveSettings(_ context.Context, st *domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	cp.UpdatedAt = s.now()
	s.settings = &cp
	return nil
}
