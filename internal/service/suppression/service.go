package suppression

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Service implements unsubscribe business logic. It is safe for concurrent
// use if the repository is.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Normalize lowercases and trims an address.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsUnsubscribed reports whether a single address is on the list.
func (s *Service) IsUnsubscribed(ctx context.Context, email string) (bool, error) {
	email = Normalize(email)
	set, err := s.repo.FilterUnsubscribed(ctx, []string{email})
	if err != nil {
		return false, err
	}
	return set[email], nil
}

// Unsubscribed returns which of the given addresses are on the list, keyed
// by normalized address. One repository round trip regardless of size.
func (s *Service) Unsubscribed(ctx context.Context, emails []string) (map[string]bool, error) {
	if len(emails) == 0 {
		return map[string]bool{}, nil
	}
	normalized := make([]string, 0, len(emails))
	for _, e := range emails {
		if e = Normalize(e); e != "" {
			normalized = append(normalized, e)
		}
	}
	set, err := s.repo.FilterUnsubscribed(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("filter unsubscribed: %w", err)
	}
	return set, nil
}

// Unsubscribe adds an address to the global list. Idempotent.
func (s *Service) Unsubscribe(ctx context.Context, email, reason string, source domain.UnsubscribeSource, campaignID string) error {
	email = Normalize(email)
	if email == "" {
		return ErrEmptyEmail
	}
	return s.repo.AddUnsubscribe(ctx, &domain.Unsubscribe{
		Email:      email,
		Reason:     reason,
		Source:     source,
		CampaignID: campaignID,
		CreatedAt:  s.now(),
	})
}

// Remove deletes an address from the list.
func (s *Service) Remove(ctx context.Context, email string) error {
	email = Normalize(email)
	if email == "" {
		return ErrEmptyEmail
	}
	return s.repo.RemoveUnsubscribe(ctx, email)
}

// List returns list entries, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.Unsubscribe, int, error) {
	return s.repo.ListUnsubscribes(ctx, limit, offset)
}

// EnsureToken returns the address's current unsubscribe token, creating one
// with a one year expiry when none is valid.
func (s *Service) EnsureToken(ctx context.Context, email string) (string, error) {
	email = Normalize(email)
	if email == "" {
		return "", ErrEmptyEmail
	}
	now := s.now()
	tok, err := s.repo.ActiveToken(ctx, email, now)
	if err == nil {
		return tok.Token, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("lookup token: %w", err)
	}

	tok = &domain.UnsubscribeToken{
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		Email:     email,
		ExpiresAt: now.Add(domain.UnsubscribeTokenTTL),
		CreatedAt: now,
	}
	if err := s.repo.CreateToken(ctx, tok); err != nil {
		return "", fmt.Errorf("create token: %w", err)
	}
	return tok.Token, nil
}

// Redeem resolves a token to its address, adds the address to the global
// list, and marks the token used. Redeeming an already-used token succeeds
// again so repeated clicks are harmless.
func (s *Service) Redeem(ctx context.Context, token, campaignID string, source domain.UnsubscribeSource) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNotFound
	}
	tok, err := s.repo.GetToken(ctx, token)
	if err != nil {
		return "", err
	}
	now := s.now()
	if tok.UsedAt == nil && tok.Expired(now) {
		return "", ErrTokenExpired
	}

	if err := s.Unsubscribe(ctx, tok.Email, "unsubscribe link", source, campaignID); err != nil {
		return "", fmt.Errorf("add unsubscribe: %w", err)
	}
	if tok.UsedAt == nil {
		if err := s.repo.MarkTokenUsed(ctx, token, now); err != nil {
			log.Printf("[suppression.Service] mark token used failed: %v", err)
		}
	}
	return tok.Email, nil
}
