package suppression

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// mockRepo is an in-memory repository for testing.
type mockRepo struct {
	mu     sync.RWMutex
	unsubs map[string]*domain.Unsubscribe // keyed by email
	tokens map[string]*domain.UnsubscribeToken
	calls  int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		unsubs: make(map[string]*domain.Unsubscribe),
		tokens: make(map[string]*domain.UnsubscribeToken),
	}
}

func (m *mockRepo) FilterUnsubscribed(_ context.Context, emails []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	out := make(map[string]bool)
	for _, e := range emails {
		if _, ok := m.unsubs[e]; ok {
			out[e] = true
		}
	}
	return out, nil
}

func (m *mockRepo) AddUnsubscribe(_ context.Context, u *domain.Unsubscribe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.unsubs[u.Email]; !ok {
		cp := *u
		m.unsubs[u.Email] = &cp
	}
	return nil
}

func (m *mockRepo) RemoveUnsubscribe(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.unsubs[email]; !ok {
		return ErrNotFound
	}
	delete(m.unsubs, email)
	return nil
}

func (m *mockRepo) ListUnsubscribes(_ context.Context, limit, offset int) ([]domain.Unsubscribe, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Unsubscribe
	for _, u := range m.unsubs {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) ActiveToken(_ context.Context, email string, now time.Time) (*domain.UnsubscribeToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.Email == email && t.UsedAt == nil && !t.Expired(now) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) CreateToken(_ context.Context, t *domain.UnsubscribeToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tokens[t.Token] = &cp
	return nil
}

func (m *mockRepo) GetToken(_ context.Context, token string) (*domain.UnsubscribeToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepo) MarkTokenUsed(_ context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok && t.UsedAt == nil {
		t.UsedAt = &at
	}
	return nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo *mockRepo) *Service {
	return NewService(repo).WithClock(func() time.Time { return testNow })
}

func TestUnsubscribe_AddsEmailToList(t *testing.T) {
	svc := newTestService(newMockRepo())
	ctx := context.Background()

	if err := svc.Unsubscribe(ctx, "  User@Example.COM ", "asked", domain.SourceAdmin, ""); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	ok, err := svc.IsUnsubscribed(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("IsUnsubscribed: %v", err)
	}
	if !ok {
		t.Fatal("expected address to be unsubscribed")
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	svc.Unsubscribe(ctx, "a@example.com", "first", domain.SourceLink, "c1")
	if err := svc.Unsubscribe(ctx, "A@example.com", "second", domain.SourceAdmin, ""); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}
	list, total, _ := svc.List(ctx, 10, 0)
	if total != 1 {
		t.Fatalf("expected 1 entry, got %d", total)
	}
	if list[0].Reason != "first" || list[0].CampaignID != "c1" {
		t.Errorf("original entry should be kept, got %+v", list[0])
	}
}

func TestUnsubscribe_EmptyEmail_Fails(t *testing.T) {
	svc := newTestService(newMockRepo())
	if err := svc.Unsubscribe(context.Background(), "  ", "", domain.SourceAdmin, ""); !errors.Is(err, ErrEmptyEmail) {
		t.Fatalf("expected ErrEmptyEmail, got %v", err)
	}
}

func TestRemove_NotFound_ReturnsError(t *testing.T) {
	svc := newTestService(newMockRepo())
	if err := svc.Remove(context.Background(), "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnsubscribed_SingleLookup(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	svc.Unsubscribe(ctx, "b@example.com", "", domain.SourceAdmin, "")
	repo.calls = 0

	set, err := svc.Unsubscribed(ctx, []string{"a@example.com", "B@Example.com", "", "c@example.com"})
	if err != nil {
		t.Fatalf("Unsubscribed: %v", err)
	}
	if repo.calls != 1 {
		t.Errorf("expected one repository call, got %d", repo.calls)
	}
	if len(set) != 1 || !set["b@example.com"] {
		t.Errorf("unexpected set %v", set)
	}

	empty, _ := svc.Unsubscribed(ctx, nil)
	if len(empty) != 0 || repo.calls != 1 {
		t.Error("empty input should not hit the repository")
	}
}

func TestEnsureToken_ReusesActiveToken(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	first, err := svc.EnsureToken(ctx, "A@example.com")
	if err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	second, _ := svc.EnsureToken(ctx, "a@example.com")
	if first == "" || first != second {
		t.Fatalf("expected the same token, got %q and %q", first, second)
	}
	tok := repo.tokens[first]
	if !tok.ExpiresAt.Equal(testNow.Add(domain.UnsubscribeTokenTTL)) {
		t.Errorf("unexpected expiry %v", tok.ExpiresAt)
	}
}

func TestRedeem_UnsubscribesAndMarksUsed(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	token, _ := svc.EnsureToken(ctx, "a@example.com")

	email, err := svc.Redeem(ctx, token, "c1", domain.SourceLink)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if email != "a@example.com" {
		t.Errorf("unexpected email %q", email)
	}
	if repo.tokens[token].UsedAt == nil {
		t.Error("token should be marked used")
	}
	if ok, _ := svc.IsUnsubscribed(ctx, email); !ok {
		t.Error("address should be unsubscribed")
	}

	// A used token stays redeemable.
	if _, err := svc.Redeem(ctx, token, "c1", domain.SourceLink); err != nil {
		t.Fatalf("second Redeem: %v", err)
	}

	// A new token is issued once the old one is used.
	next, _ := svc.EnsureToken(ctx, "a@example.com")
	if next == token {
		t.Error("expected a fresh token after redemption")
	}
}

func TestRedeem_ExpiredAndUnknown(t *testing.T) {
	repo := newMockRepo()
	repo.tokens["old"] = &domain.UnsubscribeToken{
		Token: "old", Email: "a@example.com", ExpiresAt: testNow,
	}
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Redeem(ctx, "old", "", domain.SourceLink); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := svc.Redeem(ctx, "missing", "", domain.SourceLink); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Redeem(ctx, " ", "", domain.SourceLink); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank token, got %v", err)
	}
	if ok, _ := svc.IsUnsubscribed(ctx, "a@example.com"); ok {
		t.Error("expired token must not unsubscribe")
	}
}
