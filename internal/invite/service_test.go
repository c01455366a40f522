package invite

import (
	"context"
	"errors"
	"testing"
	"time"

	"sanctum.org/internal/auth"
	"sanctum.org/internal/identity"
)

// The identity service doubles as the production directory.
var _ DirectoryLookup = (*identity.Service)(nil)

// memStore is an in-memory Store with the same single-use redemption
// guard as the real one.
type memStore struct {
	byID    map[string]*Invitation
	byToken map[string]*Invitation
	users   map[string]*identity.User
	now     func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		byID:    make(map[string]*Invitation),
		byToken: make(map[string]*Invitation),
		users:   make(map[string]*identity.User),
		now:     now,
	}
}

func (m *memStore) Create(_ context.Context, inv *Invitation) error {
	inv.CreatedAt = m.now()
	cp := *inv
	m.byID[inv.ID] = &cp
	m.byToken[inv.Token] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Invitation, error) {
	inv, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memStore) GetByToken(_ context.Context, token string) (*Invitation, error) {
	inv, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memStore) ListByIssuer(_ context.Context, issuerID string) ([]*Invitation, error) {
	var out []*Invitation
	for _, inv := range m.byID {
		if inv.IssuerID == issuerID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListAll(_ context.Context) ([]*Invitation, error) {
	var out []*Invitation
	for _, inv := range m.byID {
		cp := *inv
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) Redeem(_ context.Context, token string, user *identity.User) error {
	inv, ok := m.byToken[token]
	if !ok || inv.UsedAt != nil || !m.now().Before(inv.ExpiresAt) {
		return ErrConsumed
	}
	now := m.now()
	inv.UsedAt = &now
	user.CreatedAt, user.UpdatedAt = now, now
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	inv, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byToken, inv.Token)
	delete(m.byID, id)
	return nil
}

// memDirectory answers department/rank lookups from fixed maps.
type memDirectory struct {
	departments map[string]*identity.Department
	ranks       map[string]*identity.Rank
}

func (d *memDirectory) GetDepartment(_ context.Context, id string) (*identity.Department, error) {
	dep, ok := d.departments[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return dep, nil
}

func (d *memDirectory) GetRank(_ context.Context, id string) (*identity.Rank, error) {
	r, ok := d.ranks[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return r, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *memStore, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := newMemStore(c.now)
	dir := &memDirectory{
		departments: map[string]*identity.Department{
			"dept-research": {ID: "dept-research", Name: "Research"},
		},
		ranks: map[string]*identity.Rank{
			"rank-adept": {ID: "rank-adept", DepartmentID: "dept-research", Name: "Adept", ClearanceLevel: 2},
		},
	}
	svc, err := NewService(store, dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.WithClock(c.now)
	return svc, store, c
}

func principal(id string, clearance int) auth.Principal {
	return auth.Principal{UserID: id, Username: id, Clearance: clearance}
}

func TestIssueDecreasingTrust(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, principal("mid", 3), IssueInput{DisplayName: "N", ClearanceLevel: 1}); !errors.Is(err, ErrDenied) {
		t.Fatalf("clearance-3 issue err = %v, want ErrDenied", err)
	}
	// A level-4 issuer may bind strictly lower levels only.
	if _, err := svc.Issue(ctx, principal("senior", 4), IssueInput{DisplayName: "N", ClearanceLevel: 4}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("issue own level err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Issue(ctx, principal("senior", 4), IssueInput{DisplayName: "N", ClearanceLevel: 3}); err != nil {
		t.Fatalf("issue level 3: %v", err)
	}
	// A level-5 issuer may bind any level including 5.
	if _, err := svc.Issue(ctx, principal("admin", 5), IssueInput{DisplayName: "N", ClearanceLevel: 5}); err != nil {
		t.Fatalf("admin issue level 5: %v", err)
	}
	if _, err := svc.Issue(ctx, principal("admin", 5), IssueInput{DisplayName: "N", ClearanceLevel: 6}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("issue level 6 err = %v, want ErrInvalidInput", err)
	}
}

func TestIssueValidatesDirectoryBindings(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	issuer := principal("senior", 4)
	dept := "dept-research"
	ghost := "dept-ghost"
	rank := "rank-adept"

	if _, err := svc.Issue(ctx, issuer, IssueInput{DisplayName: "N", ClearanceLevel: 2, DepartmentID: &ghost}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown department err = %v, want ErrInvalidInput", err)
	}
	// A rank needs its own department bound alongside it.
	if _, err := svc.Issue(ctx, issuer, IssueInput{DisplayName: "N", ClearanceLevel: 2, RankID: &rank}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("rank without department err = %v, want ErrInvalidInput", err)
	}
	inv, err := svc.Issue(ctx, issuer, IssueInput{DisplayName: "Nadia", ClearanceLevel: 2, DepartmentID: &dept, RankID: &rank})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if inv.Token == "" {
		t.Fatal("token must be assigned")
	}
	if inv.DepartmentID == nil || *inv.DepartmentID != dept {
		t.Fatal("department binding lost")
	}
}

func TestInspectAndExpiry(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()
	inv, err := svc.Issue(ctx, principal("senior", 4), IssueInput{DisplayName: "N", ClearanceLevel: 1, TTL: time.Hour})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	got, err := svc.Inspect(ctx, inv.Token)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if got.ClearanceLevel != 1 || got.DisplayName != "N" {
		t.Fatalf("inspect returned %+v", got)
	}
	if _, err := svc.Inspect(ctx, "no-such-token"); !errors.Is(err, ErrConsumed) {
		t.Fatalf("unknown token err = %v, want ErrConsumed", err)
	}

	clk.advance(2 * time.Hour)
	if _, err := svc.Inspect(ctx, inv.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expired token err = %v, want ErrExpired", err)
	}
}

func TestRedeemCreatesBoundAccount(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	dept := "dept-research"
	inv, err := svc.Issue(ctx, principal("admin", 5), IssueInput{
		DisplayName: "Dr. Voss", Title: "Senior Archivist", ClearanceLevel: 3, DepartmentID: &dept,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	user, err := svc.Redeem(ctx, inv.Token, RedeemInput{
		Username: "  VOSS  ", Email: "Voss@Example.org", Password: "hunter2!",
	})
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if user.Username != "voss" || user.Email != "voss@example.org" {
		t.Fatalf("credentials not normalized: %s / %s", user.Username, user.Email)
	}
	if user.ClearanceLevel != 3 {
		t.Fatalf("clearance = %d, want the bound 3", user.ClearanceLevel)
	}
	if user.DisplayName != "Dr. Voss" || user.Title != "Senior Archivist" {
		t.Fatal("bound attributes not carried onto the account")
	}
	if user.PrimaryDepartmentID == nil || *user.PrimaryDepartmentID != dept {
		t.Fatal("bound department not carried onto the account")
	}
	if !user.IsActive || !user.IsVerified {
		t.Fatal("invited accounts arrive active and verified")
	}
	if err := auth.VerifyPassword(store.users[user.ID].PasswordHash, "hunter2!"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}

func TestRedeemIsSingleUse(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	inv, err := svc.Issue(ctx, principal("admin", 5), IssueInput{DisplayName: "N", ClearanceLevel: 1})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Redeem(ctx, inv.Token, RedeemInput{Username: "first", Email: "a@b.c", Password: "p"}); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := svc.Redeem(ctx, inv.Token, RedeemInput{Username: "second", Email: "d@e.f", Password: "p"}); !errors.Is(err, ErrConsumed) {
		t.Fatalf("second redeem err = %v, want ErrConsumed", err)
	}
	if len(store.users) != 1 {
		t.Fatalf("%d accounts created, want 1", len(store.users))
	}
}

func TestRedeemValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	inv, err := svc.Issue(ctx, principal("admin", 5), IssueInput{DisplayName: "N", ClearanceLevel: 1})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := []RedeemInput{
		{Username: "ab", Email: "a@b.c", Password: "p"},
		{Username: "valid", Email: "not-an-email", Password: "p"},
		{Username: "valid", Email: "a@b.c", Password: "  "},
	}
	for i, input := range cases {
		if _, err := svc.Redeem(ctx, inv.Token, input); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("case %d: err = %v, want ErrInvalidInput", i, err)
		}
	}
	// Failed validation must not consume the token.
	if _, err := svc.Inspect(ctx, inv.Token); err != nil {
		t.Fatalf("token should still be live: %v", err)
	}
}

func TestListScopes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	a := principal("issuer-a", 4)
	b := principal("issuer-b", 4)
	if _, err := svc.Issue(ctx, a, IssueInput{DisplayName: "N", ClearanceLevel: 1}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Issue(ctx, b, IssueInput{DisplayName: "M", ClearanceLevel: 1}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	own, err := svc.List(ctx, a)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(own) != 1 {
		t.Fatalf("issuer sees %d invitations, want 1", len(own))
	}
	all, err := svc.List(ctx, principal("admin", 5))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin sees %d invitations, want 2", len(all))
	}
	if _, err := svc.List(ctx, principal("mid", 3)); !errors.Is(err, ErrDenied) {
		t.Fatalf("clearance-3 list err = %v, want ErrDenied", err)
	}
}

func TestRevokeRules(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	issuer := principal("issuer", 4)
	inv, err := svc.Issue(ctx, issuer, IssueInput{DisplayName: "N", ClearanceLevel: 1})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.Revoke(ctx, principal("other", 4), inv.ID); !errors.Is(err, ErrDenied) {
		t.Fatalf("foreign revoke err = %v, want ErrDenied", err)
	}
	if err := svc.Revoke(ctx, issuer, inv.ID); err != nil {
		t.Fatalf("issuer revoke: %v", err)
	}
	if _, err := svc.Inspect(ctx, inv.Token); !errors.Is(err, ErrConsumed) {
		t.Fatalf("revoked token err = %v, want ErrConsumed", err)
	}

	// Redeemed invitations cannot be revoked.
	inv2, err := svc.Issue(ctx, issuer, IssueInput{DisplayName: "M", ClearanceLevel: 1})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Redeem(ctx, inv2.Token, RedeemInput{Username: "someone", Email: "s@x.y", Password: "p"}); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if err := svc.Revoke(ctx, issuer, inv2.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("revoke redeemed err = %v, want ErrConflict", err)
	}
}
