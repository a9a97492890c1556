package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokercrm/chat-ingest/internal/line"
	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/store"
	"github.com/brokercrm/chat-ingest/pkg/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

// fakeLineClient serves canned profiles and records pushes.
type fakeLineClient struct {
	profiles   map[string]*line.Profile
	profileErr error
	pushErr    error
	pushed     []string
}

func (c *fakeLineClient) GetProfile(ctx context.Context, userID string) (*line.Profile, error) {
	if c.profileErr != nil {
		return nil, c.profileErr
	}
	if p, ok := c.profiles[userID]; ok {
		return p, nil
	}
	return nil, errors.New("profile not found")
}

func (c *fakeLineClient) PushText(ctx context.Context, to, text string) error {
	if c.pushErr != nil {
		return c.pushErr
	}
	c.pushed = append(c.pushed, to+":"+text)
	return nil
}

func hasActivity(activities []model.Activity, customerID string, kind model.ActivityKind) bool {
	for _, a := range activities {
		if a.CustomerID == customerID && a.Kind == kind {
			return true
		}
	}
	return false
}

func TestResolveCreatesCustomerWithProfile(t *testing.T) {
	st := store.NewMemory()
	lc := &fakeLineClient{profiles: map[string]*line.Profile{
		"U123": {UserID: "U123", DisplayName: "Alice"},
	}}
	svc := NewIdentityService(st, lc, testLogger())

	cust, err := svc.Resolve(context.Background(), "U123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cust.DisplayName != "Alice" {
		t.Errorf("expected profile display name, got %q", cust.DisplayName)
	}
	if cust.LineUserID != "U123" || cust.Channel != "line" {
		t.Errorf("unexpected channel fields: %+v", cust)
	}
	if cust.State != model.CustomerActive {
		t.Errorf("expected active state, got %s", cust.State)
	}

	got, err := st.GetCustomerByIdentifier(context.Background(), model.IdentifierLine, "U123")
	if err != nil {
		t.Fatalf("identifier lookup: %v", err)
	}
	if got.ID != cust.ID {
		t.Error("line identifier does not resolve to the created customer")
	}
	if !hasActivity(st.Activities(), cust.ID, model.ActivityCreated) {
		t.Error("expected created activity")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	st := store.NewMemory()
	lc := &fakeLineClient{profileErr: errors.New("api down")}
	svc := NewIdentityService(st, lc, testLogger())

	first, err := svc.Resolve(context.Background(), "U123")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := svc.Resolve(context.Background(), "U123")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("resolve created a duplicate: %s vs %s", first.ID, second.ID)
	}
	if n := len(st.Customers()); n != 1 {
		t.Errorf("expected 1 customer, got %d", n)
	}
}

func TestResolveWithoutProfileUsesPlaceholderName(t *testing.T) {
	st := store.NewMemory()
	lc := &fakeLineClient{profileErr: errors.New("api down")}
	svc := NewIdentityService(st, lc, testLogger())

	cust, err := svc.Resolve(context.Background(), "U1234567890abcdef")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasPrefix(cust.DisplayName, "LINE ") {
		t.Errorf("expected placeholder name, got %q", cust.DisplayName)
	}
}

func TestResolveUnifiesChannelsByPhone(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	// A customer first seen on another channel, reachable only by phone.
	existing := &model.Customer{
		ID:          uuid.Must(uuid.NewV7()).String(),
		DisplayName: "Bob",
		Channel:     "web",
		State:       model.CustomerActive,
	}
	if err := st.CreateCustomer(ctx, existing); err != nil {
		t.Fatal(err)
	}
	if err := st.EnsureIdentifier(ctx, model.IdentifierPhone, "0912345678", existing.ID); err != nil {
		t.Fatal(err)
	}

	lc := &fakeLineClient{profiles: map[string]*line.Profile{
		"U999": {UserID: "U999", DisplayName: "Bob", StatusMessage: "call me 0912345678"},
	}}
	svc := NewIdentityService(st, lc, testLogger())

	cust, err := svc.Resolve(ctx, "U999")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cust.ID != existing.ID {
		t.Fatalf("expected merge into existing customer %s, got %s", existing.ID, cust.ID)
	}
	if cust.LineUserID != "U999" {
		t.Errorf("expected line user id attached, got %q", cust.LineUserID)
	}
	if n := len(st.Customers()); n != 1 {
		t.Errorf("merge created a duplicate, %d customers", n)
	}
	if !hasActivity(st.Activities(), existing.ID, model.ActivityChannelsUnified) {
		t.Error("expected channels_unified activity")
	}

	// Both identifiers now resolve to the same record.
	byLine, err := st.GetCustomerByIdentifier(ctx, model.IdentifierLine, "U999")
	if err != nil {
		t.Fatalf("line lookup: %v", err)
	}
	if byLine.ID != existing.ID {
		t.Error("line identifier resolves to wrong customer")
	}
}

func TestResolveRestoresArchivedCustomer(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	archived := &model.Customer{
		ID:          uuid.Must(uuid.NewV7()).String(),
		DisplayName: "Carol",
		LineUserID:  "U777",
		Channel:     "line",
		State:       model.CustomerArchived,
	}
	if err := st.CreateCustomer(ctx, archived); err != nil {
		t.Fatal(err)
	}
	if err := st.EnsureIdentifier(ctx, model.IdentifierLine, "U777", archived.ID); err != nil {
		t.Fatal(err)
	}

	svc := NewIdentityService(st, &fakeLineClient{profileErr: errors.New("api down")}, testLogger())

	cust, err := svc.Resolve(ctx, "U777")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cust.ID != archived.ID {
		t.Fatalf("expected archived customer restored, got new id %s", cust.ID)
	}
	if cust.State != model.CustomerActive {
		t.Errorf("expected active state after restore, got %s", cust.State)
	}
	if !hasActivity(st.Activities(), archived.ID, model.ActivityRestored) {
		t.Error("expected restored activity")
	}
}

// staleLookupStore serves ErrNotFound for the first n line-identifier lookups
// inside a transaction. It reproduces the interleaving where another
// resolution inserts the identifier between our lookup and our claim.
type staleLookupStore struct {
	*store.MemoryStore
	misses int
}

func (s *staleLookupStore) Transact(ctx context.Context, fn func(tx store.Store) error) error {
	return s.MemoryStore.Transact(ctx, func(tx store.Store) error {
		return fn(&staleLookupTx{Store: tx, owner: s})
	})
}

type staleLookupTx struct {
	store.Store
	owner *staleLookupStore
}

func (t *staleLookupTx) GetCustomerByIdentifier(ctx context.Context, typ model.IdentifierType, value string) (*model.Customer, error) {
	if typ == model.IdentifierLine && t.owner.misses > 0 {
		t.owner.misses--
		return nil, store.ErrNotFound
	}
	return t.Store.GetCustomerByIdentifier(ctx, typ, value)
}

func TestResolveRetriesWhenIdentifierClaimedConcurrently(t *testing.T) {
	base := store.NewMemory()
	ctx := context.Background()

	// The concurrent winner already owns the handle.
	winner := &model.Customer{
		ID:          uuid.Must(uuid.NewV7()).String(),
		DisplayName: "Dana",
		LineUserID:  "U555",
		Channel:     "line",
		State:       model.CustomerActive,
	}
	if err := base.CreateCustomer(ctx, winner); err != nil {
		t.Fatal(err)
	}
	if err := base.EnsureIdentifier(ctx, model.IdentifierLine, "U555", winner.ID); err != nil {
		t.Fatal(err)
	}

	st := &staleLookupStore{MemoryStore: base, misses: 1}
	svc := NewIdentityService(st, &fakeLineClient{profileErr: errors.New("api down")}, testLogger())

	cust, err := svc.Resolve(ctx, "U555")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cust.ID != winner.ID {
		t.Fatalf("expected resolution to the existing owner %s, got %s", winner.ID, cust.ID)
	}
	// The losing attempt rolled back instead of leaving a duplicate.
	if n := len(base.Customers()); n != 1 {
		t.Errorf("expected 1 customer after conflict retry, got %d", n)
	}
	got, err := base.GetCustomerByIdentifier(ctx, model.IdentifierLine, "U555")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != winner.ID {
		t.Errorf("identifier owner changed to %s, want %s", got.ID, winner.ID)
	}
}

func TestResolveRejectsEmptyHandle(t *testing.T) {
	svc := NewIdentityService(store.NewMemory(), &fakeLineClient{}, testLogger())
	if _, err := svc.Resolve(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty handle")
	}
}

// activityFailStore fails every activity append, knocking out the full
// resolution path while leaving the minimal one intact.
type activityFailStore struct {
	*store.MemoryStore
	err error
}

func (s *activityFailStore) AppendActivity(ctx context.Context, a *model.Activity) error {
	return s.err
}

func (s *activityFailStore) Transact(ctx context.Context, fn func(tx store.Store) error) error {
	return s.MemoryStore.Transact(ctx, func(tx store.Store) error {
		return fn(&activityFailTx{Store: tx, err: s.err})
	})
}

type activityFailTx struct {
	store.Store
	err error
}

func (t *activityFailTx) AppendActivity(ctx context.Context, a *model.Activity) error {
	return t.err
}

func TestResolveFallsBackToMinimalIdentity(t *testing.T) {
	base := store.NewMemory()
	st := &activityFailStore{MemoryStore: base, err: errors.New("activity table unavailable")}
	lc := &fakeLineClient{profiles: map[string]*line.Profile{
		"U123": {UserID: "U123", DisplayName: "Alice"},
	}}
	svc := NewIdentityService(st, lc, testLogger())

	cust, err := svc.Resolve(context.Background(), "U123")
	if err != nil {
		t.Fatalf("expected minimal fallback to succeed, got %v", err)
	}
	// Minimal creation skips enrichment.
	if !strings.HasPrefix(cust.DisplayName, "LINE ") {
		t.Errorf("expected placeholder name from minimal path, got %q", cust.DisplayName)
	}
	if _, err := base.GetCustomerByIdentifier(context.Background(), model.IdentifierLine, "U123"); err != nil {
		t.Errorf("minimal identity not persisted: %v", err)
	}
}

func TestExtractPhone(t *testing.T) {
	cases := map[string]string{
		"call me 0912345678 anytime": "0912345678",
		"0912345678":                 "0912345678",
		"no phone here":              "",
		"091234567":                  "",
		"0812345678":                 "",
	}
	for in, want := range cases {
		if got := ExtractPhone(in); got != want {
			t.Errorf("ExtractPhone(%q) = %q, want %q", in, got, want)
		}
	}
}
