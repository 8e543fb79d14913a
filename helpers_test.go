package credits_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/auth"
	"github.com/xraph/credits/auth/local"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/identity"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/lock"
	"github.com/xraph/credits/purchase"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/types"
)

// flakyStore injects one-shot failures and blocking calls into a store.
type flakyStore struct {
	store.Store

	mu         sync.Mutex
	fails      map[string]error
	blockGuest bool
}

func (f *flakyStore) failOnce(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[method] = err
}

func (f *flakyStore) take(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.fails[method]
	delete(f.fails, method)
	return err
}

func (f *flakyStore) GetGuestAccount(ctx context.Context, installationID string) (*account.Account, error) {
	f.mu.Lock()
	block := f.blockGuest
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.take("GetGuestAccount"); err != nil {
		return nil, err
	}
	return f.Store.GetGuestAccount(ctx, installationID)
}

func (f *flakyStore) ClaimFreeCredit(ctx context.Context, installationID string, accountID id.AccountID) (bool, error) {
	if err := f.take("ClaimFreeCredit"); err != nil {
		return false, err
	}
	return f.Store.ClaimFreeCredit(ctx, installationID, accountID)
}

func (f *flakyStore) CreatePurchase(ctx context.Context, r *purchase.Record) error {
	if err := f.take("CreatePurchase"); err != nil {
		return err
	}
	return f.Store.CreatePurchase(ctx, r)
}

func (f *flakyStore) CompareAndSwapBalance(ctx context.Context, accountID id.AccountID, expectedVersion, newBalance int64) error {
	if err := f.take("CompareAndSwapBalance"); err != nil {
		return err
	}
	return f.Store.CompareAndSwapBalance(ctx, accountID, expectedVersion, newBalance)
}

type harness struct {
	ctx     context.Context
	r       *credits.Reconciler
	mem     *memory.Store
	store   *flakyStore
	ids     *identity.Store
	auth    *local.Provider
	billing *billing.Static
	v       *credits.Verifier
	seeded  int
}

var (
	pack10 = purchase.Pack{ProductID: "pack10", Title: "10 credits", Credits: 10, Price: types.MustPrice("4.99", "usd")}
	pack50 = purchase.Pack{ProductID: "pack50", Title: "50 credits", Credits: 50, Price: types.MustPrice("19.99", "usd")}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, opts ...credits.Option) *harness {
	t.Helper()

	mem := memory.New()
	fs := &flakyStore{Store: mem, fails: make(map[string]error)}
	ids := identity.NewStore(identity.NewMemoryBackend())
	provider := local.New("test-secret", local.WithBcryptCost(bcrypt.MinCost))
	b := billing.NewStatic(pack10, pack50)

	opts = append([]credits.Option{credits.WithLogger(discardLogger())}, opts...)
	r := credits.New(fs, ids, provider, opts...)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	return &harness{
		ctx:     context.Background(),
		r:       r,
		mem:     mem,
		store:   fs,
		ids:     ids,
		auth:    provider,
		billing: b,
		v:       credits.NewVerifier(r, b, lock.NewMemory()),
	}
}

func (h *harness) materialize(t *testing.T) *account.Account {
	t.Helper()
	a, err := h.r.MaterializeGuestAccount(h.ctx)
	if err != nil {
		t.Fatalf("MaterializeGuestAccount: %v", err)
	}
	return a
}

func (h *harness) signUp(t *testing.T, email string) *account.Account {
	t.Helper()
	a, err := h.r.SignUp(h.ctx, email, "password", account.Profile{})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	return a
}

// signInNew registers email with the provider only, so the account document
// does not exist yet, and reconciles the sign-in.
func (h *harness) signInNew(t *testing.T, email string) *account.Account {
	t.Helper()
	ident, err := h.auth.SignUp(h.ctx, email, "password")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	a, err := h.r.ReconcileOnSignIn(h.ctx, ident.AccountID, account.Profile{Email: email})
	if err != nil {
		t.Fatalf("ReconcileOnSignIn: %v", err)
	}
	return a
}

// linkingAuth upgrades a signed-in anonymous identity on sign-up, keeping
// its account id.
type linkingAuth struct {
	*local.Provider

	mu     sync.Mutex
	linked *auth.Identity
}

func (l *linkingAuth) SignUp(ctx context.Context, email, password string) (*auth.Identity, error) {
	cur, err := l.Provider.Current(ctx)
	if err != nil || !cur.Anonymous {
		return l.Provider.SignUp(ctx, email, password)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.linked = &auth.Identity{AccountID: cur.AccountID, Email: email, Token: cur.Token}
	cp := *l.linked
	return &cp, nil
}

func (l *linkingAuth) Current(ctx context.Context) (*auth.Identity, error) {
	l.mu.Lock()
	linked := l.linked
	l.mu.Unlock()
	if linked != nil {
		cp := *linked
		return &cp, nil
	}
	return l.Provider.Current(ctx)
}

func (l *linkingAuth) SignOut(ctx context.Context) error {
	l.mu.Lock()
	l.linked = nil
	l.mu.Unlock()
	return l.Provider.SignOut(ctx)
}

func newLinkingReconciler(t *testing.T) (*credits.Reconciler, *memory.Store, *identity.Store) {
	t.Helper()
	mem := memory.New()
	ids := identity.NewStore(identity.NewMemoryBackend())
	provider := &linkingAuth{Provider: local.New("test-secret", local.WithBcryptCost(bcrypt.MinCost))}
	r := credits.New(mem, ids, provider, credits.WithLogger(discardLogger()))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return r, mem, ids
}

func (h *harness) entries(t *testing.T, accountID id.AccountID, kind ledger.Kind) []*ledger.Entry {
	t.Helper()
	es, err := h.mem.ListEntries(h.ctx, accountID, ledger.ListOpts{Kind: kind})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	return es
}

func (h *harness) balance(t *testing.T, accountID id.AccountID) int64 {
	t.Helper()
	a, err := h.mem.GetAccount(h.ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return a.CreditBalance
}

func (h *harness) assertConsistent(t *testing.T, accountID id.AccountID) {
	t.Helper()
	if err := h.r.CheckConsistency(h.ctx, accountID); err != nil {
		t.Errorf("CheckConsistency: %v", err)
	}
}

func (h *harness) localCredits(t *testing.T) int64 {
	t.Helper()
	n, err := h.ids.LocalCredits()
	if err != nil {
		t.Fatalf("LocalCredits: %v", err)
	}
	return n
}
