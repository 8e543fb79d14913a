package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/purchase"
	"github.com/xraph/credits/store"
)

type Store struct {
	mu sync.RWMutex

	// Account storage
	accounts map[string]*account.Account

	// Ledger storage, keyed by account then sequence
	entries map[string]map[int64]*ledger.Entry

	// Purchase storage, keyed by vendor transaction id
	purchases map[string]*purchase.Record

	// Free-credit claims, keyed by installation id
	claims map[string]*account.FreeCreditClaim

	closed bool
}

func New() *Store {
	return &Store{
		accounts:  make(map[string]*account.Account),
		entries:   make(map[string]map[int64]*ledger.Entry),
		purchases: make(map[string]*purchase.Record),
		claims:    make(map[string]*account.FreeCreditClaim),
	}
}

// ──────────────────────────────────────────────────
// Account Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.accounts[a.ID.String()] = a.Clone()
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[accountID.String()]; ok {
		return a.Clone(), nil
	}
	return nil, credits.ErrAccountNotFound
}

func (s *Store) GetGuestAccount(_ context.Context, installationID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *account.Account
	for _, a := range s.accounts {
		if !a.IsGuest || a.IsMerged() || a.LinkedInstallationID != installationID {
			continue
		}
		// Oldest wins so concurrent creators converge on one account.
		if found == nil || a.CreatedAt.Before(found.CreatedAt) {
			found = a
		}
	}
	if found == nil {
		return nil, credits.ErrAccountNotFound
	}
	return found.Clone(), nil
}

func (s *Store) UpdateProfile(_ context.Context, accountID id.AccountID, p account.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID.String()]
	if !ok {
		return credits.ErrAccountNotFound
	}
	a.Email = p.Email
	a.DisplayName = p.DisplayName
	a.UpdatedAt = now()
	return nil
}

func (s *Store) MarkRegistered(_ context.Context, accountID id.AccountID, p account.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID.String()]
	if !ok {
		return credits.ErrAccountNotFound
	}
	a.IsGuest = false
	a.Email = p.Email
	a.DisplayName = p.DisplayName
	a.UpdatedAt = now()
	return nil
}

func (s *Store) MarkMerged(_ context.Context, accountID, into id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID.String()]
	if !ok {
		return credits.ErrAccountNotFound
	}
	a.MergedInto = into
	a.UpdatedAt = now()
	return nil
}

func (s *Store) CompareAndSwapBalance(_ context.Context, accountID id.AccountID, expectedVersion, newBalance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID.String()]
	if !ok {
		return credits.ErrAccountNotFound
	}
	if a.Version != expectedVersion {
		return credits.ErrConflict
	}
	a.CreditBalance = newBalance
	a.Version = expectedVersion + 1
	a.UpdatedAt = now()
	return nil
}

func (s *Store) DeleteAccount(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accounts, accountID.String())
	return nil
}

func (s *Store) ClaimFreeCredit(_ context.Context, installationID string, accountID id.AccountID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.claims[installationID]; ok {
		return c.AccountID == accountID, nil
	}
	s.claims[installationID] = &account.FreeCreditClaim{
		InstallationID: installationID,
		AccountID:      accountID,
		ClaimedAt:      now(),
	}
	return true, nil
}

// ──────────────────────────────────────────────────
// Ledger Store implementation
// ──────────────────────────────────────────────────

func (s *Store) AppendEntry(_ context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := e.AccountID.String()
	if s.entries[key] == nil {
		s.entries[key] = make(map[int64]*ledger.Entry)
	}
	if _, exists := s.entries[key][e.Sequence]; exists {
		return credits.ErrConflict
	}
	cp := *e
	s.entries[key][e.Sequence] = &cp
	return nil
}

func (s *Store) GetEntryBySequence(_ context.Context, accountID id.AccountID, sequence int64) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[accountID.String()][sequence]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, credits.ErrEntryNotFound
}

func (s *Store) GetEntryByReference(_ context.Context, accountID id.AccountID, reference string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries[accountID.String()] {
		if reference != "" && e.Reference == reference {
			cp := *e
			return &cp, nil
		}
	}
	return nil, credits.ErrEntryNotFound
}

func (s *Store) ListEntries(_ context.Context, accountID id.AccountID, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ledger.Entry, 0)
	for _, e := range s.entries[accountID.String()] {
		if opts.Kind == "" || e.Kind == opts.Kind {
			cp := *e
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Sequence > result[j].Sequence
		}
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) SumEntries(_ context.Context, accountID id.AccountID) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum, count int64
	for _, e := range s.entries[accountID.String()] {
		sum += e.Amount
		count++
	}
	return sum, count, nil
}

func (s *Store) DeleteEntries(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, accountID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Purchase Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreatePurchase(_ context.Context, r *purchase.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.purchases[r.VendorTransactionID]; exists {
		return credits.ErrDuplicatePurchase
	}
	cp := *r
	s.purchases[r.VendorTransactionID] = &cp
	return nil
}

func (s *Store) GetPurchaseByVendorTransaction(_ context.Context, vendorTransactionID string) (*purchase.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.purchases[vendorTransactionID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, credits.ErrPurchaseNotFound
}

func (s *Store) ListPurchases(_ context.Context, accountID id.AccountID, opts purchase.ListOpts) ([]*purchase.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*purchase.Record, 0)
	for _, r := range s.purchases {
		if r.AccountID == accountID {
			cp := *r
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) DeletePurchases(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, r := range s.purchases {
		if r.AccountID == accountID {
			delete(s.purchases, key)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return credits.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func now() time.Time {
	return time.Now().UTC()
}

var _ store.Store = (*Store)(nil)
