package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/purchase"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/types"
)

func newAccount(t *testing.T, s *memory.Store, guest bool, inst string) *account.Account {
	t.Helper()
	a := &account.Account{
		Entity:               types.NewEntity(),
		ID:                   id.NewAccountID(),
		IsGuest:              guest,
		LinkedInstallationID: inst,
	}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a
}

func TestCompareAndSwapBalance(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a := newAccount(t, s, false, "")

	if err := s.CompareAndSwapBalance(ctx, a.ID, 0, 5); err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if err := s.CompareAndSwapBalance(ctx, a.ID, 0, 9); !errors.Is(err, credits.ErrConflict) {
		t.Errorf("stale CAS: got %v, want ErrConflict", err)
	}

	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.CreditBalance != 5 || got.Version != 1 {
		t.Errorf("got balance=%d version=%d, want 5/1", got.CreditBalance, got.Version)
	}

	if err := s.CompareAndSwapBalance(ctx, id.NewAccountID(), 0, 1); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("missing account: got %v, want ErrAccountNotFound", err)
	}
}

func TestGetAccountReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a := newAccount(t, s, true, "inst")

	got, _ := s.GetAccount(ctx, a.ID)
	got.CreditBalance = 100

	again, _ := s.GetAccount(ctx, a.ID)
	if again.CreditBalance != 0 {
		t.Errorf("store state leaked through returned pointer: %d", again.CreditBalance)
	}
}

func TestGetGuestAccountSkipsMerged(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	guest := newAccount(t, s, true, "inst-1")
	registered := newAccount(t, s, false, "")

	got, err := s.GetGuestAccount(ctx, "inst-1")
	if err != nil {
		t.Fatalf("GetGuestAccount: %v", err)
	}
	if got.ID != guest.ID {
		t.Errorf("got %s, want %s", got.ID, guest.ID)
	}

	if err := s.MarkMerged(ctx, guest.ID, registered.ID); err != nil {
		t.Fatalf("MarkMerged: %v", err)
	}
	if _, err := s.GetGuestAccount(ctx, "inst-1"); !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("merged guest: got %v, want ErrAccountNotFound", err)
	}
}

func TestAppendEntryUniqueSequence(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	acct := id.NewAccountID()

	e := &ledger.Entry{ID: id.NewEntryID(), AccountID: acct, Amount: 1, Kind: ledger.KindBonus, Sequence: 1, Timestamp: time.Now()}
	if err := s.AppendEntry(ctx, e); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	dup := &ledger.Entry{ID: id.NewEntryID(), AccountID: acct, Amount: 2, Kind: ledger.KindBonus, Sequence: 1, Timestamp: time.Now()}
	if err := s.AppendEntry(ctx, dup); !errors.Is(err, credits.ErrConflict) {
		t.Errorf("duplicate sequence: got %v, want ErrConflict", err)
	}
}

func TestListEntriesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	acct := id.NewAccountID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	kinds := []ledger.Kind{ledger.KindBonus, ledger.KindPurchase, ledger.KindConsumption}
	for i, k := range kinds {
		e := &ledger.Entry{
			ID:        id.NewEntryID(),
			AccountID: acct,
			Amount:    1,
			Kind:      k,
			Sequence:  int64(i + 1),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendEntry(ctx, e); err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
	}

	all, err := s.ListEntries(ctx, acct, ledger.ListOpts{})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(all) != 3 || all[0].Kind != ledger.KindConsumption || all[2].Kind != ledger.KindBonus {
		t.Errorf("unexpected order: %+v", all)
	}

	purchases, _ := s.ListEntries(ctx, acct, ledger.ListOpts{Kind: ledger.KindPurchase})
	if len(purchases) != 1 {
		t.Errorf("kind filter: got %d entries, want 1", len(purchases))
	}

	page, _ := s.ListEntries(ctx, acct, ledger.ListOpts{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].Kind != ledger.KindPurchase {
		t.Errorf("pagination: got %+v", page)
	}

	sum, count, _ := s.SumEntries(ctx, acct)
	if sum != 3 || count != 3 {
		t.Errorf("SumEntries: got %d/%d, want 3/3", sum, count)
	}
}

func TestCreatePurchaseDedupesVendorTransaction(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	acct := id.NewAccountID()

	r := &purchase.Record{ID: id.NewPurchaseID(), AccountID: acct, ProductID: "pack10", CreditsGranted: 10, VendorTransactionID: "txn-1"}
	if err := s.CreatePurchase(ctx, r); err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	again := &purchase.Record{ID: id.NewPurchaseID(), AccountID: acct, ProductID: "pack10", CreditsGranted: 10, VendorTransactionID: "txn-1"}
	if err := s.CreatePurchase(ctx, again); !errors.Is(err, credits.ErrDuplicatePurchase) {
		t.Errorf("got %v, want ErrDuplicatePurchase", err)
	}
}

func TestClaimFreeCredit(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	first, second := id.NewAccountID(), id.NewAccountID()

	tests := []struct {
		name    string
		account id.AccountID
		want    bool
	}{
		{"first claim", first, true},
		{"same account again", first, true},
		{"other account", second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ClaimFreeCredit(ctx, "inst-1", tt.account)
			if err != nil {
				t.Fatalf("ClaimFreeCredit: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPingAfterClose(t *testing.T) {
	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, credits.ErrStoreClosed) {
		t.Errorf("got %v, want ErrStoreClosed", err)
	}
}
