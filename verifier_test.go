package credits_test

import (
	"errors"
	"testing"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/lock"
	"github.com/xraph/credits/purchase"
)

func receipt(pack purchase.Pack, txn string) purchase.Receipt {
	return purchase.Receipt{ProductID: pack.ProductID, VendorTransactionID: txn}
}

func TestVerifyAndCreditVerifiedPack(t *testing.T) {
	h := newHarness(t)
	a := h.seedRegistered(t, 2)
	if _, err := h.r.ReconcileOnSignIn(h.ctx, a.ID, account.Profile{}); err != nil {
		t.Fatalf("ReconcileOnSignIn: %v", err)
	}
	h.billing.Settle(a.ID, pack10.ProductID, "txn-1")

	rec, err := h.v.VerifyAndCredit(h.ctx, receipt(pack10, "txn-1"), pack10)
	if err != nil {
		t.Fatalf("VerifyAndCredit: %v", err)
	}
	if rec.CreditsGranted != 10 || rec.AccountID != a.ID || rec.IsRestored {
		t.Errorf("record: got %+v", rec)
	}
	if !rec.Price.Equal(pack10.Price) {
		t.Errorf("price: got %s, want %s", rec.Price, pack10.Price)
	}

	if got := h.balance(t, a.ID); got != 12 {
		t.Errorf("balance: got %d, want 12", got)
	}
	purchases := h.entries(t, a.ID, ledger.KindPurchase)
	if len(purchases) != 2 || purchases[0].Amount != 10 || purchases[0].Reference != "txn-1" {
		t.Errorf("purchase entries: got %+v", purchases)
	}
	records, _ := h.r.Purchases(h.ctx, purchase.ListOpts{})
	if len(records) != 1 {
		t.Errorf("records: got %d, want 1", len(records))
	}
	if got := h.r.Current().Account.CreditBalance; got != 12 {
		t.Errorf("session balance: got %d, want 12", got)
	}
	h.assertConsistent(t, a.ID)

	_, err = h.v.VerifyAndCredit(h.ctx, receipt(pack10, "txn-1"), pack10)
	if !errors.Is(err, credits.ErrDuplicatePurchase) {
		t.Errorf("replay: got %v, want ErrDuplicatePurchase", err)
	}
	if got := h.balance(t, a.ID); got != 12 {
		t.Errorf("balance after replay: got %d, want 12", got)
	}
}

func TestVerifyAndCreditRequiresRegisteredAccount(t *testing.T) {
	h := newHarness(t)
	g := h.materialize(t)
	h.billing.Settle(g.ID, pack10.ProductID, "txn-guest")

	_, err := h.v.VerifyAndCredit(h.ctx, receipt(pack10, "txn-guest"), pack10)
	if !errors.Is(err, credits.ErrAuthenticationRequired) {
		t.Fatalf("got %v, want ErrAuthenticationRequired", err)
	}
	if n := h.billing.Calls(); n != 0 {
		t.Errorf("billing contacted %d times, want 0", n)
	}
	if got := h.balance(t, g.ID); got != 1 {
		t.Errorf("balance: got %d, want 1", got)
	}
}

func TestVerifyAndCreditRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness, txn string)
		receipt func(txn string) purchase.Receipt
		want    error
	}{
		{
			name:    "pending",
			setup:   func(h *harness, txn string) { h.billing.Hold(h.r.Current().Account.ID, pack10.ProductID, txn) },
			receipt: func(txn string) purchase.Receipt { return receipt(pack10, txn) },
			want:    credits.ErrPurchasePending,
		},
		{
			name:    "unverified",
			setup:   func(h *harness, txn string) { h.billing.Reject(h.r.Current().Account.ID, pack10.ProductID, txn) },
			receipt: func(txn string) purchase.Receipt { return receipt(pack10, txn) },
			want:    credits.ErrVerificationFailed,
		},
		{
			name:    "unknown transaction",
			setup:   func(*harness, string) {},
			receipt: func(txn string) purchase.Receipt { return receipt(pack10, txn) },
			want:    credits.ErrVerificationFailed,
		},
		{
			name:    "product mismatch",
			setup:   func(h *harness, txn string) { h.billing.Settle(h.r.Current().Account.ID, pack50.ProductID, txn) },
			receipt: func(txn string) purchase.Receipt { return receipt(pack10, txn) },
			want:    credits.ErrVerificationFailed,
		},
		{
			name:    "missing transaction id",
			setup:   func(*harness, string) {},
			receipt: func(string) purchase.Receipt { return purchase.Receipt{ProductID: pack10.ProductID} },
			want:    credits.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			a := h.signUp(t, "buyer@example.com")
			tt.setup(h, "txn-x")

			_, err := h.v.VerifyAndCredit(h.ctx, tt.receipt("txn-x"), pack10)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if got := h.balance(t, a.ID); got != a.CreditBalance {
				t.Errorf("balance: got %d, want %d", got, a.CreditBalance)
			}
			if n := len(h.entries(t, a.ID, ledger.KindPurchase)); n != 0 {
				t.Errorf("purchase entries: got %d, want 0", n)
			}
		})
	}
}

func TestVerifyAndCreditPendingThenSettled(t *testing.T) {
	h := newHarness(t)
	a := h.signUp(t, "patient@example.com")
	h.billing.Hold(a.ID, pack50.ProductID, "txn-slow")

	if _, err := h.v.VerifyAndCredit(h.ctx, receipt(pack50, "txn-slow"), pack50); !credits.IsRetryable(err) {
		t.Fatalf("pending: got %v, want retryable error", err)
	}

	h.billing.Settle(a.ID, pack50.ProductID, "txn-slow")
	if _, err := h.v.VerifyAndCredit(h.ctx, receipt(pack50, "txn-slow"), pack50); err != nil {
		t.Fatalf("settled: %v", err)
	}
	if got := h.balance(t, a.ID); got != a.CreditBalance+50 {
		t.Errorf("balance: got %d, want %d", got, a.CreditBalance+50)
	}
}

func TestVerifyAndCreditRetryDoesNotDoubleCredit(t *testing.T) {
	h := newHarness(t)
	a := h.signUp(t, "retry-buy@example.com")
	h.billing.Settle(a.ID, pack10.ProductID, "txn-r")
	h.store.failOnce("CreatePurchase", errors.New("connection reset"))

	_, err := h.v.VerifyAndCredit(h.ctx, receipt(pack10, "txn-r"), pack10)
	if !errors.Is(err, credits.ErrNetwork) {
		t.Fatalf("first attempt: got %v, want ErrNetwork", err)
	}

	if _, err := h.v.VerifyAndCredit(h.ctx, receipt(pack10, "txn-r"), pack10); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := h.balance(t, a.ID); got != a.CreditBalance+10 {
		t.Errorf("balance: got %d, want %d", got, a.CreditBalance+10)
	}
	if n := len(h.entries(t, a.ID, ledger.KindPurchase)); n != 1 {
		t.Errorf("purchase entries: got %d, want 1", n)
	}
	h.assertConsistent(t, a.ID)
}

func TestRestorePurchases(t *testing.T) {
	h := newHarness(t)
	a := h.signUp(t, "restore@example.com")

	h.billing.Settle(a.ID, pack10.ProductID, "txn-a")
	h.billing.Settle(a.ID, pack50.ProductID, "txn-b")
	h.billing.Hold(a.ID, pack10.ProductID, "txn-c")

	if _, err := h.v.VerifyAndCredit(h.ctx, receipt(pack10, "txn-a"), pack10); err != nil {
		t.Fatalf("VerifyAndCredit: %v", err)
	}

	restored, err := h.v.RestorePurchases(h.ctx)
	if err != nil {
		t.Fatalf("RestorePurchases: %v", err)
	}
	if len(restored) != 1 || restored[0].VendorTransactionID != "txn-b" || !restored[0].IsRestored {
		t.Fatalf("restored: got %+v", restored)
	}
	if got := h.balance(t, a.ID); got != a.CreditBalance+60 {
		t.Errorf("balance: got %d, want %d", got, a.CreditBalance+60)
	}

	again, err := h.v.RestorePurchases(h.ctx)
	if err != nil {
		t.Fatalf("second restore: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second restore: got %d records, want 0", len(again))
	}
	h.assertConsistent(t, a.ID)
}

func TestRestorePurchasesRequiresRegisteredAccount(t *testing.T) {
	h := newHarness(t)
	h.materialize(t)

	if _, err := h.v.RestorePurchases(h.ctx); !errors.Is(err, credits.ErrAuthenticationRequired) {
		t.Errorf("got %v, want ErrAuthenticationRequired", err)
	}
}

func TestProductsDropsInvalidPacks(t *testing.T) {
	h := newHarness(t)

	bad := purchase.Pack{ProductID: "broken", Credits: 0}
	v := credits.NewVerifier(h.r, billing.NewStatic(pack10, bad), lock.NewMemory())

	packs, err := v.Products(h.ctx)
	if err != nil {
		t.Fatalf("Products: %v", err)
	}
	if len(packs) != 1 || packs[0].ProductID != pack10.ProductID {
		t.Errorf("got %+v", packs)
	}
}
