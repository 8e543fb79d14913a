package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/xraph/credits/account"
	audithook "github.com/xraph/credits/audit_hook"
	"github.com/xraph/credits/entitlement"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/purchase"
)

type sink struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (s *sink) Record(_ context.Context, e *audithook.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func TestEventsCarryDomainDetails(t *testing.T) {
	ctx := context.Background()
	s := &sink{}
	ext := audithook.New(s)

	a := &account.Account{ID: id.NewAccountID(), CreditBalance: 3}
	entry := &ledger.Entry{ID: id.NewEntryID(), AccountID: a.ID, Amount: 2, Kind: ledger.KindPurchase, Sequence: 4, BalanceAfter: 3}

	_ = ext.OnBalanceAdjusted(ctx, a, entry)
	_ = ext.OnPurchaseRejected(ctx, purchase.Receipt{ProductID: "pack10", VendorTransactionID: "txn-1"}, errors.New("pending"))

	if len(s.events) != 2 {
		t.Fatalf("events: got %d, want 2", len(s.events))
	}

	adjusted := s.events[0]
	if adjusted.Action != audithook.ActionBalanceAdjusted || adjusted.ResourceID != entry.ID.String() {
		t.Errorf("adjusted: got %+v", adjusted)
	}
	if adjusted.Metadata["kind"] != "purchase" || adjusted.Metadata["amount"] != int64(2) {
		t.Errorf("adjusted metadata: got %v", adjusted.Metadata)
	}

	rejected := s.events[1]
	if rejected.Outcome != audithook.OutcomeFailure || rejected.Reason != "pending" {
		t.Errorf("rejected: got %+v", rejected)
	}
}

func TestOnlyDeniedEntitlementsAreAudited(t *testing.T) {
	ctx := context.Background()
	s := &sink{}
	ext := audithook.New(s)

	_ = ext.OnEntitlementChecked(ctx, entitlement.Check("acct", 5, 1))
	_ = ext.OnEntitlementChecked(ctx, entitlement.Check("acct", 0, 1))

	if len(s.events) != 1 || s.events[0].Action != audithook.ActionEntitlementDenied {
		t.Fatalf("events: got %+v", s.events)
	}
	if s.events[0].Metadata["reason"] != entitlement.ReasonInsufficientCredits {
		t.Errorf("reason: got %v", s.events[0].Metadata["reason"])
	}
}

func TestActionFilters(t *testing.T) {
	ctx := context.Background()
	a := &account.Account{ID: id.NewAccountID()}

	tests := []struct {
		name string
		opt  audithook.Option
		want int
	}{
		{"all", nil, 2},
		{"enabled only", audithook.WithEnabledActions(audithook.ActionSignedOut), 1},
		{"disabled", audithook.WithDisabledActions(audithook.ActionSignedOut, audithook.ActionAccountCreated), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &sink{}
			var opts []audithook.Option
			if tt.opt != nil {
				opts = append(opts, tt.opt)
			}
			ext := audithook.New(s, opts...)

			_ = ext.OnAccountCreated(ctx, a)
			_ = ext.OnSignedOut(ctx, a.ID.String())

			if len(s.events) != tt.want {
				t.Errorf("events: got %d, want %d", len(s.events), tt.want)
			}
		})
	}
}

func TestRecorderFailureIsLogged(t *testing.T) {
	failing := audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("disk full")
	})
	ext := audithook.New(failing, audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := ext.OnAccountDeleted(context.Background(), "acct"); err != nil {
		t.Errorf("got %v, want nil", err)
	}
}
