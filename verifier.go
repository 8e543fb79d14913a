package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/lock"
	"github.com/xraph/credits/purchase"
)

// DefaultPurchaseLockTTL bounds how long one vendor transaction is locked.
const DefaultPurchaseLockTTL = time.Minute

// Verifier credits purchases after the billing service confirms them.
type Verifier struct {
	r       *Reconciler
	billing billing.Verifier
	locks   lock.Locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithLockTTL sets the per-transaction lock lifetime.
func WithLockTTL(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.lockTTL = d
		}
	}
}

// NewVerifier creates a purchase verifier crediting through r.
func NewVerifier(r *Reconciler, b billing.Verifier, locks lock.Locker, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		r:       r,
		billing: b,
		locks:   locks,
		lockTTL: DefaultPurchaseLockTTL,
		logger:  r.logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyAndCredit verifies receipt with the billing service and, once
// confirmed for expected, credits the session account and records the
// purchase. Guests must sign in first. Pending transactions return
// ErrPurchasePending and may be retried; replays return ErrDuplicatePurchase.
func (v *Verifier) VerifyAndCredit(ctx context.Context, receipt purchase.Receipt, expected purchase.Pack) (*purchase.Record, error) {
	if err := validateStruct(receipt); err != nil {
		return nil, err
	}
	if err := validateStruct(expected); err != nil {
		return nil, err
	}

	cur, err := v.r.currentAccount()
	if err != nil || cur.IsGuest {
		v.reject(ctx, receipt, ErrAuthenticationRequired)
		return nil, ErrAuthenticationRequired
	}

	release, err := v.acquire(ctx, receipt.VendorTransactionID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := v.verify(ctx, receipt)
	if err != nil {
		return nil, err
	}

	switch res.Outcome {
	case billing.OutcomeVerified:
		if res.ProductID != expected.ProductID || receipt.ProductID != expected.ProductID {
			err := fmt.Errorf("%w: product %q does not match %q", ErrVerificationFailed, res.ProductID, expected.ProductID)
			v.reject(ctx, receipt, err)
			return nil, err
		}
	case billing.OutcomePending:
		v.reject(ctx, receipt, ErrPurchasePending)
		return nil, ErrPurchasePending
	default:
		v.reject(ctx, receipt, ErrVerificationFailed)
		return nil, ErrVerificationFailed
	}

	rec, err := v.credit(ctx, cur.ID, expected, res, false)
	if errors.Is(err, ErrDuplicatePurchase) {
		v.reject(ctx, receipt, err)
	}
	return rec, err
}

// RestorePurchases credits every verified transaction the billing service
// holds for the session account that has not been recorded yet. Already
// recorded, pending and unverified transactions are skipped.
func (v *Verifier) RestorePurchases(ctx context.Context) ([]*purchase.Record, error) {
	cur, err := v.r.currentAccount()
	if err != nil || cur.IsGuest {
		return nil, ErrAuthenticationRequired
	}

	receipts, err := remoteValue(ctx, v.r, "purchase history", func(ctx context.Context) ([]purchase.Receipt, error) {
		return v.billing.History(ctx, cur.ID)
	})
	if err != nil {
		return nil, err
	}
	packs, err := v.Products(ctx)
	if err != nil {
		return nil, err
	}

	restored := make([]*purchase.Record, 0)
	var errs MultiError
	for _, receipt := range receipts {
		rec, err := v.restoreOne(ctx, cur.ID, receipt, packs)
		switch {
		case err != nil:
			errs.Add(fmt.Errorf("restore %s: %w", receipt.VendorTransactionID, err))
		case rec != nil:
			restored = append(restored, rec)
		}
	}

	v.logger.Info("purchases restored",
		"account_id", cur.ID.String(),
		"candidates", len(receipts),
		"restored", len(restored),
		"failed", len(errs.Errors),
	)

	if errs.HasErrors() {
		return restored, errs
	}
	return restored, nil
}

func (v *Verifier) restoreOne(ctx context.Context, accountID id.AccountID, receipt purchase.Receipt, packs []purchase.Pack) (*purchase.Record, error) {
	release, err := v.acquire(ctx, receipt.VendorTransactionID)
	if err != nil {
		return nil, err
	}
	defer release()

	_, err = remoteValue(ctx, v.r, "get purchase", func(ctx context.Context) (*purchase.Record, error) {
		return v.r.store.GetPurchaseByVendorTransaction(ctx, receipt.VendorTransactionID)
	})
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, ErrPurchaseNotFound) {
		return nil, err
	}

	res, err := v.verify(ctx, receipt)
	if err != nil {
		return nil, err
	}
	if res.Outcome != billing.OutcomeVerified {
		v.logger.Debug("skipping unconfirmed transaction",
			"vendor_transaction_id", receipt.VendorTransactionID,
			"outcome", string(res.Outcome),
		)
		return nil, nil
	}

	pack, ok := billing.FindPack(packs, res.ProductID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProductNotFound, res.ProductID)
	}
	return v.credit(ctx, accountID, pack, res, true)
}

// Products returns the valid purchasable packs.
func (v *Verifier) Products(ctx context.Context) ([]purchase.Pack, error) {
	packs, err := remoteValue(ctx, v.r, "list products", v.billing.Products)
	if err != nil {
		return nil, err
	}

	out := make([]purchase.Pack, 0, len(packs))
	for _, p := range packs {
		if err := validateStruct(p); err != nil {
			v.logger.Warn("skipping invalid product",
				"product_id", p.ProductID,
				"error", err,
			)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// credit applies pack to accountID and writes the purchase record. A
// purchase entry already carrying the transaction id is reused.
func (v *Verifier) credit(ctx context.Context, accountID id.AccountID, pack purchase.Pack, res *billing.Verification, restored bool) (*purchase.Record, error) {
	txn := res.VendorTransactionID

	_, err := remoteValue(ctx, v.r, "get purchase", func(ctx context.Context) (*purchase.Record, error) {
		return v.r.store.GetPurchaseByVendorTransaction(ctx, txn)
	})
	if err == nil {
		return nil, ErrDuplicatePurchase
	}
	if !errors.Is(err, ErrPurchaseNotFound) {
		return nil, err
	}

	_, err = remoteValue(ctx, v.r, "get purchase entry", func(ctx context.Context) (*ledger.Entry, error) {
		return v.r.store.GetEntryByReference(ctx, accountID, txn)
	})
	switch {
	case errors.Is(err, ErrEntryNotFound):
		desc := fmt.Sprintf("Purchased %d credits (%s)", pack.Credits, pack.ProductID)
		if _, _, err := v.r.adjust(ctx, accountID, pack.Credits, ledger.KindPurchase, desc, txn); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		v.logger.Info("reusing existing purchase entry", "vendor_transaction_id", txn)
	}

	price := pack.Price
	if res.Price.Currency != "" {
		price = res.Price
	}
	rec := &purchase.Record{
		ID:                  id.NewPurchaseID(),
		AccountID:           accountID,
		ProductID:           pack.ProductID,
		CreditsGranted:      pack.Credits,
		Price:               price,
		VendorTransactionID: txn,
		IsRestored:          restored,
		Timestamp:           v.r.clock(),
	}
	err = v.r.remote(ctx, "create purchase", func(ctx context.Context) error {
		return v.r.store.CreatePurchase(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	v.r.plugins.EmitPurchaseVerified(ctx, rec)
	v.logger.Info("purchase credited",
		"account_id", accountID.String(),
		"product_id", pack.ProductID,
		"credits", pack.Credits,
		"vendor_transaction_id", txn,
		"restored", restored,
	)
	return rec, nil
}

func (v *Verifier) verify(ctx context.Context, receipt purchase.Receipt) (*billing.Verification, error) {
	res, err := remoteValue(ctx, v.r, "verify purchase", func(ctx context.Context) (*billing.Verification, error) {
		return v.billing.Verify(ctx, receipt)
	})
	if errors.Is(err, billing.ErrUnknownTransaction) {
		err = fmt.Errorf("%w: %w", ErrVerificationFailed, err)
		v.reject(ctx, receipt, err)
		return nil, err
	}
	return res, err
}

func (v *Verifier) acquire(ctx context.Context, txn string) (func(), error) {
	release, err := remoteValue(ctx, v.r, "lock purchase", func(ctx context.Context) (func(), error) {
		return v.locks.Acquire(ctx, "purchase:"+txn, v.lockTTL)
	})
	if errors.Is(err, lock.ErrLocked) {
		return nil, ErrPurchaseLocked
	}
	return release, err
}

func (v *Verifier) reject(ctx context.Context, receipt purchase.Receipt, reason error) {
	v.r.plugins.EmitPurchaseRejected(ctx, receipt, reason)
	v.logger.Info("purchase rejected",
		"product_id", receipt.ProductID,
		"vendor_transaction_id", receipt.VendorTransactionID,
		"reason", reason,
	)
}
