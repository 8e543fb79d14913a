// Package midtrans verifies credit-pack payments against the Midtrans Core
// API transaction status endpoint.
package midtrans

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"

	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/purchase"
	"github.com/xraph/credits/types"
)

// StatusChecker is the subset of coreapi.Client used here.
type StatusChecker interface {
	CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// OrderSource lists the Midtrans order ids placed by an account.
type OrderSource func(ctx context.Context, accountID id.AccountID) ([]purchase.Receipt, error)

// Verifier implements billing.Verifier. Receipts carry the Midtrans order id
// as VendorTransactionID; the product is identified by its gross amount.
type Verifier struct {
	client StatusChecker
	packs  []purchase.Pack
	orders OrderSource
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithOrderSource sets where account purchase history is read from.
func WithOrderSource(src OrderSource) Option {
	return func(v *Verifier) { v.orders = src }
}

// New creates a verifier using a coreapi client for serverKey.
func New(serverKey string, env midtrans.EnvironmentType, packs []purchase.Pack, opts ...Option) *Verifier {
	var c coreapi.Client
	c.New(serverKey, env)
	return NewWithClient(&c, packs, opts...)
}

// NewWithClient creates a verifier over an existing status checker.
func NewWithClient(client StatusChecker, packs []purchase.Pack, opts ...Option) *Verifier {
	v := &Verifier{client: client, packs: packs}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Verify(ctx context.Context, receipt purchase.Receipt) (*billing.Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, merr := v.client.CheckTransaction(receipt.VendorTransactionID)
	if merr != nil {
		if merr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", billing.ErrUnknownTransaction, receipt.VendorTransactionID)
		}
		return nil, fmt.Errorf("midtrans: check transaction %s: %s", receipt.VendorTransactionID, merr.Message)
	}

	out := &billing.Verification{
		Outcome:             outcome(res.TransactionStatus, res.FraudStatus),
		VendorTransactionID: receipt.VendorTransactionID,
		Timestamp:           parseTime(res.TransactionTime),
	}

	currency := res.Currency
	if currency == "" {
		currency = "idr"
	}
	price, err := types.NewPrice(res.GrossAmount, currency)
	if err != nil {
		return nil, fmt.Errorf("midtrans: gross amount: %w", err)
	}
	out.Price = price

	out.ProductID = v.productFor(out.Price)
	return out, nil
}

func (v *Verifier) Products(_ context.Context) ([]purchase.Pack, error) {
	out := make([]purchase.Pack, len(v.packs))
	copy(out, v.packs)
	return out, nil
}

func (v *Verifier) History(ctx context.Context, accountID id.AccountID) ([]purchase.Receipt, error) {
	if v.orders == nil {
		return nil, nil
	}
	return v.orders(ctx, accountID)
}

func (v *Verifier) productFor(price types.Price) string {
	for _, p := range v.packs {
		if p.Price.Equal(price) {
			return p.ProductID
		}
	}
	return ""
}

// outcome maps a Midtrans transaction status to a billing outcome.
func outcome(status, fraud string) billing.Outcome {
	switch strings.ToLower(status) {
	case "settlement":
		return billing.OutcomeVerified
	case "capture":
		if fraud == "" || strings.EqualFold(fraud, "accept") {
			return billing.OutcomeVerified
		}
		if strings.EqualFold(fraud, "challenge") {
			return billing.OutcomePending
		}
		return billing.OutcomeUnverified
	case "pending", "authorize":
		return billing.OutcomePending
	default:
		return billing.OutcomeUnverified
	}
}

// parseTime reads Midtrans' "2006-01-02 15:04:05" timestamps (Jakarta time).
func parseTime(s string) time.Time {
	loc := time.FixedZone("WIB", 7*60*60)
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, loc)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}

var _ billing.Verifier = (*Verifier)(nil)
