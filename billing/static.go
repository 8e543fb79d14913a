package billing

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/purchase"
)

// Static is an in-memory Verifier over a fixed catalog. Transactions are
// registered with Settle, Hold or Reject. It backs development servers and
// tests.
type Static struct {
	mu       sync.RWMutex
	packs    []purchase.Pack
	txns     map[string]*Verification
	accounts map[string][]purchase.Receipt
	calls    int
}

// NewStatic creates a verifier selling packs.
func NewStatic(packs ...purchase.Pack) *Static {
	return &Static{
		packs:    packs,
		txns:     make(map[string]*Verification),
		accounts: make(map[string][]purchase.Receipt),
	}
}

// Settle registers a verified transaction for productID owned by accountID.
func (s *Static) Settle(accountID id.AccountID, productID, vendorTransactionID string) {
	s.set(accountID, productID, vendorTransactionID, OutcomeVerified)
}

// Hold registers a pending transaction.
func (s *Static) Hold(accountID id.AccountID, productID, vendorTransactionID string) {
	s.set(accountID, productID, vendorTransactionID, OutcomePending)
}

// Reject registers a transaction the vendor refuses to confirm.
func (s *Static) Reject(accountID id.AccountID, productID, vendorTransactionID string) {
	s.set(accountID, productID, vendorTransactionID, OutcomeUnverified)
}

// Calls returns how many times Verify has been called.
func (s *Static) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *Static) set(accountID id.AccountID, productID, txn string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &Verification{
		Outcome:             outcome,
		ProductID:           productID,
		VendorTransactionID: txn,
		Timestamp:           time.Now().UTC(),
	}
	if p, ok := FindPack(s.packs, productID); ok {
		v.Price = p.Price
	}
	if _, seen := s.txns[txn]; !seen {
		key := accountID.String()
		s.accounts[key] = append(s.accounts[key], purchase.Receipt{
			ProductID:           productID,
			VendorTransactionID: txn,
		})
	}
	s.txns[txn] = v
}

func (s *Static) Verify(_ context.Context, receipt purchase.Receipt) (*Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	v, ok := s.txns[receipt.VendorTransactionID]
	if !ok {
		return &Verification{
			Outcome:             OutcomeUnverified,
			ProductID:           receipt.ProductID,
			VendorTransactionID: receipt.VendorTransactionID,
		}, nil
	}
	cp := *v
	return &cp, nil
}

func (s *Static) Products(_ context.Context) ([]purchase.Pack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]purchase.Pack, len(s.packs))
	copy(out, s.packs)
	return out, nil
}

func (s *Static) History(_ context.Context, accountID id.AccountID) ([]purchase.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]purchase.Receipt, len(s.accounts[accountID.String()]))
	copy(out, s.accounts[accountID.String()])
	return out, nil
}

var _ Verifier = (*Static)(nil)
