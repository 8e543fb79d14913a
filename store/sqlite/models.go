package sqlite

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/xraph/grove"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/purchase"
	"github.com/xraph/credits/types"
)

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:credits_accounts"`

	ID                   string    `grove:"id,pk"`
	Email                string    `grove:"email"`
	DisplayName          string    `grove:"display_name"`
	CreditBalance        int64     `grove:"credit_balance"`
	IsGuest              bool      `grove:"is_guest"`
	LinkedInstallationID string    `grove:"linked_installation_id"`
	MergedInto           string    `grove:"merged_into"`
	Version              int64     `grove:"version"`
	CreatedAt            time.Time `grove:"created_at"`
	UpdatedAt            time.Time `grove:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:                   a.ID.String(),
		Email:                a.Email,
		DisplayName:          a.DisplayName,
		CreditBalance:        a.CreditBalance,
		IsGuest:              a.IsGuest,
		LinkedInstallationID: a.LinkedInstallationID,
		MergedInto:           a.MergedInto.String(),
		Version:              a.Version,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}

	var mergedInto id.AccountID
	if m.MergedInto != "" {
		mergedInto, err = id.ParseAccountID(m.MergedInto)
		if err != nil {
			return nil, err
		}
	}

	return &account.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                   accountID,
		Email:                m.Email,
		DisplayName:          m.DisplayName,
		CreditBalance:        m.CreditBalance,
		IsGuest:              m.IsGuest,
		LinkedInstallationID: m.LinkedInstallationID,
		MergedInto:           mergedInto,
		Version:              m.Version,
	}, nil
}

type freeCreditClaimModel struct {
	grove.BaseModel `grove:"table:credits_free_credit_claims"`

	InstallationID string    `grove:"installation_id,pk"`
	AccountID      string    `grove:"account_id"`
	ClaimedAt      time.Time `grove:"claimed_at"`
}

// ==================== Ledger models ====================

type entryModel struct {
	grove.BaseModel `grove:"table:credits_ledger_entries"`

	ID           string    `grove:"id,pk"`
	AccountID    string    `grove:"account_id"`
	Amount       int64     `grove:"amount"`
	Kind         string    `grove:"kind"`
	Description  string    `grove:"description"`
	Sequence     int64     `grove:"sequence"`
	BalanceAfter int64     `grove:"balance_after"`
	Reference    string    `grove:"reference"`
	Timestamp    time.Time `grove:"timestamp"`
}

func toEntryModel(e *ledger.Entry) *entryModel {
	return &entryModel{
		ID:           e.ID.String(),
		AccountID:    e.AccountID.String(),
		Amount:       e.Amount,
		Kind:         string(e.Kind),
		Description:  e.Description,
		Sequence:     e.Sequence,
		BalanceAfter: e.BalanceAfter,
		Reference:    e.Reference,
		Timestamp:    e.Timestamp,
	}
}

func fromEntryModel(m *entryModel) (*ledger.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}

	return &ledger.Entry{
		ID:           entryID,
		AccountID:    accountID,
		Amount:       m.Amount,
		Kind:         ledger.Kind(m.Kind),
		Description:  m.Description,
		Sequence:     m.Sequence,
		BalanceAfter: m.BalanceAfter,
		Reference:    m.Reference,
		Timestamp:    m.Timestamp,
	}, nil
}

// ==================== Purchase models ====================

type purchaseModel struct {
	grove.BaseModel `grove:"table:credits_purchases"`

	ID                  string          `grove:"id,pk"`
	AccountID           string          `grove:"account_id"`
	ProductID           string          `grove:"product_id"`
	CreditsGranted      int64           `grove:"credits_granted"`
	PriceAmount         decimal.Decimal `grove:"price_amount"`
	Currency            string          `grove:"currency"`
	VendorTransactionID string          `grove:"vendor_transaction_id"`
	IsRestored          bool            `grove:"is_restored"`
	Timestamp           time.Time       `grove:"timestamp"`
}

func toPurchaseModel(r *purchase.Record) *purchaseModel {
	return &purchaseModel{
		ID:                  r.ID.String(),
		AccountID:           r.AccountID.String(),
		ProductID:           r.ProductID,
		CreditsGranted:      r.CreditsGranted,
		PriceAmount:         r.Price.Amount,
		Currency:            r.Price.Currency,
		VendorTransactionID: r.VendorTransactionID,
		IsRestored:          r.IsRestored,
		Timestamp:           r.Timestamp,
	}
}

func fromPurchaseModel(m *purchaseModel) (*purchase.Record, error) {
	purchaseID, err := id.ParsePurchaseID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}

	return &purchase.Record{
		ID:                  purchaseID,
		AccountID:           accountID,
		ProductID:           m.ProductID,
		CreditsGranted:      m.CreditsGranted,
		Price:               types.Price{Amount: m.PriceAmount, Currency: m.Currency},
		VendorTransactionID: m.VendorTransactionID,
		IsRestored:          m.IsRestored,
		Timestamp:           m.Timestamp,
	}, nil
}
