package account

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Account is the remote record holding a user's credit balance. Guest
// accounts are bound to an installation; registered accounts to an
// authenticated identity.
type Account struct {
	types.Entity
	ID                   id.AccountID `json:"id"`
	Email                string       `json:"email,omitempty"`
	DisplayName          string       `json:"display_name,omitempty"`
	CreditBalance        int64        `json:"credit_balance"`
	IsGuest              bool         `json:"is_guest"`
	LinkedInstallationID string       `json:"linked_installation_id,omitempty"`
	MergedInto           id.AccountID `json:"merged_into"`
	// Version is the number of ledger entries applied to CreditBalance.
	Version int64 `json:"version"`
}

// IsMerged reports whether this guest's credits were carried into a
// registered account.
func (a *Account) IsMerged() bool { return !a.MergedInto.IsNil() }

// Clone returns a copy safe to hand to callers.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// Profile carries the optional user-facing fields of an account.
type Profile struct {
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	DisplayName string `json:"display_name,omitempty" validate:"omitempty,max=64"`
}

// FreeCreditClaim records that an installation's free credit has been
// carried into an account. At most one claim exists per installation.
type FreeCreditClaim struct {
	InstallationID string       `json:"installation_id"`
	AccountID      id.AccountID `json:"account_id"`
	ClaimedAt      time.Time    `json:"claimed_at"`
}
