package account

import (
	"context"

	"github.com/xraph/credits/id"
)

type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)
	// GetGuestAccount returns the installation's guest account that has not
	// been merged into a registered account.
	GetGuestAccount(ctx context.Context, installationID string) (*Account, error)
	UpdateProfile(ctx context.Context, accountID id.AccountID, p Profile) error
	// MarkRegistered flips IsGuest to false and applies the profile.
	MarkRegistered(ctx context.Context, accountID id.AccountID, p Profile) error
	MarkMerged(ctx context.Context, accountID, into id.AccountID) error
	// CompareAndSwapBalance sets the balance and advances the version by one
	// when the stored version equals expectedVersion.
	CompareAndSwapBalance(ctx context.Context, accountID id.AccountID, expectedVersion, newBalance int64) error
	DeleteAccount(ctx context.Context, accountID id.AccountID) error

	// ClaimFreeCredit records that installationID's free credit went to
	// accountID. It reports whether accountID holds the claim.
	ClaimFreeCredit(ctx context.Context, installationID string, accountID id.AccountID) (bool, error)
}
