package ledger

import (
	"context"

	"github.com/xraph/credits/id"
)

type Store interface {
	// AppendEntry fails with a conflict when (AccountID, Sequence) exists.
	AppendEntry(ctx context.Context, e *Entry) error
	GetEntryBySequence(ctx context.Context, accountID id.AccountID, sequence int64) (*Entry, error)
	GetEntryByReference(ctx context.Context, accountID id.AccountID, reference string) (*Entry, error)
	// ListEntries returns entries newest first.
	ListEntries(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Entry, error)
	// SumEntries returns the sum of amounts and the number of entries.
	SumEntries(ctx context.Context, accountID id.AccountID) (sum, count int64, err error)
	DeleteEntries(ctx context.Context, accountID id.AccountID) error
}

type ListOpts struct {
	Kind   Kind
	Limit  int
	Offset int
}
