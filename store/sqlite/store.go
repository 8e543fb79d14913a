package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/purchase"
	creditsstore "github.com/xraph/credits/store"
)

// compile-time interface check
var _ creditsstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("credits/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: credits/sqlite: %w", credits.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	m := toAccountModel(a)
	res, err := s.sdb.NewInsert(m).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return credits.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", accountID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) GetGuestAccount(ctx context.Context, installationID string) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("linked_installation_id = ?", installationID).
		Where("is_guest = ?", true).
		Where("merged_into = ?", "").
		OrderExpr("created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) UpdateProfile(ctx context.Context, accountID id.AccountID, p account.Profile) error {
	res, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("email = ?", p.Email).
		Set("display_name = ?", p.DisplayName).
		Set("updated_at = ?", now()).
		Where("id = ?", accountID.String()).
		Exec(ctx)
	return expectOne(res, err, credits.ErrAccountNotFound)
}

func (s *Store) MarkRegistered(ctx context.Context, accountID id.AccountID, p account.Profile) error {
	res, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("is_guest = ?", false).
		Set("email = ?", p.Email).
		Set("display_name = ?", p.DisplayName).
		Set("updated_at = ?", now()).
		Where("id = ?", accountID.String()).
		Exec(ctx)
	return expectOne(res, err, credits.ErrAccountNotFound)
}

func (s *Store) MarkMerged(ctx context.Context, accountID, into id.AccountID) error {
	res, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("merged_into = ?", into.String()).
		Set("updated_at = ?", now()).
		Where("id = ?", accountID.String()).
		Exec(ctx)
	return expectOne(res, err, credits.ErrAccountNotFound)
}

func (s *Store) CompareAndSwapBalance(ctx context.Context, accountID id.AccountID, expectedVersion, newBalance int64) error {
	res, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("credit_balance = ?", newBalance).
		Set("version = ?", expectedVersion+1).
		Set("updated_at = ?", now()).
		Where("id = ?", accountID.String()).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return err
	}
	return credits.ErrConflict
}

func (s *Store) DeleteAccount(ctx context.Context, accountID id.AccountID) error {
	_, err := s.sdb.NewDelete((*accountModel)(nil)).
		Where("id = ?", accountID.String()).
		Exec(ctx)
	return err
}

func (s *Store) ClaimFreeCredit(ctx context.Context, installationID string, accountID id.AccountID) (bool, error) {
	m := &freeCreditClaimModel{
		InstallationID: installationID,
		AccountID:      accountID.String(),
		ClaimedAt:      now(),
	}
	if _, err := s.sdb.NewInsert(m).
		OnConflict("(installation_id) DO NOTHING").
		Exec(ctx); err != nil {
		return false, err
	}

	holder := new(freeCreditClaimModel)
	if err := s.sdb.NewSelect(holder).
		Where("installation_id = ?", installationID).
		Scan(ctx); err != nil {
		return false, err
	}
	return holder.AccountID == accountID.String(), nil
}

// ==================== Ledger Store ====================

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	m := toEntryModel(e)
	res, err := s.sdb.NewInsert(m).
		OnConflict("(account_id, sequence) DO NOTHING").
		Exec(ctx)
	return expectOne(res, err, credits.ErrConflict)
}

func (s *Store) GetEntryBySequence(ctx context.Context, accountID id.AccountID, sequence int64) (*ledger.Entry, error) {
	m := new(entryModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID.String()).
		Where("sequence = ?", sequence).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrEntryNotFound
		}
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) GetEntryByReference(ctx context.Context, accountID id.AccountID, reference string) (*ledger.Entry, error) {
	if reference == "" {
		return nil, credits.ErrEntryNotFound
	}
	m := new(entryModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID.String()).
		Where("reference = ?", reference).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrEntryNotFound
		}
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) ListEntries(ctx context.Context, accountID id.AccountID, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	var models []entryModel
	q := s.sdb.NewSelect(&models).Where("account_id = ?", accountID.String())

	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("timestamp DESC, sequence DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*ledger.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) SumEntries(ctx context.Context, accountID id.AccountID) (int64, int64, error) {
	var sum, count int64
	if err := s.sdb.NewRaw(`
		SELECT COALESCE(SUM(amount), 0) FROM credits_ledger_entries WHERE account_id = ?
	`, accountID.String()).Scan(ctx, &sum); err != nil {
		return 0, 0, err
	}
	if err := s.sdb.NewRaw(`
		SELECT COUNT(*) FROM credits_ledger_entries WHERE account_id = ?
	`, accountID.String()).Scan(ctx, &count); err != nil {
		return 0, 0, err
	}
	return sum, count, nil
}

func (s *Store) DeleteEntries(ctx context.Context, accountID id.AccountID) error {
	_, err := s.sdb.NewDelete((*entryModel)(nil)).
		Where("account_id = ?", accountID.String()).
		Exec(ctx)
	return err
}

// ==================== Purchase Store ====================

func (s *Store) CreatePurchase(ctx context.Context, r *purchase.Record) error {
	m := toPurchaseModel(r)
	res, err := s.sdb.NewInsert(m).
		OnConflict("(vendor_transaction_id) DO NOTHING").
		Exec(ctx)
	return expectOne(res, err, credits.ErrDuplicatePurchase)
}

func (s *Store) GetPurchaseByVendorTransaction(ctx context.Context, vendorTransactionID string) (*purchase.Record, error) {
	m := new(purchaseModel)
	err := s.sdb.NewSelect(m).
		Where("vendor_transaction_id = ?", vendorTransactionID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, credits.ErrPurchaseNotFound
		}
		return nil, err
	}
	return fromPurchaseModel(m)
}

func (s *Store) ListPurchases(ctx context.Context, accountID id.AccountID, opts purchase.ListOpts) ([]*purchase.Record, error) {
	var models []purchaseModel
	q := s.sdb.NewSelect(&models).Where("account_id = ?", accountID.String())

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("timestamp DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*purchase.Record, len(models))
	for i := range models {
		r, err := fromPurchaseModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) DeletePurchases(ctx context.Context, accountID id.AccountID) error {
	_, err := s.sdb.NewDelete((*purchaseModel)(nil)).
		Where("account_id = ?", accountID.String()).
		Exec(ctx)
	return err
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

// expectOne maps a zero-row write to sentinel.
func expectOne(res rowsAffecter, err, sentinel error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sentinel
	}
	return nil
}
