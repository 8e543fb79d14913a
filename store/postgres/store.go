package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("credits/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: credits/postgres: %w", credits.ErrMigrationFailed, err)
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
	res, err := s.pg.NewInsert(m).
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
	err := s.pg.NewSelect(m).
		Where("id = $1", accountID.String()).
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
	err := s.pg.NewSelect(m).
		Where("linked_installation_id = $1", installationID).
		Where("is_guest = $2", true).
		Where("merged_into = $3", "").
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
	res, err := s.pg.NewUpdate((*accountModel)(nil)).
		Set("email = $1", p.Email).
		Set("display_name = $2", p.DisplayName).
		Set("updated_at = $3", now()).
		Where("id = $4", accountID.String()).
		Exec(ctx)
	return expectOne(res, err, credits.ErrAccountNotFound)
}

func (s *Store) MarkRegistered(ctx context.Context, accountID id.AccountID, p account.Profile) error {
	res, err := s.pg.NewUpdate((*accountModel)(nil)).
		Set("is_guest = $1", false).
		Set("email = $2", p.Email).
		Set("display_name = $3", p.DisplayName).
		Set("updated_at = $4", now()).
		Where("id = $5", accountID.String()).
		Exec(ctx)
	return expectOne(res, err, credits.ErrAccountNotFound)
}

func (s *Store) MarkMerged(ctx context.Context, accountID, into id.AccountID) error {
	res, err := s.pg.NewUpdate((*accountModel)(nil)).
		Set("merged_into = $1", into.String()).
		Set("updated_at = $2", now()).
		Where("id = $3", accountID.String()).
		Exec(ctx)
	return expectOne(res, err, credits.ErrAccountNotFound)
}

func (s *Store) CompareAndSwapBalance(ctx context.Context, accountID id.AccountID, expectedVersion, newBalance int64) error {
	res, err := s.pg.NewUpdate((*accountModel)(nil)).
		Set("credit_balance = $1", newBalance).
		Set("version = $2", expectedVersion+1).
		Set("updated_at = $3", now()).
		Where("id = $4", accountID.String()).
		Where("version = $5", expectedVersion).
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
	_, err := s.pg.NewDelete((*accountModel)(nil)).
		Where("id = $1", accountID.String()).
		Exec(ctx)
	return err
}

func (s *Store) ClaimFreeCredit(ctx context.Context, installationID string, accountID id.AccountID) (bool, error) {
	m := &freeCreditClaimModel{
		InstallationID: installationID,
		AccountID:      accountID.String(),
		ClaimedAt:      now(),
	}
	if _, err := s.pg.NewInsert(m).
		OnConflict("(installation_id) DO NOTHING").
		Exec(ctx); err != nil {
		return false, err
	}

	holder := new(freeCreditClaimModel)
	if err := s.pg.NewSelect(holder).
		Where("installation_id = $1", installationID).
		Scan(ctx); err != nil {
		return false, err
	}
	return holder.AccountID == accountID.String(), nil
}

// ==================== Ledger Store ====================

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	m := toEntryModel(e)
	res, err := s.pg.NewInsert(m).
		OnConflict("(account_id, sequence) DO NOTHING").
		Exec(ctx)
	return expectOne(res, err, credits.ErrConflict)
}

func (s *Store) GetEntryBySequence(ctx context.Context, accountID id.AccountID, sequence int64) (*ledger.Entry, error) {
	m := new(entryModel)
	err := s.pg.NewSelect(m).
		Where("account_id = $1", accountID.String()).
		Where("sequence = $2", sequence).
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
	err := s.pg.NewSelect(m).
		Where("account_id = $1", accountID.String()).
		Where("reference = $2", reference).
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
	q := s.pg.NewSelect(&models).Where("account_id = $1", accountID.String())

	if opts.Kind != "" {
		q = q.Where("kind = $2", string(opts.Kind))
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
	if err := s.pg.NewRaw(`
		SELECT COALESCE(SUM(amount), 0) FROM credits_ledger_entries WHERE account_id = $1
	`, accountID.String()).Scan(ctx, &sum); err != nil {
		return 0, 0, err
	}
	if err := s.pg.NewRaw(`
		SELECT COUNT(*) FROM credits_ledger_entries WHERE account_id = $1
	`, accountID.String()).Scan(ctx, &count); err != nil {
		return 0, 0, err
	}
	return sum, count, nil
}

func (s *Store) DeleteEntries(ctx context.Context, accountID id.AccountID) error {
	_, err := s.pg.NewDelete((*entryModel)(nil)).
		Where("account_id = $1", accountID.String()).
		Exec(ctx)
	return err
}

// ==================== Purchase Store ====================

func (s *Store) CreatePurchase(ctx context.Context, r *purchase.Record) error {
	m := toPurchaseModel(r)
	res, err := s.pg.NewInsert(m).
		OnConflict("(vendor_transaction_id) DO NOTHING").
		Exec(ctx)
	return expectOne(res, err, credits.ErrDuplicatePurchase)
}

func (s *Store) GetPurchaseByVendorTransaction(ctx context.Context, vendorTransactionID string) (*purchase.Record, error) {
	m := new(purchaseModel)
	err := s.pg.NewSelect(m).
		Where("vendor_transaction_id = $1", vendorTransactionID).
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
	q := s.pg.NewSelect(&models).Where("account_id = $1", accountID.String())

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
	_, err := s.pg.NewDelete((*purchaseModel)(nil)).
		Where("account_id = $1", accountID.String()).
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
