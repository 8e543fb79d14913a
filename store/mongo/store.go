package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/purchase"
	creditsstore "github.com/xraph/credits/store"
)

// Collection name constants.
const (
	colAccounts  = "credits_accounts"
	colEntries   = "credits_ledger_entries"
	colPurchases = "credits_purchases"
	colClaims    = "credits_free_credit_claims"
)

// compile-time interface check
var _ creditsstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all credits collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: credits/mongo: %s indexes: %w", credits.ErrMigrationFailed, col, err)
		}
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credits.ErrAlreadyExists
		}
		return fmt.Errorf("credits/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": accountID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrAccountNotFound
		}
		return nil, fmt.Errorf("credits/mongo: get account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) GetGuestAccount(ctx context.Context, installationID string) (*account.Account, error) {
	var models []accountModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"linked_installation_id": installationID,
			"is_guest":               true,
			"merged_into":            "",
		}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get guest account: %w", err)
	}
	if len(models) == 0 {
		return nil, credits.ErrAccountNotFound
	}
	return fromAccountModel(&models[0])
}

func (s *Store) UpdateProfile(ctx context.Context, accountID id.AccountID, p account.Profile) error {
	res, err := s.mdb.NewUpdate((*accountModel)(nil)).
		Filter(bson.M{"_id": accountID.String()}).
		Set("email", p.Email).
		Set("display_name", p.DisplayName).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/mongo: update profile: %w", err)
	}
	if res.MatchedCount() == 0 {
		return credits.ErrAccountNotFound
	}
	return nil
}

func (s *Store) MarkRegistered(ctx context.Context, accountID id.AccountID, p account.Profile) error {
	res, err := s.mdb.NewUpdate((*accountModel)(nil)).
		Filter(bson.M{"_id": accountID.String()}).
		Set("is_guest", false).
		Set("email", p.Email).
		Set("display_name", p.DisplayName).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/mongo: mark registered: %w", err)
	}
	if res.MatchedCount() == 0 {
		return credits.ErrAccountNotFound
	}
	return nil
}

func (s *Store) MarkMerged(ctx context.Context, accountID, into id.AccountID) error {
	res, err := s.mdb.NewUpdate((*accountModel)(nil)).
		Filter(bson.M{"_id": accountID.String()}).
		Set("merged_into", into.String()).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/mongo: mark merged: %w", err)
	}
	if res.MatchedCount() == 0 {
		return credits.ErrAccountNotFound
	}
	return nil
}

// CompareAndSwapBalance is a conditional UpdateOne on the native collection.
func (s *Store) CompareAndSwapBalance(ctx context.Context, accountID id.AccountID, expectedVersion, newBalance int64) error {
	res, err := s.mdb.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"_id": accountID.String(), "version": expectedVersion},
		bson.M{"$set": bson.M{
			"credit_balance": newBalance,
			"version":        expectedVersion + 1,
			"updated_at":     now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("credits/mongo: cas balance: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return err
	}
	return credits.ErrConflict
}

func (s *Store) DeleteAccount(ctx context.Context, accountID id.AccountID) error {
	_, err := s.mdb.NewDelete((*accountModel)(nil)).
		Filter(bson.M{"_id": accountID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("credits/mongo: delete account: %w", err)
	}
	return nil
}

func (s *Store) ClaimFreeCredit(ctx context.Context, installationID string, accountID id.AccountID) (bool, error) {
	m := &freeCreditClaimModel{
		InstallationID: installationID,
		AccountID:      accountID.String(),
		ClaimedAt:      now(),
	}
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err == nil {
		return true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, fmt.Errorf("credits/mongo: claim free credit: %w", err)
	}

	var holder freeCreditClaimModel
	if err := s.mdb.NewFind(&holder).
		Filter(bson.M{"_id": installationID}).
		Scan(ctx); err != nil {
		return false, fmt.Errorf("credits/mongo: read free credit claim: %w", err)
	}
	return holder.AccountID == accountID.String(), nil
}

// ==================== Ledger Store ====================

func (s *Store) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	m := toEntryModel(e)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credits.ErrConflict
		}
		return fmt.Errorf("credits/mongo: append entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntryBySequence(ctx context.Context, accountID id.AccountID, sequence int64) (*ledger.Entry, error) {
	var m entryModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"account_id": accountID.String(), "sequence": sequence}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrEntryNotFound
		}
		return nil, fmt.Errorf("credits/mongo: get entry: %w", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) GetEntryByReference(ctx context.Context, accountID id.AccountID, reference string) (*ledger.Entry, error) {
	if reference == "" {
		return nil, credits.ErrEntryNotFound
	}
	var m entryModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"account_id": accountID.String(), "reference": reference}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrEntryNotFound
		}
		return nil, fmt.Errorf("credits/mongo: get entry by reference: %w", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) ListEntries(ctx context.Context, accountID id.AccountID, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	var models []entryModel

	filter := bson.M{"account_id": accountID.String()}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "timestamp", Value: -1}, {Key: "sequence", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("credits/mongo: list entries: %w", err)
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
	pipeline := bson.A{
		bson.M{"$match": bson.M{"account_id": accountID.String()}},
		bson.M{
			"$group": bson.M{
				"_id":   nil,
				"total": bson.M{"$sum": "$amount"},
				"count": bson.M{"$sum": 1},
			},
		},
	}

	cursor, err := s.mdb.Collection(colEntries).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("credits/mongo: sum entries: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int64 `bson:"total"`
		Count int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, 0, fmt.Errorf("credits/mongo: sum entries decode: %w", err)
	}

	if len(results) == 0 {
		return 0, 0, nil
	}
	return results[0].Total, results[0].Count, nil
}

func (s *Store) DeleteEntries(ctx context.Context, accountID id.AccountID) error {
	_, err := s.mdb.Collection(colEntries).DeleteMany(ctx, bson.M{"account_id": accountID.String()})
	if err != nil {
		return fmt.Errorf("credits/mongo: delete entries: %w", err)
	}
	return nil
}

// ==================== Purchase Store ====================

func (s *Store) CreatePurchase(ctx context.Context, r *purchase.Record) error {
	m := toPurchaseModel(r)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credits.ErrDuplicatePurchase
		}
		return fmt.Errorf("credits/mongo: create purchase: %w", err)
	}
	return nil
}

func (s *Store) GetPurchaseByVendorTransaction(ctx context.Context, vendorTransactionID string) (*purchase.Record, error) {
	var m purchaseModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"vendor_transaction_id": vendorTransactionID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, credits.ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("credits/mongo: get purchase: %w", err)
	}
	return fromPurchaseModel(&m)
}

func (s *Store) ListPurchases(ctx context.Context, accountID id.AccountID, opts purchase.ListOpts) ([]*purchase.Record, error) {
	var models []purchaseModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{"account_id": accountID.String()}).
		Sort(bson.D{{Key: "timestamp", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("credits/mongo: list purchases: %w", err)
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
	_, err := s.mdb.Collection(colPurchases).DeleteMany(ctx, bson.M{"account_id": accountID.String()})
	if err != nil {
		return fmt.Errorf("credits/mongo: delete purchases: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all credits collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{Keys: bson.D{{Key: "linked_installation_id", Value: 1}, {Key: "is_guest", Value: 1}, {Key: "merged_into", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colEntries: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "sequence", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "timestamp", Value: -1}}},
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "reference", Value: 1}},
				Options: options.Index().SetSparse(true),
			},
		},
		colPurchases: {
			{
				Keys:    bson.D{{Key: "vendor_transaction_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
		colClaims: {},
	}
}
