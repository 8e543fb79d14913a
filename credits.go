package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/assets"
	"github.com/xraph/credits/auth"
	"github.com/xraph/credits/entitlement"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/identity"
	"github.com/xraph/credits/ledger"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/purchase"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/types"
)

const (
	// DefaultRemoteTimeout bounds every call to a remote dependency.
	DefaultRemoteTimeout = 15 * time.Second

	// DefaultMaxRetries is how often a conflicting balance update is retried.
	DefaultMaxRetries = 5

	// subscriberBuffer is the per-subscriber state channel capacity.
	subscriberBuffer = 8
)

// Reconciler owns the current session and is the only writer of balances.
type Reconciler struct {
	store    store.Store
	identity *identity.Store
	auth     auth.Provider
	plugins  *plugin.Registry
	logger   *slog.Logger
	objects  assets.ObjectStore
	clock    func() time.Time

	// Configuration
	remoteTimeout time.Duration
	maxRetries    int

	// Session transitions run one at a time.
	opMu sync.Mutex

	mu      sync.RWMutex
	state   account.State
	subs    map[int]chan account.State
	nextSub int
}

// New creates a Reconciler over the remote store, the installation's local
// identity and the authentication provider.
func New(s store.Store, ids *identity.Store, provider auth.Provider, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:         s,
		identity:      ids,
		auth:          provider,
		plugins:       plugin.NewRegistry(),
		logger:        slog.Default(),
		clock:         func() time.Time { return time.Now().UTC() },
		remoteTimeout: DefaultRemoteTimeout,
		maxRetries:    DefaultMaxRetries,
		state:         account.Uninitialized(),
		subs:          make(map[int]chan account.State),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Option configures a Reconciler instance.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
		r.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(r *Reconciler) {
		_ = r.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithRemoteTimeout sets the timeout applied to each remote call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.remoteTimeout = d
		}
	}
}

// WithMaxRetries sets how often a conflicting balance update is retried.
func WithMaxRetries(n int) Option {
	return func(r *Reconciler) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithObjectStore sets the object store cleaned up on account deletion.
func WithObjectStore(objects assets.ObjectStore) Option {
	return func(r *Reconciler) {
		r.objects = objects
	}
}

// WithClock overrides the time source for entries and records.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.clock = now
	}
}

// Start migrates the store and initializes plugins.
func (r *Reconciler) Start(ctx context.Context) error {
	if err := r.store.Migrate(ctx); err != nil {
		return err
	}

	r.plugins.EmitInit(ctx, r)

	r.logger.Info("credits reconciler started",
		"remote_timeout", r.remoteTimeout,
		"max_retries", r.maxRetries,
		"plugins", r.plugins.Count(),
	)

	return nil
}

// Stop closes subscriptions, shuts plugins down and closes the store.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	for key, ch := range r.subs {
		close(ch)
		delete(r.subs, key)
	}
	r.mu.Unlock()

	r.plugins.EmitShutdown(context.Background())

	return r.store.Close()
}

// Plugins returns the plugin registry.
func (r *Reconciler) Plugins() *plugin.Registry { return r.plugins }

// Store returns the remote store.
func (r *Reconciler) Store() store.Store { return r.store }

// Identity returns the local identity store.
func (r *Reconciler) Identity() *identity.Store { return r.identity }

// Logger returns the configured logger.
func (r *Reconciler) Logger() *slog.Logger { return r.logger }

// ──────────────────────────────────────────────────
// Session state
// ──────────────────────────────────────────────────

// Current returns the session state.
func (r *Reconciler) Current() account.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Subscribe returns a channel receiving the current state followed by every
// change. Slow subscribers skip intermediate states but always see the
// latest. Call cancel to unsubscribe.
func (r *Reconciler) Subscribe() (<-chan account.State, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan account.State, subscriberBuffer)
	key := r.nextSub
	r.nextSub++
	r.subs[key] = ch
	ch <- r.state

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[key]; ok {
			delete(r.subs, key)
			close(c)
		}
	}
}

func (r *Reconciler) setState(s account.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = s
	for _, ch := range r.subs {
		select {
		case ch <- s:
		default:
			// Drop the oldest state to make room.
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

// refreshCurrent republishes a if it is the session account.
func (r *Reconciler) refreshCurrent(a *account.Account) {
	r.mu.RLock()
	cur := r.state
	r.mu.RUnlock()

	if cur.IsReady() && cur.Account.ID == a.ID {
		r.setState(account.Ready(a))
	}
}

// currentAccount returns the session account or ErrNoSession.
func (r *Reconciler) currentAccount() (*account.Account, error) {
	cur := r.Current()
	if !cur.IsReady() {
		return nil, ErrNoSession
	}
	return cur.Account, nil
}

// ──────────────────────────────────────────────────
// Guest accounts
// ──────────────────────────────────────────────────

// MaterializeGuestAccount returns this installation's guest account,
// creating it on first use with the local credit balance as a bonus entry.
// It is idempotent: an account whose bonus was never applied is completed,
// never duplicated.
func (r *Reconciler) MaterializeGuestAccount(ctx context.Context) (*account.Account, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	return r.materialize(ctx)
}

func (r *Reconciler) materialize(ctx context.Context) (*account.Account, error) {
	r.setState(account.Loading())

	a, err := r.materializeGuest(ctx)
	if err != nil {
		r.setState(account.Failed(err))
		return nil, err
	}

	r.setState(account.Ready(a))
	return a, nil
}

func (r *Reconciler) materializeGuest(ctx context.Context) (*account.Account, error) {
	inst, err := r.identity.InstallationID()
	if err != nil {
		return nil, err
	}
	local, err := r.identity.LocalCredits()
	if err != nil {
		return nil, err
	}

	existing, err := remoteValue(ctx, r, "get guest account", func(ctx context.Context) (*account.Account, error) {
		return r.store.GetGuestAccount(ctx, inst)
	})
	switch {
	case err == nil:
		a, err := r.loadAccount(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		if a.Version == 0 && local > 0 {
			r.logger.Info("completing guest account bonus",
				"account_id", a.ID.String(),
				"installation_id", inst,
			)
			a, _, err = r.adjust(ctx, a.ID, local, ledger.KindBonus, "Initial guest credits", bonusReference(inst))
			if err != nil {
				return nil, err
			}
		}
		return a, nil
	case !errors.Is(err, ErrAccountNotFound):
		return nil, err
	}

	ident, err := remoteValue(ctx, r, "anonymous sign-in", r.auth.SignInAnonymously)
	if err != nil {
		return nil, err
	}

	a := &account.Account{
		Entity:               types.NewEntityAt(r.clock()),
		ID:                   ident.AccountID,
		IsGuest:              true,
		LinkedInstallationID: inst,
	}
	err = r.remote(ctx, "create guest account", func(ctx context.Context) error {
		return r.store.CreateAccount(ctx, a)
	})
	switch {
	case errors.Is(err, ErrAlreadyExists):
		if a, err = r.loadAccount(ctx, a.ID); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		r.plugins.EmitAccountCreated(ctx, a)
		r.logger.Info("guest account created",
			"account_id", a.ID.String(),
			"installation_id", inst,
		)
	}

	if a.Version == 0 && local > 0 {
		a, _, err = r.adjust(ctx, a.ID, local, ledger.KindBonus, "Initial guest credits", bonusReference(inst))
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// ──────────────────────────────────────────────────
// Promotion
// ──────────────────────────────────────────────────

// PromoteToAccount completes sign-up for accountID, which must be the auth
// provider's current registered identity. The installation's local credits
// are carried into the account if its free credit is unused, the current
// guest account is drained and retired, and the free-credit latch is set. A
// remote failure returns before the latch is touched, so the call can be
// retried.
func (r *Reconciler) PromoteToAccount(ctx context.Context, accountID id.AccountID, profile account.Profile) (*account.Account, error) {
	if err := validateStruct(profile); err != nil {
		return nil, err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := r.signedInAs(ctx, accountID); err != nil {
		return nil, err
	}
	return r.promoteNew(ctx, accountID, profile)
}

// ReconcileOnSignIn resolves the account for the signed-in identity
// accountID. An existing account is returned unchanged. Otherwise a new
// account is promoted with whatever is left of the installation's unused
// free credit.
func (r *Reconciler) ReconcileOnSignIn(ctx context.Context, accountID id.AccountID, profile account.Profile) (*account.Account, error) {
	if err := validateStruct(profile); err != nil {
		return nil, err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := r.signedInAs(ctx, accountID); err != nil {
		return nil, err
	}
	return r.reconcileSignIn(ctx, accountID, profile)
}

// SignUp registers email with the auth provider and promotes the new
// identity. An empty profile email defaults to email.
func (r *Reconciler) SignUp(ctx context.Context, email, password string, profile account.Profile) (*account.Account, error) {
	if profile.Email == "" {
		profile.Email = email
	}
	if err := validateStruct(profile); err != nil {
		return nil, err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	ident, err := remoteValue(ctx, r, "sign up", func(ctx context.Context) (*auth.Identity, error) {
		return r.auth.SignUp(ctx, email, password)
	})
	if err != nil {
		return nil, err
	}
	return r.promoteNew(ctx, ident.AccountID, profile)
}

// SignIn authenticates email with the auth provider and reconciles the
// signed-in account.
func (r *Reconciler) SignIn(ctx context.Context, email, password string) (*account.Account, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	ident, err := remoteValue(ctx, r, "sign in", func(ctx context.Context) (*auth.Identity, error) {
		return r.auth.SignIn(ctx, email, password)
	})
	if err != nil {
		return nil, err
	}
	return r.reconcileSignIn(ctx, ident.AccountID, account.Profile{Email: ident.Email})
}

// SessionToken returns the auth provider's token for the signed-in identity.
func (r *Reconciler) SessionToken(ctx context.Context) (string, error) {
	ident, err := remoteValue(ctx, r, "current identity", r.auth.Current)
	if errors.Is(err, auth.ErrNotSignedIn) {
		return "", ErrAuthenticationRequired
	}
	if err != nil {
		return "", err
	}
	return ident.Token, nil
}

// signedInAs fails unless accountID is the provider's current registered
// identity.
func (r *Reconciler) signedInAs(ctx context.Context, accountID id.AccountID) error {
	ident, err := remoteValue(ctx, r, "current identity", r.auth.Current)
	if errors.Is(err, auth.ErrNotSignedIn) {
		return ErrAuthenticationRequired
	}
	if err != nil {
		return err
	}
	if ident.Anonymous || ident.AccountID != accountID {
		return fmt.Errorf("%w: signed in as %s, not %s", ErrAuthenticationRequired, ident.AccountID, accountID)
	}
	return nil
}

// promoteNew carries the local balance when the latch is unused.
func (r *Reconciler) promoteNew(ctx context.Context, accountID id.AccountID, profile account.Profile) (*account.Account, error) {
	consumed, err := r.identity.HasConsumedFreeCredit()
	if err != nil {
		return nil, err
	}
	var initial int64
	if !consumed {
		if initial, err = r.identity.LocalCredits(); err != nil {
			return nil, err
		}
	}

	return r.promote(ctx, accountID, profile, initial, !consumed)
}

func (r *Reconciler) reconcileSignIn(ctx context.Context, accountID id.AccountID, profile account.Profile) (*account.Account, error) {
	existing, err := r.loadAccount(ctx, accountID)
	switch {
	case err == nil && !existing.IsGuest:
		r.setState(account.Ready(existing))
		return existing, nil
	case err == nil:
		return nil, fmt.Errorf("%w: %s is a guest account", ErrInvalidInput, accountID)
	case !errors.Is(err, ErrAccountNotFound):
		return nil, err
	}

	consumed, err := r.identity.HasConsumedFreeCredit()
	if err != nil {
		return nil, err
	}
	grant, err := r.identity.FreeCreditsAvailableForNewAccount()
	if err != nil {
		return nil, err
	}
	// A guest that already spent its free credit has nothing left to carry.
	local, err := r.identity.LocalCredits()
	if err != nil {
		return nil, err
	}
	grant = min(grant, local)

	return r.promote(ctx, accountID, profile, grant, !consumed)
}

func (r *Reconciler) promote(ctx context.Context, accountID id.AccountID, profile account.Profile, initial int64, latchUnused bool) (*account.Account, error) {
	inst, err := r.identity.InstallationID()
	if err != nil {
		return nil, err
	}

	a, created, inPlace, err := r.resolveRegistered(ctx, accountID, profile)
	if err != nil {
		return nil, err
	}
	// A retried in-place upgrade finds the account already registered.
	inPlace = inPlace || a.LinkedInstallationID == inst

	var carried int64
	if initial > 0 {
		claimed, err := remoteValue(ctx, r, "claim free credit", func(ctx context.Context) (bool, error) {
			return r.store.ClaimFreeCredit(ctx, inst, a.ID)
		})
		if err != nil {
			return nil, err
		}

		switch {
		case !claimed && inPlace:
			if a, err = r.revokeGuestBonus(ctx, a, inst, initial); err != nil {
				return nil, err
			}
		case !claimed:
			r.logger.Info("free credit already claimed by another account",
				"installation_id", inst,
				"account_id", a.ID.String(),
			)
		case inPlace:
			// The guest's bonus entry already holds the credit.
		default:
			ref := mergeReference(inst)
			_, err := remoteValue(ctx, r, "get merge entry", func(ctx context.Context) (*ledger.Entry, error) {
				return r.store.GetEntryByReference(ctx, a.ID, ref)
			})
			switch {
			case errors.Is(err, ErrEntryNotFound):
				if a, _, err = r.adjust(ctx, a.ID, initial, ledger.KindMerge, "Credits carried over from guest", ref); err != nil {
					return nil, err
				}
				carried = initial
			case err != nil:
				return nil, err
			}
		}
	}

	if !inPlace {
		if err := r.retireGuest(ctx, inst, a.ID); err != nil {
			return nil, err
		}
	}

	if latchUnused {
		if err := r.identity.MarkFreeCreditConsumed(); err != nil {
			return nil, err
		}
		if err := r.identity.SetLocalCredits(0); err != nil {
			return nil, err
		}
	}

	if a, err = r.loadAccount(ctx, a.ID); err != nil {
		return nil, err
	}

	if created {
		r.plugins.EmitAccountCreated(ctx, a)
	}
	r.plugins.EmitAccountPromoted(ctx, a, carried)
	r.logger.Info("account promoted",
		"account_id", a.ID.String(),
		"installation_id", inst,
		"carried_over", carried,
		"balance", a.CreditBalance,
	)

	r.setState(account.Ready(a))
	return a, nil
}

// revokeGuestBonus removes up to amount of the bonus an upgraded guest holds
// when another account already claimed the installation's free credit.
func (r *Reconciler) revokeGuestBonus(ctx context.Context, a *account.Account, inst string, amount int64) (*account.Account, error) {
	ref := revokeReference(inst)
	_, err := remoteValue(ctx, r, "get revoke entry", func(ctx context.Context) (*ledger.Entry, error) {
		return r.store.GetEntryByReference(ctx, a.ID, ref)
	})
	switch {
	case err == nil:
		return a, nil
	case !errors.Is(err, ErrEntryNotFound):
		return nil, err
	}

	amount = min(amount, a.CreditBalance)
	if amount <= 0 {
		return a, nil
	}
	r.logger.Info("free credit already claimed, revoking guest bonus",
		"installation_id", inst,
		"account_id", a.ID.String(),
		"amount", amount,
	)
	a, _, err = r.adjust(ctx, a.ID, -amount, ledger.KindMerge, "Free credit already claimed by another account", ref)
	return a, err
}

// resolveRegistered fetches or creates the registered account. A guest with
// the same id is upgraded in place.
func (r *Reconciler) resolveRegistered(ctx context.Context, accountID id.AccountID, profile account.Profile) (a *account.Account, created, inPlace bool, err error) {
	a, err = r.loadAccount(ctx, accountID)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		a = &account.Account{
			Entity:      types.NewEntityAt(r.clock()),
			ID:          accountID,
			Email:       profile.Email,
			DisplayName: profile.DisplayName,
		}
		err = r.remote(ctx, "create account", func(ctx context.Context) error {
			return r.store.CreateAccount(ctx, a)
		})
		if errors.Is(err, ErrAlreadyExists) {
			a, err = r.loadAccount(ctx, accountID)
			return a, false, false, err
		}
		return a, err == nil, false, err
	case err != nil:
		return nil, false, false, err
	case a.IsMerged():
		return nil, false, false, ErrAccountMerged
	case a.IsGuest:
		err = r.remote(ctx, "mark registered", func(ctx context.Context) error {
			return r.store.MarkRegistered(ctx, accountID, profile)
		})
		if err != nil {
			return nil, false, false, err
		}
		a.IsGuest = false
		a.Email = profile.Email
		a.DisplayName = profile.DisplayName
		return a, false, true, nil
	}
	return a, false, false, nil
}

// retireGuest drains the installation's guest account and marks it merged
// into target.
func (r *Reconciler) retireGuest(ctx context.Context, inst string, target id.AccountID) error {
	guest, err := remoteValue(ctx, r, "get guest account", func(ctx context.Context) (*account.Account, error) {
		return r.store.GetGuestAccount(ctx, inst)
	})
	if errors.Is(err, ErrAccountNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if guest.ID == target {
		return nil
	}

	if guest, err = r.loadAccount(ctx, guest.ID); err != nil {
		return err
	}
	if guest.CreditBalance > 0 {
		desc := "Credits carried over to " + target.String()
		if _, _, err := r.adjust(ctx, guest.ID, -guest.CreditBalance, ledger.KindMerge, desc, mergeReference(inst)); err != nil {
			return err
		}
	}

	return r.remote(ctx, "mark merged", func(ctx context.Context) error {
		return r.store.MarkMerged(ctx, guest.ID, target)
	})
}

// ──────────────────────────────────────────────────
// Sign-out and deletion
// ──────────────────────────────────────────────────

// ReconcileOnSignOut signs out and returns to the installation's guest
// account. Remote account data is left untouched.
func (r *Reconciler) ReconcileOnSignOut(ctx context.Context) (*account.Account, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	prev := r.Current()
	if err := r.remote(ctx, "sign out", r.auth.SignOut); err != nil {
		return nil, err
	}
	r.setState(account.Uninitialized())

	if prev.IsReady() {
		r.plugins.EmitSignedOut(ctx, prev.Account.ID.String())
	}

	return r.materialize(ctx)
}

// DeleteAccount deletes the registered session account, its ledger, its
// purchases and its auth identity, then returns to a guest account.
// Object-storage cleanup is best-effort.
func (r *Reconciler) DeleteAccount(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	a, err := r.currentAccount()
	if err != nil {
		return err
	}
	if a.IsGuest {
		return ErrAuthenticationRequired
	}

	steps := []struct {
		op string
		fn func(context.Context) error
	}{
		{"delete entries", func(ctx context.Context) error { return r.store.DeleteEntries(ctx, a.ID) }},
		{"delete purchases", func(ctx context.Context) error { return r.store.DeletePurchases(ctx, a.ID) }},
		{"delete account", func(ctx context.Context) error { return r.store.DeleteAccount(ctx, a.ID) }},
	}
	for _, step := range steps {
		if err := r.remote(ctx, step.op, step.fn); err != nil {
			return err
		}
	}

	err = r.remote(ctx, "delete identity", func(ctx context.Context) error {
		return r.auth.Delete(ctx, a.ID)
	})
	if err != nil && !errors.Is(err, auth.ErrUserNotFound) {
		return err
	}

	if r.objects != nil {
		err := r.remote(ctx, "delete uploads", func(ctx context.Context) error {
			return assets.NewCatalog(r.objects, 0).DeleteUser(ctx, a.ID)
		})
		if err != nil {
			r.logger.Warn("failed to delete account uploads",
				"account_id", a.ID.String(),
				"error", err,
			)
		}
	}

	r.plugins.EmitAccountDeleted(ctx, a.ID.String())
	r.logger.Info("account deleted", "account_id", a.ID.String())

	r.setState(account.Uninitialized())
	_, err = r.materialize(ctx)
	return err
}

// UpdateProfile changes the session account's email and display name.
func (r *Reconciler) UpdateProfile(ctx context.Context, profile account.Profile) (*account.Account, error) {
	if err := validateStruct(profile); err != nil {
		return nil, err
	}

	a, err := r.currentAccount()
	if err != nil {
		return nil, err
	}
	err = r.remote(ctx, "update profile", func(ctx context.Context) error {
		return r.store.UpdateProfile(ctx, a.ID, profile)
	})
	if err != nil {
		return nil, err
	}

	if a, err = r.loadAccount(ctx, a.ID); err != nil {
		return nil, err
	}
	r.refreshCurrent(a)
	return a, nil
}

// ──────────────────────────────────────────────────
// Balance
// ──────────────────────────────────────────────────

// AdjustBalance applies delta to the account's balance and records it in
// the ledger. It fails with ErrInsufficientCredits, writing nothing, if the
// balance would become negative.
func (r *Reconciler) AdjustBalance(ctx context.Context, accountID id.AccountID, delta int64, kind ledger.Kind, description string) (*account.Account, error) {
	a, _, err := r.adjust(ctx, accountID, delta, kind, description, "")
	return a, err
}

func (r *Reconciler) adjust(ctx context.Context, accountID id.AccountID, delta int64, kind ledger.Kind, description, reference string) (*account.Account, *ledger.Entry, error) {
	if delta == 0 {
		return nil, nil, ErrZeroDelta
	}
	if !kind.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		a, err := r.loadAccount(ctx, accountID)
		if err != nil {
			return nil, nil, err
		}
		if a.IsMerged() {
			return nil, nil, ErrAccountMerged
		}

		next := a.CreditBalance + delta
		if next < 0 {
			r.plugins.EmitInsufficientCredits(ctx, accountID.String(), a.CreditBalance, delta)
			return nil, nil, ErrInsufficientCredits
		}

		e := &ledger.Entry{
			ID:           id.NewEntryID(),
			AccountID:    accountID,
			Amount:       delta,
			Kind:         kind,
			Description:  description,
			Sequence:     a.Version + 1,
			BalanceAfter: next,
			Reference:    reference,
			Timestamp:    r.clock(),
		}

		err = r.remote(ctx, "append entry", func(ctx context.Context) error {
			return r.store.AppendEntry(ctx, e)
		})
		if errors.Is(err, ErrConflict) {
			r.logger.Debug("ledger sequence taken, retrying",
				"account_id", accountID.String(),
				"sequence", e.Sequence,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		err = r.remote(ctx, "update balance", func(ctx context.Context) error {
			return r.store.CompareAndSwapBalance(ctx, accountID, a.Version, next)
		})
		switch {
		case err == nil:
			a.CreditBalance = next
			a.Version = e.Sequence
			a.Touch()
		case errors.Is(err, ErrConflict):
			// Only our entry can advance this version, so a reader rolled it
			// forward first.
			if a, err = r.loadAccount(ctx, accountID); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, err
		}

		r.mirrorGuest(a)
		r.plugins.EmitBalanceAdjusted(ctx, a, e)
		r.refreshCurrent(a)

		r.logger.Debug("balance adjusted",
			"account_id", accountID.String(),
			"delta", delta,
			"kind", string(kind),
			"balance", a.CreditBalance,
			"sequence", e.Sequence,
		)
		return a, e, nil
	}

	return nil, nil, ErrConflict
}

// loadAccount reads an account, first applying any entry a crashed writer
// appended without updating the balance.
func (r *Reconciler) loadAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		a, err := remoteValue(ctx, r, "get account", func(ctx context.Context) (*account.Account, error) {
			return r.store.GetAccount(ctx, accountID)
		})
		if err != nil {
			return nil, err
		}

		pending, err := remoteValue(ctx, r, "get pending entry", func(ctx context.Context) (*ledger.Entry, error) {
			return r.store.GetEntryBySequence(ctx, accountID, a.Version+1)
		})
		if errors.Is(err, ErrEntryNotFound) {
			return a, nil
		}
		if err != nil {
			return nil, err
		}

		err = r.remote(ctx, "roll forward", func(ctx context.Context) error {
			return r.store.CompareAndSwapBalance(ctx, accountID, a.Version, pending.BalanceAfter)
		})
		if err != nil && !errors.Is(err, ErrConflict) {
			return nil, err
		}
		r.logger.Info("rolled forward pending ledger entry",
			"account_id", accountID.String(),
			"sequence", pending.Sequence,
		)
	}
	return nil, ErrConflict
}

// mirrorGuest copies this installation's guest balance to local storage.
func (r *Reconciler) mirrorGuest(a *account.Account) {
	if !a.IsGuest || a.IsMerged() {
		return
	}
	inst, err := r.identity.InstallationID()
	if err != nil || inst != a.LinkedInstallationID {
		return
	}
	if err := r.identity.SetLocalCredits(a.CreditBalance); err != nil {
		r.logger.Warn("failed to mirror guest balance",
			"account_id", a.ID.String(),
			"error", err,
		)
	}
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Entitled reports whether the session account can spend cost credits.
func (r *Reconciler) Entitled(ctx context.Context, cost int64) (*entitlement.Result, error) {
	cur, err := r.currentAccount()
	if err != nil {
		result := entitlement.Denied(entitlement.ReasonNoSession, cost)
		r.plugins.EmitEntitlementChecked(ctx, result)
		return result, nil
	}

	a, err := r.loadAccount(ctx, cur.ID)
	if err != nil {
		return nil, err
	}

	result := entitlement.Check(a.ID.String(), a.CreditBalance, cost)
	r.plugins.EmitEntitlementChecked(ctx, result)
	return result, nil
}

// Balance returns the session account's current balance.
func (r *Reconciler) Balance(ctx context.Context) (int64, error) {
	cur, err := r.currentAccount()
	if err != nil {
		return 0, err
	}
	a, err := r.loadAccount(ctx, cur.ID)
	if err != nil {
		return 0, err
	}
	r.refreshCurrent(a)
	return a.CreditBalance, nil
}

// History returns the session account's ledger, newest first.
func (r *Reconciler) History(ctx context.Context, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	cur, err := r.currentAccount()
	if err != nil {
		return nil, err
	}
	return remoteValue(ctx, r, "list entries", func(ctx context.Context) ([]*ledger.Entry, error) {
		return r.store.ListEntries(ctx, cur.ID, opts)
	})
}

// Purchases returns the session account's purchase records, newest first.
func (r *Reconciler) Purchases(ctx context.Context, opts purchase.ListOpts) ([]*purchase.Record, error) {
	cur, err := r.currentAccount()
	if err != nil {
		return nil, err
	}
	return remoteValue(ctx, r, "list purchases", func(ctx context.Context) ([]*purchase.Record, error) {
		return r.store.ListPurchases(ctx, cur.ID, opts)
	})
}

// CheckConsistency verifies that the account's balance equals the sum of its
// ledger and its version equals the entry count.
func (r *Reconciler) CheckConsistency(ctx context.Context, accountID id.AccountID) error {
	a, err := r.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}

	var sum, count int64
	err = r.remote(ctx, "sum entries", func(ctx context.Context) error {
		var err error
		sum, count, err = r.store.SumEntries(ctx, accountID)
		return err
	})
	if err != nil {
		return err
	}

	var errs MultiError
	if sum != a.CreditBalance {
		errs.Add(fmt.Errorf("credits: account %s balance %d != ledger sum %d", accountID, a.CreditBalance, sum))
	}
	if count != a.Version {
		errs.Add(fmt.Errorf("credits: account %s version %d != entry count %d", accountID, a.Version, count))
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func bonusReference(installationID string) string {
	return "bonus:" + installationID
}

func mergeReference(installationID string) string {
	return "merge:" + installationID
}

func revokeReference(installationID string) string {
	return "revoke:" + installationID
}
