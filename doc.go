// Package credits reconciles image-generation credits across guest and
// registered users of a mobile app.
//
// Credits is designed as a library, not a service. It provides:
//
//   - An installation-scoped local identity with a one-time free credit
//   - Guest accounts that are materialized lazily and retired on sign-up
//   - An append-only credit ledger with optimistic concurrency
//   - Server-verified purchases that are credited exactly once
//   - Pluggable stores (memory, SQLite, PostgreSQL, MongoDB)
//   - Lifecycle plugins, an audit hook and Prometheus metrics
//
// # Quick Start
//
//	ids := identity.NewStore(identity.NewFileBackend(path))
//	r := credits.New(memory.New(), ids, local.New(secret))
//	if err := r.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Stop()
//
//	guest, err := r.MaterializeGuestAccount(ctx)
//
// # Reconciliation
//
// Every fresh installation receives one local credit. The first time the
// installation signs up or signs in to an account that does not exist yet,
// that credit is carried into the account with a merge entry and the
// installation's free-credit latch is set. The latch never resets, and the
// carry-over is also claimed server-side per installation, so reinstalling or
// switching accounts cannot mint credits.
//
// # Ledger
//
// An account's balance changes only through AdjustBalance. Each change
// appends an entry whose sequence is the account's next version, then
// compare-and-swaps the balance. The balance therefore always equals the sum
// of the account's entries, and concurrent writers retry instead of losing
// updates.
//
// # Purchases
//
//	v := credits.NewVerifier(r, billingVerifier, lock.NewMemory())
//	rec, err := v.VerifyAndCredit(ctx, receipt, pack)
//
// Receipts are verified by the billing service before any credit is granted.
// A vendor transaction is recorded at most once; replays return
// ErrDuplicatePurchase.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account ID
//	cle_01h2xcejqtf2nbrexx3vqjhp41   // Ledger entry ID
//	pur_01h455vb4pex5vsknk084sn02q   // Purchase ID
package credits
