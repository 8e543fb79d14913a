package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountCreated  = "account.created"
	ActionAccountPromoted = "account.promoted"
	ActionAccountDeleted  = "account.deleted"
	ActionSignedOut       = "session.signed_out"

	// Ledger actions
	ActionBalanceAdjusted     = "balance.adjusted"
	ActionInsufficientCredits = "balance.insufficient"

	// Entitlement actions
	ActionEntitlementDenied = "entitlement.denied"

	// Purchase actions
	ActionPurchaseVerified = "purchase.verified"
	ActionPurchaseRejected = "purchase.rejected"

	// Generation actions
	ActionGenerationCompleted = "generation.completed"
)

// Resource constants for audit events.
const (
	ResourceAccount     = "account"
	ResourceLedger      = "ledger"
	ResourceEntitlement = "entitlement"
	ResourcePurchase    = "purchase"
	ResourceGeneration  = "generation"
)

// Category constants for audit events.
const (
	CategoryIdentity = "identity"
	CategoryCredits  = "credits"
	CategoryAccess   = "access"
	CategoryPayment  = "payment"
	CategoryUsage    = "usage"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
