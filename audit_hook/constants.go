package audithook

// Action constants for audit events.
const (
	// Governance actions
	ActionTreasuryInitialized = "treasury.initialized"
	ActionTreasuryPaused      = "treasury.paused"
	ActionTreasuryResumed     = "treasury.resumed"

	// Actor actions
	ActionActorRegistered = "actor.registered"

	// Settlement actions
	ActionDeposit  = "settlement.deposit"
	ActionWithdraw = "settlement.withdraw"
	ActionPay      = "settlement.pay"

	// Receipt actions
	ActionReceiptCreated = "receipt.created"
)

// Resource constants for audit events.
const (
	ResourceTreasury   = "treasury"
	ResourceActor      = "actor"
	ResourceSettlement = "settlement"
	ResourceReceipt    = "receipt"
)

// Category constants for audit events.
const (
	CategoryGovernance   = "governance"
	CategoryRegistration = "registration"
	CategorySettlement   = "settlement"
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
