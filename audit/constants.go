package audit

// Action constants for audit events.
const (
	// Rate actions
	ActionRateActivated = "rate.activated"

	// Token actions
	ActionTokenIssued   = "token.issued"
	ActionTokenRedeemed = "token.redeemed"

	// Balance actions
	ActionBalanceDebited = "balance.debited"
	ActionLowBalance     = "balance.low"

	// Reading actions
	ActionReadingRecorded = "reading.recorded"
	ActionReadingAmended  = "reading.amended"
)

// Resource constants for audit events.
const (
	ResourceRate     = "rate_schedule"
	ResourceToken    = "token"
	ResourceProperty = "property"
	ResourceReading  = "meter_reading"
)

// Category constants for audit events.
const (
	CategoryBilling  = "billing"
	CategoryVending  = "vending"
	CategoryMetering = "metering"
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
