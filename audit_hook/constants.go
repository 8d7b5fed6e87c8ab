package audithook

// Action constants for audit events.
const (
	// Usage actions
	ActionUsageRecorded = "usage.recorded"
	ActionUsageReset    = "usage.reset"

	// Limit actions
	ActionLimitReached    = "limit.reached"
	ActionSeverityChanged = "severity.changed"

	// Entitlement actions
	ActionEntitlementDenied = "entitlement.denied"
)

// Resource constants for audit events.
const (
	ResourceUsage       = "usage"
	ResourceEntitlement = "entitlement"
)

// Category constants for audit events.
const (
	CategoryUsage  = "usage"
	CategoryAccess = "access"
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
