package resilience

// Category is the shared failure taxonomy all provider-specific error
// shapes are mapped onto.
type Category string

const (
	CategoryNetwork     Category = "NETWORK"
	CategoryTimeout     Category = "TIMEOUT"
	CategoryRateLimit   Category = "RATE_LIMIT"
	CategoryAuth        Category = "AUTH"
	CategoryValidation  Category = "VALIDATION"
	CategoryNotFound    Category = "NOT_FOUND"
	CategoryServerError Category = "SERVER_ERROR"
	CategoryUnknown     Category = "UNKNOWN"
)

// Permanent reports whether retrying can never succeed without caller
// intervention.
func (c Category) Permanent() bool {
	switch c {
	case CategoryAuth, CategoryValidation, CategoryNotFound:
		return true
	default:
		return false
	}
}

// CountsTowardBreaker reports whether the failure should increment the
// circuit breaker. Caller mistakes must not open the circuit.
func (c Category) CountsTowardBreaker() bool {
	return !c.Permanent()
}

// External dependency names used as classifier and breaker keys.
const (
	ProviderCardRail   = "card_rail"
	ProviderLedgerRail = "ledger_rail"
	ProviderAcctSync   = "acct_sync"
	ProviderFxRates    = "fx_rates"
)
