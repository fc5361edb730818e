package domain

import "errors"

var (
	ErrInvalidOrganization   = errors.New("ledger_invalid_organization")
	ErrInvalidIdempotencyKey = errors.New("ledger_invalid_idempotency_key")
	ErrInvalidEntryLines     = errors.New("ledger_invalid_entry_lines")
	ErrInvalidAccountCode    = errors.New("ledger_invalid_account_code")
	ErrInvalidLineDirection  = errors.New("ledger_invalid_line_direction")
	ErrInvalidLineAmount     = errors.New("ledger_invalid_line_amount")
	ErrInvalidCurrency       = errors.New("ledger_invalid_currency")

	// ErrUnbalancedEntries is fatal: it signals a caller bug and must abort
	// before any row is written.
	ErrUnbalancedEntries = errors.New("ledger_unbalanced_entries")
)
