package domain

import "github.com/shopspring/decimal"

// ValidateBalanced checks that debits equal credits per currency, exactly.
// Amounts are fixed-point decimals, so there is no epsilon tolerance: money
// must never be invented or destroyed by a posting.
func ValidateBalanced(entries []EntryInput) error {
	balances := make(map[string]decimal.Decimal, 2)
	for _, entry := range entries {
		switch entry.Direction {
		case DirectionDebit:
			balances[entry.Currency] = balances[entry.Currency].Add(entry.Amount)
		case DirectionCredit:
			balances[entry.Currency] = balances[entry.Currency].Sub(entry.Amount)
		default:
			return ErrInvalidLineDirection
		}
	}
	for _, balance := range balances {
		if !balance.IsZero() {
			return ErrUnbalancedEntries
		}
	}
	return nil
}
