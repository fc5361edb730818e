package domain

import "errors"

var (
	ErrLinkNotFound      = errors.New("payment_link_not_found")
	ErrInvalidAmount     = errors.New("payment_link_invalid_amount")
	ErrInvalidCurrency   = errors.New("payment_link_invalid_currency")
	ErrInvalidExpiry     = errors.New("payment_link_invalid_expiry")
	ErrInvalidOrg        = errors.New("payment_link_invalid_org")
	ErrInvalidTransition = errors.New("payment_link_invalid_transition")
)
